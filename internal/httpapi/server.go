package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imaged/internal/common/fsutil"
	"imaged/internal/dataset"
	"imaged/internal/finetune"
	"imaged/pkg/types"
)

// Generator is the generation pipeline surface required by the HTTP layer.
type Generator interface {
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
}

// Trainer is the fine-tuning pipeline surface required by the HTTP layer.
type Trainer interface {
	Start(ctx context.Context, params finetune.Params) (*finetune.Run, error)
	Get(id string) (*finetune.Run, error)
	List() []types.RunStatus
	Cancel(id string) error
}

// ModelStore is the registry surface required by the HTTP layer.
type ModelStore interface {
	List() []types.ModelConfig
	Register(cfg types.ModelConfig, overwrite bool) error
}

// API bundles the subsystems served over HTTP.
type API struct {
	Models   ModelStore
	Generate Generator
	Finetune Trainer
	// DataRoot anchors relative manifest paths from fine-tune requests.
	DataRoot string
	// Ready gates /readyz; nil means always ready.
	Ready func() bool
}

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}

// NewMux builds the router: model registry, generation, fine-tuning, health
// and metrics endpoints.
func NewMux(api *API) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", api.handleListModels)
	r.Post("/models", api.handleRegisterModel)
	r.Post("/generate", api.handleGenerate)
	r.Post("/finetune", api.handleStartFinetune)
	r.Get("/finetune", api.handleListRuns)
	r.Get("/finetune/{id}", api.handleGetRun)
	r.Post("/finetune/{id}/cancel", api.handleCancelRun)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if api.Ready == nil || api.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSON enforces the JSON content type and body size limit before
// decoding into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleListModels godoc
// @Summary  List registered models
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func (api *API) handleListModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: api.Models.List()}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// handleRegisterModel godoc
// @Summary  Register a model configuration
// @Accept   json
// @Produce  json
// @Param    request body types.RegisterRequest true "model config"
// @Success  201 {object} types.ModelConfig
// @Failure  400 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Router   /models [post]
func (api *API) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := api.Models.Register(req.Config, req.Overwrite); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(req.Config)
}

// handleGenerate godoc
// @Summary  Generate images from a text prompt
// @Accept   json
// @Produce  json
// @Param    request body types.GenerateRequest true "generation request"
// @Success  200 {object} types.GenerateResponse
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /generate [post]
func (api *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	if lvl >= LevelInfo && zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path).Str("model", req.Model)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("generate start")
	}
	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := api.Generate.Generate(ctx, req)
	if err != nil {
		// Client disconnect or shutdown: nothing useful to write.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		writeError(w, err)
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Int("status", statusForError(err)).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Err(err).Msg("generate end")
		}
		return
	}
	imagesGenerated.Add(float64(len(resp.Images)))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	if lvl >= LevelInfo && zlog != nil {
		z := zlog.Info().Int("status", 200).Int("images", len(resp.Images)).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("generate end")
	}
}

// handleStartFinetune godoc
// @Summary  Start a fine-tuning run
// @Accept   json
// @Produce  json
// @Param    request body types.FinetuneRequest true "fine-tuning request"
// @Success  202 {object} types.RunStatus
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /finetune [post]
func (api *API) handleStartFinetune(w http.ResponseWriter, r *http.Request) {
	var req types.FinetuneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ds, err := dataset.Load(api.manifestPath(req.Manifest))
	if err != nil {
		runsStarted.WithLabelValues("rejected").Inc()
		writeError(w, err)
		return
	}
	// The run outlives the request; only server shutdown cancels it.
	run, err := api.Finetune.Start(serverBaseCtx, finetune.Params{
		BaseModel:       req.Model,
		Dataset:         ds,
		Hyperparameters: req.Hyperparameters,
		ResumeFrom:      req.ResumeFrom,
		Promote:         req.Promote,
	})
	if err != nil {
		runsStarted.WithLabelValues("rejected").Inc()
		writeError(w, err)
		return
	}
	runsStarted.WithLabelValues("started").Inc()
	if zlog != nil {
		zlog.Info().Str("run", run.ID).Str("model", req.Model).Msg("fine-tuning accepted")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(run.Status())
}

// manifestPath anchors relative manifest paths at DataRoot.
func (api *API) manifestPath(p string) string {
	if expanded, err := fsutil.ExpandHome(p); err == nil {
		p = expanded
	}
	if filepath.IsAbs(p) || api.DataRoot == "" {
		return p
	}
	return filepath.Join(api.DataRoot, p)
}

// handleListRuns godoc
// @Summary  List fine-tuning runs
// @Produce  json
// @Success  200 {array} types.RunStatus
// @Router   /finetune [get]
func (api *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(api.Finetune.List())
}

// handleGetRun godoc
// @Summary  Get fine-tuning run status
// @Produce  json
// @Param    id path string true "run id"
// @Success  200 {object} types.RunStatus
// @Failure  404 {object} types.ErrorResponse
// @Router   /finetune/{id} [get]
func (api *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.Finetune.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run.Status())
}

// handleCancelRun godoc
// @Summary  Cancel a fine-tuning run
// @Produce  json
// @Param    id path string true "run id"
// @Success  202 {object} types.RunStatus
// @Failure  404 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Router   /finetune/{id}/cancel [post]
func (api *API) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := api.Finetune.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	run, err := api.Finetune.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(run.Status())
}
