package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"imaged/internal/config"
	"imaged/internal/engine"
	"imaged/internal/finetune"
	"imaged/internal/generate"
	"imaged/internal/httpapi"
	"imaged/internal/registry"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envOr("IMAGED_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", envOr("IMAGED_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	modelsFile := flag.String("models-file", envOr("IMAGED_MODELS_FILE", ""), "Model registry file (.yaml/.json/.toml)")
	dataRoot := flag.String("data-root", envOr("IMAGED_DATA_ROOT", ""), "Root directory for relative dataset manifest paths")
	outputDir := flag.String("output-dir", envOr("IMAGED_OUTPUT_DIR", "generated_images"), "Directory for generated images")
	checkpointDir := flag.String("checkpoint-dir", envOr("IMAGED_CHECKPOINT_DIR", "checkpoints"), "Directory for fine-tuning checkpoints")
	defaultModel := flag.String("default-model", envOr("IMAGED_DEFAULT_MODEL", ""), "Default model id when request omits model")
	maxImages := flag.Int("max-images", 0, "Maximum images per generation request (0=default)")
	checkpointKeep := flag.Int("checkpoint-keep", 0, "Checkpoints retained per run (0=default)")
	maxQueueDepth := flag.Int("max-queue-depth", 0, "Queued generation requests per model (0=default)")
	maxWaitSeconds := flag.Int("max-wait-seconds", 0, "Queue wait before 429 (0=default)")
	corsOrigins := flag.String("cors-origins", envOr("IMAGED_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins (empty disables CORS)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Config file fills in anything the flags left unset.
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		applyString(addr, cfg.Addr, ":8080")
		applyString(modelsFile, cfg.ModelsFile, "")
		applyString(dataRoot, cfg.DataRoot, "")
		applyString(outputDir, cfg.OutputDir, "generated_images")
		applyString(checkpointDir, cfg.CheckpointDir, "checkpoints")
		applyString(defaultModel, cfg.DefaultModel, "")
		applyInt(maxImages, cfg.MaxImages)
		applyInt(checkpointKeep, cfg.CheckpointKeep)
		applyInt(maxQueueDepth, cfg.MaxQueueDepth)
		applyInt(maxWaitSeconds, cfg.MaxWaitSeconds)
	}

	models := registry.New()
	if *modelsFile != "" {
		loaded, err := registry.LoadFile(*modelsFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *modelsFile).Msg("failed to load model registry")
		}
		models = loaded
	}

	engines := engine.Default()

	gen := generate.New(models, engines, generate.Config{
		OutputDir:     *outputDir,
		DefaultModel:  *defaultModel,
		MaxImages:     *maxImages,
		MaxQueueDepth: *maxQueueDepth,
		MaxWait:       time.Duration(*maxWaitSeconds) * time.Second,
		Logger:        logger,
	})
	ft := finetune.New(models, engines, finetune.Config{
		CheckpointDir:   *checkpointDir,
		KeepCheckpoints: *checkpointKeep,
		Logger:          logger,
	})

	httpapi.SetLogger(logger)
	if *corsOrigins != "" {
		httpapi.SetCORSOptions(true,
			strings.Split(*corsOrigins, ","),
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Content-Type", "X-Log-Level"},
		)
	}

	// Base context canceled on shutdown so in-flight work stops too.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(&httpapi.API{
		Models:   models,
		Generate: gen,
		Finetune: ft,
		DataRoot: *dataRoot,
	})
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", *addr).Int("models", models.Len()).Msg("imaged listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	baseCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
}

// applyString keeps the flag value unless it still holds def and the config
// file provides one.
func applyString(flagVal *string, cfgVal, def string) {
	if *flagVal == def && cfgVal != "" {
		*flagVal = cfgVal
	}
}

func applyInt(flagVal *int, cfgVal int) {
	if *flagVal == 0 && cfgVal != 0 {
		*flagVal = cfgVal
	}
}
