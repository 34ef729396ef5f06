package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"imaged/internal/dataset"
	"imaged/internal/engine"
	"imaged/internal/finetune"
	"imaged/internal/generate"
	"imaged/internal/prompt"
	"imaged/internal/registry"
	"imaged/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps well-known pipeline errors to HTTP status codes.
// Unrecognized errors map to 500.
func statusForError(err error) int {
	switch {
	case registry.IsUnknownModel(err), finetune.IsRunNotFound(err):
		return http.StatusNotFound
	case registry.IsDuplicateModel(err), finetune.IsRunState(err):
		return http.StatusConflict
	case registry.IsInvalidConfig(err), prompt.IsEmptyPrompt(err), generate.IsBadRequest(err),
		finetune.IsInvalidParams(err),
		dataset.IsManifestNotFound(err), dataset.IsManifestParseError(err), dataset.IsEmptyDataset(err):
		return http.StatusBadRequest
	case generate.IsTooBusy(err):
		return http.StatusTooManyRequests
	case engine.IsUnavailable(err), finetune.IsTrainingFailed(err):
		return http.StatusServiceUnavailable
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeError maps err through statusForError and emits the JSON payload.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("generate_queue")
	}
	writeJSONError(w, status, err.Error())
}
