package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/mapping"
	importservice "github.com/FACorreiaa/finance-importer/internal/domain/import/service"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string                   `json:"error"`
	Kind    importservice.ErrorKind  `json:"kind,omitempty"`
	Missing []string                 `json:"missing_fields,omitempty"`
	Config  *mapping.SuggestedConfig `json:"suggested_config,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func (h *ImportHandler) badRequest(w http.ResponseWriter, err error) {
	h.logger.Warn("rejected import request", "error", err)
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeServiceError maps the import error taxonomy onto HTTP statuses.
// An incomplete mapping is an expected interactive step and carries the
// suggested config so the caller can fill the gap.
func (h *ImportHandler) writeServiceError(w http.ResponseWriter, err error, preview *importservice.FilePreview) {
	if errors.Is(err, importservice.ErrNoFiles) {
		h.badRequest(w, err)
		return
	}

	fe := importservice.ClassifyError(err)
	body := errorResponse{Error: fe.Message, Kind: fe.Kind, Missing: fe.Missing}
	if preview != nil {
		body.Config = preview.Config
	}

	status := StatusFor(fe)
	if status >= http.StatusInternalServerError {
		h.logger.Error("import request failed", "kind", fe.Kind, "error", err)
		if fe.Kind == importservice.KindInternal {
			body.Error = http.StatusText(status)
		}
	}
	writeJSON(w, status, body)
}

// StatusFor returns the HTTP status of a file error.
func StatusFor(fe *importservice.FileError) int {
	switch {
	case fe.Kind == importservice.KindIncompleteMapping:
		return http.StatusUnprocessableEntity
	case fe.Structural(), fe.Kind == importservice.KindInvalidConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
