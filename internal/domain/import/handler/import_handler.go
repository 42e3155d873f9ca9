// Package handler exposes the import service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-importer/internal/domain/import/service"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultMaxBatchFiles  = 10
)

// Importer is the part of the import service the handler calls.
type Importer interface {
	Preview(ctx context.Context, req importservice.PreviewRequest) (*importservice.FilePreview, error)
	Confirm(ctx context.Context, req importservice.ConfirmRequest) (*importservice.ImportResult, error)
	BatchUpload(ctx context.Context, reqs []importservice.PreviewRequest) (*importservice.BatchPreview, error)
	BatchConfirm(ctx context.Context, req importservice.BatchConfirmRequest) (*importservice.ImportResult, error)
	AutoDetect(ctx context.Context, file importservice.RawFile, accountSource string) (*importservice.AutoDetectResult, error)
	CustomPreview(ctx context.Context, file importservice.RawFile, cfg repository.ImportConfig) (*importservice.CustomPreviewResult, error)
	CustomConfirm(ctx context.Context, req importservice.CustomConfirmRequest) (*importservice.ImportResult, error)
	ListConfigs(ctx context.Context) ([]repository.SavedCustomFormat, error)
}

var _ Importer = (*importservice.ImportService)(nil)

// Options bound request sizes. Zero values use the defaults.
type Options struct {
	MaxUploadBytes int64
	MaxBatchFiles  int
}

// ImportHandler handles the import REST endpoints
type ImportHandler struct {
	importSvc Importer
	opts      Options
	logger    *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc Importer, opts Options, logger *slog.Logger) *ImportHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.MaxBatchFiles <= 0 {
		opts.MaxBatchFiles = defaultMaxBatchFiles
	}
	return &ImportHandler{importSvc: importSvc, opts: opts, logger: logger}
}

// Register mounts the import routes on r.
func (h *ImportHandler) Register(r chi.Router) {
	r.Route("/import", func(r chi.Router) {
		r.Post("/preview", h.Preview)
		r.Post("/confirm", h.Confirm)
		r.Post("/batch/upload", h.BatchUpload)
		r.Post("/batch/confirm", h.BatchConfirm)
		r.Post("/custom/auto-detect", h.AutoDetect)
		r.Post("/custom/preview", h.CustomPreview)
		r.Post("/custom/confirm", h.CustomConfirm)
		r.Get("/custom/configs", h.ListConfigs)
	})
}

// Preview handles POST /import/preview.
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	file, err := h.formFile(form, "file")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	overrides, err := parseOverrides(form)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	preview, err := h.importSvc.Preview(r.Context(), importservice.PreviewRequest{
		File:          file,
		AccountSource: value(form, "account_source"),
		FormatHint:    value(form, "format_hint"),
		Overrides:     overrides,
	})
	if err != nil {
		h.writeServiceError(w, err, preview)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Confirm handles POST /import/confirm.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	file, err := h.formFile(form, "file")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	overrides, err := parseOverrides(form)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	save, err := boolValue(form, "save_format")
	if err != nil {
		h.badRequest(w, err)
		return
	}

	result, err := h.importSvc.Confirm(r.Context(), importservice.ConfirmRequest{
		File:          file,
		FormatType:    value(form, "format_type"),
		AccountSource: value(form, "account_source"),
		Overrides:     overrides,
		SaveFormat:    save,
		FormatName:    value(form, "format_name"),
	})
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchUpload handles POST /import/batch/upload.
func (h *ImportHandler) BatchUpload(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	files, err := h.formFiles(form)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	account := value(form, "account_source")
	reqs := make([]importservice.PreviewRequest, len(files))
	for i, f := range files {
		reqs[i] = importservice.PreviewRequest{File: f, AccountSource: account}
	}

	batch, err := h.importSvc.BatchUpload(r.Context(), reqs)
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// BatchConfirm handles POST /import/batch/confirm. The selections field is
// a JSON array of {filename, account_source, format_type}.
func (h *ImportHandler) BatchConfirm(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	files, err := h.formFiles(form)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	var selections []importservice.FileSelection
	if raw := value(form, "selections"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &selections); err != nil {
			h.badRequest(w, fmt.Errorf("invalid selections: %w", err))
			return
		}
	}
	save, err := boolValue(form, "save_format")
	if err != nil {
		h.badRequest(w, err)
		return
	}

	result, err := h.importSvc.BatchConfirm(r.Context(), importservice.BatchConfirmRequest{
		Files:      files,
		Selections: selections,
		SaveFormat: save,
	})
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AutoDetect handles POST /import/custom/auto-detect.
func (h *ImportHandler) AutoDetect(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	file, err := h.formFile(form, "file")
	if err != nil {
		h.badRequest(w, err)
		return
	}

	result, err := h.importSvc.AutoDetect(r.Context(), file, value(form, "account_source"))
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CustomPreview handles POST /import/custom/preview.
func (h *ImportHandler) CustomPreview(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	file, err := h.formFile(form, "file")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	cfg, err := parseConfig(form)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	result, err := h.importSvc.CustomPreview(r.Context(), file, cfg)
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CustomConfirm handles POST /import/custom/confirm.
func (h *ImportHandler) CustomConfirm(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	defer form.RemoveAll()

	file, err := h.formFile(form, "file")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	cfg, err := parseConfig(form)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	save, err := boolValue(form, "save_config")
	if err != nil {
		h.badRequest(w, err)
		return
	}

	result, err := h.importSvc.CustomConfirm(r.Context(), importservice.CustomConfirmRequest{
		File:        file,
		Config:      cfg,
		SaveConfig:  save,
		Description: value(form, "description"),
	})
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListConfigs handles GET /import/custom/configs.
func (h *ImportHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.importSvc.ListConfigs(r.Context())
	if err != nil {
		h.writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

// ============================================================================
// Request parsing
// ============================================================================

func (h *ImportHandler) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes*int64(h.opts.MaxBatchFiles))
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	return r.MultipartForm, nil
}

func (h *ImportHandler) formFiles(form *multipart.Form) ([]importservice.RawFile, error) {
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		return nil, importservice.ErrNoFiles
	}
	if len(headers) > h.opts.MaxBatchFiles {
		return nil, fmt.Errorf("too many files: %d (max %d)", len(headers), h.opts.MaxBatchFiles)
	}

	files := make([]importservice.RawFile, len(headers))
	for i, fh := range headers {
		f, err := h.readFile(fh)
		if err != nil {
			return nil, err
		}
		files[i] = f
	}
	return files, nil
}

func (h *ImportHandler) formFile(form *multipart.Form, field string) (importservice.RawFile, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return importservice.RawFile{}, fmt.Errorf("missing %q file field", field)
	}
	return h.readFile(headers[0])
}

// readFile loads one upload, rejecting anything above MaxUploadBytes.
func (h *ImportHandler) readFile(fh *multipart.FileHeader) (importservice.RawFile, error) {
	if fh.Size > h.opts.MaxUploadBytes {
		return importservice.RawFile{}, fmt.Errorf("file %s too large: %d bytes (max %d)", fh.Filename, fh.Size, h.opts.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return importservice.RawFile{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return importservice.RawFile{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return importservice.RawFile{Filename: fh.Filename, Data: data}, nil
}

func value(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func boolValue(form *multipart.Form, key string) (bool, error) {
	v := value(form, key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func parseOverrides(form *multipart.Form) (mapping.Overrides, error) {
	var o mapping.Overrides
	raw := value(form, "overrides")
	if raw == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return o, fmt.Errorf("invalid overrides: %w", err)
	}
	return o, nil
}

func parseConfig(form *multipart.Form) (repository.ImportConfig, error) {
	raw := value(form, "config_json")
	if raw == "" {
		return repository.ImportConfig{}, errors.New("missing config_json")
	}
	var cfg repository.ImportConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config_json: %w", err)
	}
	return cfg, nil
}
