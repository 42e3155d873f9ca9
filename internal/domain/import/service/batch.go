package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BatchUpload previews several files. Files are analyzed concurrently and
// deduplicated in submission order, so a transaction repeated across files
// is counted against the later file only. A failing file never stops the others.
func (s *ImportService) BatchUpload(ctx context.Context, reqs []PreviewRequest) (*BatchPreview, error) {
	if len(reqs) == 0 {
		return nil, ErrNoFiles
	}
	ctx, span := s.tracer.Start(ctx, "import.BatchUpload", trace.WithAttributes(
		attribute.Int("import.files", len(reqs)),
	))
	defer span.End()

	previews, err := s.previewAll(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := &BatchPreview{Files: previews}
	for i := range previews {
		p := &previews[i]
		if p.Failed() {
			out.FailedFiles++
			continue
		}
		out.TotalTransactions += p.TransactionCount
		out.TotalNew += p.NewCount
		out.TotalDuplicates += p.DuplicateCount + p.CrossFileDuplicateCount
		out.CrossAccountWarningCount += p.CrossAccountWarningCount
	}

	s.logger.Info("batch previewed",
		"files", len(previews),
		"failed", out.FailedFiles,
		"transactions", out.TotalTransactions,
		"duplicates", out.TotalDuplicates)
	return out, nil
}

// BatchConfirm persists the selected files in submission order. Each file is
// written atomically; a failed write does not undo earlier files. With no
// selections every file is imported with detected formats.
func (s *ImportService) BatchConfirm(ctx context.Context, req BatchConfirmRequest) (*ImportResult, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}
	ctx, span := s.tracer.Start(ctx, "import.BatchConfirm", trace.WithAttributes(
		attribute.Int("import.files", len(req.Files)),
		attribute.Int("import.selections", len(req.Selections)),
	))
	defer span.End()

	selections := make(map[string]FileSelection, len(req.Selections))
	for _, sel := range req.Selections {
		selections[sel.Filename] = sel
	}

	var (
		reqs    []PreviewRequest
		formats []string
		found   = make(map[string]bool)
	)
	for _, f := range req.Files {
		sel, ok := selections[f.Filename]
		if len(selections) > 0 && !ok {
			continue
		}
		found[f.Filename] = true
		reqs = append(reqs, PreviewRequest{File: f, AccountSource: sel.AccountSource, FormatHint: sel.FormatType})
		formats = append(formats, sel.FormatType)
	}

	result := &ImportResult{Files: make([]FileImportResult, 0, len(req.Files))}
	for _, sel := range req.Selections {
		if !found[sel.Filename] {
			err := fmt.Errorf("%w: %s", ErrFileNotInBatch, sel.Filename)
			result.Files = append(result.Files, FileImportResult{
				Filename: sel.Filename,
				State:    StateFailed,
				Error:    ClassifyError(err),
			})
		}
	}

	previews, err := s.analyzeAll(ctx, reqs)
	if err != nil {
		return nil, err
	}
	batch, err := s.newBatch(ctx, previews)
	if err != nil {
		return nil, err
	}

	saves, saved := 0, 0
	for i := range previews {
		p := &previews[i]
		if p.Failed() {
			result.Files = append(result.Files, FileImportResult{Filename: p.Filename, State: p.State, Error: p.Error})
			continue
		}

		s.classify(p, batch)
		fr := s.persist(ctx, p)
		result.Files = append(result.Files, fr)
		if fr.Error != nil {
			batch.Forget(p.result)
			continue
		}

		result.Imported += fr.Imported
		result.Duplicates += fr.Duplicates
		result.CrossAccountWarningCount += p.CrossAccountWarningCount
		if req.SaveFormat {
			saves++
			if s.saveFormat(ctx, p, s.saveName(p, "", formats[i]), "") {
				saved++
			}
		}
	}

	totalImported, totalDuplicates := result.Imported, result.Duplicates
	result.TotalImported = &totalImported
	result.TotalDuplicates = &totalDuplicates
	if req.SaveFormat {
		ok := saves > 0 && saved == saves
		result.FormatSaved = &ok
	}

	span.SetAttributes(attribute.Int("import.imported", totalImported))
	return result, nil
}
