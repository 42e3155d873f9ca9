package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
)

// AutoDetect profiles a file and suggests a config for the custom format
// editor. A saved format with the same header is returned alongside.
func (s *ImportService) AutoDetect(ctx context.Context, file RawFile, accountSource string) (*AutoDetectResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.AutoDetect", trace.WithAttributes(
		attribute.String("import.filename", file.Filename),
	))
	defer span.End()

	records, _, _, err := sniffer.ReadRecords(file.Data, file.Filename, 0)
	if err != nil {
		return nil, ClassifyError(err)
	}
	d, err := s.detect(ctx, records)
	if err != nil {
		return nil, ClassifyError(err)
	}

	in := mapping.Input{AccountSource: accountSource}
	d.apply(&in)
	suggested := mapping.Build(in)

	result := &AutoDetectResult{
		Analysis: Analysis{
			Headers:         d.file.Headers,
			SampleRows:      d.file.Samples(s.sampleRows),
			ColumnHints:     d.profile.Hints,
			SuggestedConfig: &suggested,
			RowCount:        d.file.RowCount(),
			Fingerprint:     d.file.Fingerprint,
			DetectedFormat:  formatLabel(suggested),
		},
		Config:      &suggested,
		SkipRows:    suggested.RowHandling.SkipHeaderRows,
		SavedFormat: d.saved,
	}

	s.logger.Debug("auto-detected import config",
		"filename", file.Filename,
		"format", suggested.Name,
		"source", suggested.Source,
		"completeness", suggested.Completeness,
		"missing", suggested.Missing)
	return result, nil
}

// CustomPreview parses a file with a caller-built config without writing.
func (s *ImportService) CustomPreview(ctx context.Context, file RawFile, cfg repository.ImportConfig) (*CustomPreviewResult, error) {
	p, err := s.Preview(ctx, PreviewRequest{File: file, Config: &cfg})
	if err != nil {
		return nil, err
	}
	return &CustomPreviewResult{
		TransactionCount:         p.TransactionCount,
		TotalAmount:              p.TotalAmount,
		DuplicateCount:           p.DuplicateCount + p.CrossFileDuplicateCount,
		CrossAccountWarningCount: p.CrossAccountWarningCount,
		Transactions:             p.Transactions,
		Errors:                   p.Errors,
	}, nil
}

// CustomConfirm writes a file parsed with a caller-built config and
// optionally saves the config under its name.
func (s *ImportService) CustomConfirm(ctx context.Context, req CustomConfirmRequest) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.CustomConfirm", trace.WithAttributes(
		attribute.String("import.filename", req.File.Filename),
		attribute.Bool("import.save_config", req.SaveConfig),
	))
	defer span.End()

	cfg := req.Config
	p, fr, err := s.confirmOne(ctx, PreviewRequest{File: req.File, Config: &cfg})
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Imported:                 fr.Imported,
		Duplicates:               fr.Duplicates,
		CrossAccountWarningCount: p.CrossAccountWarningCount,
	}
	if req.SaveConfig {
		saved := s.saveFormat(ctx, p, s.saveName(p, cfg.Name, ""), req.Description)
		result.ConfigSaved = &saved
	}
	return result, nil
}
