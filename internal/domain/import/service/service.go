// Package service orchestrates imports: format detection, parsing,
// deduplication and the confirmed write.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/dedup"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/parser"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/profiler"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/registry"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
	"github.com/FACorreiaa/finance-importer/pkg/money"
	"github.com/FACorreiaa/finance-importer/pkg/storage"
)

const (
	defaultSampleRows = 20
	tracerName        = "github.com/FACorreiaa/finance-importer/internal/domain/import/service"
)

// ImportService orchestrates file analysis and import operations
type ImportService struct {
	txRepo     repository.TransactionRepository
	formats    repository.FormatStore
	registry   *registry.Registry
	metrics    *Metrics
	archive    storage.Storage
	tracer     trace.Tracer
	sampleRows int
	workers    int
	logger     *slog.Logger
}

// NewImportService creates a new import service with the built-in formats.
func NewImportService(txRepo repository.TransactionRepository, formats repository.FormatStore, logger *slog.Logger) *ImportService {
	return &ImportService{
		txRepo:     txRepo,
		formats:    formats,
		registry:   registry.Default(),
		tracer:     otel.Tracer(tracerName),
		sampleRows: defaultSampleRows,
		workers:    runtime.NumCPU(),
		logger:     logger,
	}
}

// WithRegistry replaces the built-in format registry.
func (s *ImportService) WithRegistry(r *registry.Registry) *ImportService {
	s.registry = r
	return s
}

// WithMetrics enables Prometheus metrics.
func (s *ImportService) WithMetrics(m *Metrics) *ImportService {
	s.metrics = m
	return s
}

// WithArchive keeps the source file of every persisted import.
func (s *ImportService) WithArchive(a storage.Storage) *ImportService {
	s.archive = a
	return s
}

// WithSampleRows sets how many data rows the profiler sees.
func (s *ImportService) WithSampleRows(n int) *ImportService {
	if n > 0 {
		s.sampleRows = n
	}
	return s
}

// WithTracer overrides the global OpenTelemetry tracer.
func (s *ImportService) WithTracer(t trace.Tracer) *ImportService {
	s.tracer = t
	return s
}

// WithWorkers bounds how many files of a batch are analyzed at once.
func (s *ImportService) WithWorkers(n int) *ImportService {
	if n > 0 {
		s.workers = n
	}
	return s
}

// Preview runs one file up to the confirm step. Nothing is written.
// When the file fails, the preview is returned together with its *FileError
// so callers can still show the suggested config.
func (s *ImportService) Preview(ctx context.Context, req PreviewRequest) (*FilePreview, error) {
	ctx, span := s.tracer.Start(ctx, "import.Preview", trace.WithAttributes(
		attribute.String("import.filename", req.File.Filename),
	))
	defer span.End()

	previews, err := s.previewAll(ctx, []PreviewRequest{req})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p := &previews[0]
	if p.Failed() {
		span.SetStatus(codes.Error, p.Error.Message)
		return p, p.Error
	}
	return p, nil
}

// Confirm previews the file again and writes its non-duplicate transactions.
func (s *ImportService) Confirm(ctx context.Context, req ConfirmRequest) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.Confirm", trace.WithAttributes(
		attribute.String("import.filename", req.File.Filename),
		attribute.String("import.format_type", req.FormatType),
	))
	defer span.End()

	p, fr, err := s.confirmOne(ctx, PreviewRequest{
		File:          req.File,
		AccountSource: req.AccountSource,
		FormatHint:    req.FormatType,
		Overrides:     req.Overrides,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &ImportResult{
		Imported:                 fr.Imported,
		Duplicates:               fr.Duplicates,
		CrossAccountWarningCount: p.CrossAccountWarningCount,
	}
	if req.SaveFormat {
		saved := s.saveFormat(ctx, p, s.saveName(p, req.FormatName, req.FormatType), "")
		result.FormatSaved = &saved
	}
	span.SetAttributes(attribute.Int("import.imported", result.Imported))
	return result, nil
}

// confirmOne runs a single file through every state up to persisted.
func (s *ImportService) confirmOne(ctx context.Context, req PreviewRequest) (*FilePreview, FileImportResult, error) {
	previews, err := s.analyzeAll(ctx, []PreviewRequest{req})
	if err != nil {
		return nil, FileImportResult{}, err
	}
	p := &previews[0]
	if p.Failed() {
		return nil, FileImportResult{}, p.Error
	}

	batch, err := s.newBatch(ctx, previews)
	if err != nil {
		return nil, FileImportResult{}, err
	}
	s.classify(p, batch)

	fr := s.persist(ctx, p)
	if fr.Error != nil {
		return nil, fr, fr.Error
	}
	return p, fr, nil
}

// ListConfigs returns the saved custom formats, most used first.
func (s *ImportService) ListConfigs(ctx context.Context) ([]repository.SavedCustomFormat, error) {
	formats, err := s.formats.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved formats: %w", err)
	}
	return formats, nil
}

// previewAll analyzes every file concurrently, then deduplicates them in
// submission order.
func (s *ImportService) previewAll(ctx context.Context, reqs []PreviewRequest) ([]FilePreview, error) {
	previews, err := s.analyzeAll(ctx, reqs)
	if err != nil {
		return nil, err
	}
	batch, err := s.newBatch(ctx, previews)
	if err != nil {
		return nil, err
	}
	for i := range previews {
		if !previews[i].Failed() {
			s.classify(&previews[i], batch)
		}
	}
	return previews, nil
}

func (s *ImportService) analyzeAll(ctx context.Context, reqs []PreviewRequest) ([]FilePreview, error) {
	previews := make([]FilePreview, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			previews[i] = *s.analyze(gctx, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return previews, nil
}

// analyze takes one file from received to parsed. Failures land in the
// preview's error slot.
func (s *ImportService) analyze(ctx context.Context, req PreviewRequest) *FilePreview {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "import.analyze", trace.WithAttributes(
		attribute.String("import.filename", req.File.Filename),
	))
	defer span.End()

	lc := newLifecycle(req.File.Filename, s.logger)
	p := &FilePreview{
		Filename:      req.File.Filename,
		AccountSource: req.AccountSource,
		Transactions:  []PreviewTransaction{},
		Errors:        []parser.RowError{},
		raw:           req.File.Data,
		lc:            lc,
	}
	finish := func(err error) *FilePreview {
		if err != nil {
			p.Error = ClassifyError(err)
			span.RecordError(err)
			s.logger.Warn("import file failed",
				"filename", p.Filename, "kind", p.Error.Kind, "state", lc.state, "error", err)
		}
		p.State = lc.state
		s.metrics.observeFile(p, time.Since(start))
		return p
	}

	lc.must(StateProfiling)
	records, _, _, err := sniffer.ReadRecords(req.File.Data, req.File.Filename, 0)
	if err != nil {
		lc.must(StateFailed)
		return finish(err)
	}

	suggested, err := s.resolveConfig(ctx, req, records, p)
	if err != nil {
		lc.must(StateFailed)
		return finish(err)
	}
	p.Config = &suggested
	p.AccountSource = suggested.AccountSource
	p.DetectedFormat = formatLabel(suggested)
	p.FormatSource = suggested.Source
	if p.fingerprint == "" && suggested.RowHandling.SkipHeaderRows < len(records) {
		p.fingerprint = sniffer.Fingerprint(records[suggested.RowHandling.SkipHeaderRows])
	}

	lc.must(StateConfigReady)
	if err := suggested.Require(); err != nil {
		// Halts at config_ready until the caller fills the gap
		return finish(err)
	}

	lc.must(StateParsing)
	prs, err := parser.New(suggested.ImportConfig)
	if err != nil {
		lc.must(StateFailed)
		return finish(err)
	}
	res, err := prs.Parse(records)
	if err != nil {
		lc.must(StateFailed)
		return finish(err)
	}

	p.parsed = res.Transactions
	p.Errors = res.Errors
	p.TotalRows = res.TotalRows
	p.SkippedRows = res.SkippedRows
	p.TransactionCount = len(res.Transactions)

	s.logger.Debug("import file parsed",
		"filename", p.Filename,
		"format", p.DetectedFormat,
		"source", p.FormatSource,
		"rows", res.TotalRows,
		"parsed", res.ParsedRows,
		"row_errors", len(res.Errors))
	return finish(nil)
}

// resolveConfig picks the config in the order explicit config, named format,
// detection. Caller account and overrides always apply last.
func (s *ImportService) resolveConfig(ctx context.Context, req PreviewRequest, records [][]string, p *FilePreview) (mapping.SuggestedConfig, error) {
	in := mapping.Input{AccountSource: req.AccountSource, Overrides: req.Overrides}

	hint := strings.TrimSpace(req.FormatHint)
	switch {
	case req.Config != nil:
		in.Base = req.Config

	case hint != "" && !strings.EqualFold(hint, FormatAuto):
		saved, err := s.formats.GetByName(ctx, hint)
		switch {
		case err == nil:
			in.Base = &saved.Config
			p.saved = saved.Name
		case !errors.Is(err, repository.ErrFormatNotFound):
			return mapping.SuggestedConfig{}, fmt.Errorf("failed to load saved format: %w", err)
		default:
			f, ok := s.registry.Get(hint)
			if !ok {
				return mapping.SuggestedConfig{}, fmt.Errorf("%w: %q", ErrUnknownFormat, hint)
			}
			m, err := f.MatchRecords(records)
			if err != nil {
				return mapping.SuggestedConfig{}, err
			}
			in.Match = m
		}

	default:
		d, err := s.detect(ctx, records)
		if err != nil {
			return mapping.SuggestedConfig{}, err
		}
		d.apply(&in)
		p.fingerprint = d.file.Fingerprint
		if d.saved != nil {
			p.saved = d.saved.Name
		}
	}

	return mapping.Build(in), nil
}

// detection is everything learned from a file without a named format.
type detection struct {
	file    *sniffer.File
	profile *profiler.Profile
	match   *registry.Match
	saved   *repository.SavedCustomFormat
}

// detect matches the records against the registry, profiles the columns and
// looks up a saved format with the same header.
func (s *ImportService) detect(ctx context.Context, records [][]string) (*detection, error) {
	d := &detection{}
	headerIndex := -1
	if m, ok := s.registry.Match(records); ok {
		d.match = m
		headerIndex = m.HeaderIndex
	}

	file, err := sniffer.Locate(records, headerIndex)
	if err != nil {
		return nil, err
	}
	d.file = file

	d.profile, err = profiler.Analyze(file.Headers, file.Samples(s.sampleRows))
	if err != nil {
		return nil, err
	}

	d.saved, err = s.savedByFingerprint(ctx, file.Fingerprint)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *detection) apply(in *mapping.Input) {
	in.Profile = d.profile
	in.HeaderIndex = d.file.HeaderIndex
	switch {
	case d.saved != nil:
		in.Base = &d.saved.Config
	case d.match != nil:
		in.Match = d.match
	}
}

func (s *ImportService) savedByFingerprint(ctx context.Context, fingerprint string) (*repository.SavedCustomFormat, error) {
	formats, err := s.formats.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved formats: %w", err)
	}
	for i := range formats {
		if formats[i].Fingerprint != "" && formats[i].Fingerprint == fingerprint {
			return &formats[i], nil
		}
	}
	return nil, nil
}

// newBatch loads persisted transactions over the date range of every parsed file.
func (s *ImportService) newBatch(ctx context.Context, previews []FilePreview) (*dedup.Batch, error) {
	var from, to time.Time
	for i := range previews {
		for _, tx := range previews[i].parsed {
			if from.IsZero() || tx.Date.Before(from) {
				from = tx.Date
			}
			if to.IsZero() || tx.Date.After(to) {
				to = tx.Date
			}
		}
	}
	if from.IsZero() {
		return dedup.NewBatch(nil), nil
	}

	existing, err := s.txRepo.ListInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing transactions: %w", err)
	}
	return dedup.NewBatch(dedup.NewIndex(existing)), nil
}

// classify deduplicates a parsed file against the batch and fills its counts.
func (s *ImportService) classify(p *FilePreview, batch *dedup.Batch) {
	p.lc.must(StateDeduplicating)

	res := batch.Check(p.parsed)
	p.result = res
	p.Transactions = make([]PreviewTransaction, len(p.parsed))
	amounts := make([]decimal.Decimal, 0, len(p.parsed))
	for i, tx := range p.parsed {
		p.Transactions[i] = PreviewTransaction{
			ParsedTransaction: tx,
			Status:            res.Statuses[i],
			CrossAccount:      res.CrossAccount[i],
		}
		amounts = append(amounts, tx.Amount)
		if p.DateRangeStart == nil || tx.Date.Before(*p.DateRangeStart) {
			d := tx.Date
			p.DateRangeStart = &d
		}
		if p.DateRangeEnd == nil || tx.Date.After(*p.DateRangeEnd) {
			d := tx.Date
			p.DateRangeEnd = &d
		}
	}
	p.TotalAmount = money.Sum(money.DefaultCurrency, amounts...).ToDecimal()
	p.NewCount = res.New()
	p.DuplicateCount = res.Duplicates
	p.CrossFileDuplicateCount = res.CrossFileDuplicates
	p.CrossAccountWarningCount = res.CrossAccountWarnings

	p.lc.must(StatePreviewReturned)
	p.State = p.lc.state
	s.metrics.observeDedup(p)
}
