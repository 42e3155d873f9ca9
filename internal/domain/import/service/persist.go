package service

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/dedup"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/pkg/money"
)

// persist writes the new transactions of a previewed file as one import batch.
// Either every row is written or none is.
func (s *ImportService) persist(ctx context.Context, p *FilePreview) FileImportResult {
	p.lc.must(StateConfirmed)

	fr := FileImportResult{
		Filename:   p.Filename,
		Duplicates: p.DuplicateCount + p.CrossFileDuplicateCount,
	}

	batch := repository.ImportBatch{
		ID:            uuid.New(),
		Filename:      p.Filename,
		AccountSource: p.AccountSource,
		FormatName:    p.DetectedFormat,
		CreatedAt:     time.Now().UTC(),
	}
	kept := p.result.Keep(p.parsed)
	txs := make([]repository.Transaction, len(kept))
	for i, tx := range kept {
		txs[i] = toTransaction(tx, dedup.Of(tx), batch.ID)
	}
	batch.RowCount = len(txs)

	if err := s.txRepo.InsertImport(ctx, batch, txs); err != nil {
		p.lc.must(StateFailed)
		perr := &PersistenceError{Filename: p.Filename, Err: err}
		s.logger.Error("failed to persist import", "filename", p.Filename, "rows", len(txs), "error", err)
		fr.State = p.lc.state
		fr.Duplicates = 0
		fr.Error = &FileError{Kind: KindPersistence, Message: perr.Error(), err: perr}
		return fr
	}

	p.lc.must(StatePersisted)
	fr.State = p.lc.state
	fr.Imported = len(txs)
	s.metrics.observePersisted(len(txs))
	s.logger.Info("import persisted",
		"filename", p.Filename,
		"account_source", p.AccountSource,
		"format", p.DetectedFormat,
		"imported", fr.Imported,
		"duplicates", fr.Duplicates,
		"cross_account_warnings", p.CrossAccountWarningCount)

	if s.archive != nil && len(txs) > 0 {
		if _, err := s.archive.Put(ctx, batch.ID, p.Filename, bytes.NewReader(p.raw)); err != nil {
			s.logger.Warn("failed to archive import file", "filename", p.Filename, "batch_id", batch.ID, "error", err)
		}
	}

	if p.saved != "" {
		if err := s.formats.IncrementUseCount(ctx, p.saved); err != nil {
			s.logger.Warn("failed to increment saved format use count", "format", p.saved, "error", err)
		}
	}
	return fr
}

func toTransaction(tx repository.ParsedTransaction, fingerprint string, batchID uuid.UUID) repository.Transaction {
	t := repository.Transaction{
		ID:            uuid.New(),
		ImportBatchID: batchID,
		Date:          tx.Date,
		AmountCents:   money.Cents(tx.Amount),
		Description:   tx.Description,
		Merchant:      tx.Merchant,
		AccountSource: tx.AccountSource,
		Fingerprint:   fingerprint,
	}
	if tx.ReferenceID != "" {
		ref := tx.ReferenceID
		t.ReferenceID = &ref
	}
	return t
}

// saveName picks the name a confirmed file's config is saved under.
func (s *ImportService) saveName(p *FilePreview, explicit, formatType string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	if p.saved != "" {
		return p.saved
	}
	if ft := strings.TrimSpace(formatType); ft != "" && !strings.EqualFold(ft, FormatAuto) {
		if _, builtin := s.registry.Get(ft); !builtin {
			return ft
		}
	}
	if p.DetectedFormat != "" && p.DetectedFormat != FormatCustom {
		return p.DetectedFormat
	}
	return strings.TrimSuffix(filepath.Base(p.Filename), filepath.Ext(p.Filename))
}

// saveFormat upserts the file's config and counts this import as a use.
func (s *ImportService) saveFormat(ctx context.Context, p *FilePreview, name, description string) bool {
	if p.Config == nil || name == "" {
		return false
	}
	cfg := p.Config.ImportConfig
	cfg.Name = name

	saved, err := s.formats.Save(ctx, repository.SavedCustomFormat{
		Name:        name,
		Description: description,
		Config:      cfg,
		Fingerprint: p.fingerprint,
	})
	if err != nil {
		s.logger.Warn("failed to save import format", "format", name, "error", err)
		return false
	}
	// A file that already used this saved format was counted by persist
	if p.saved != saved.Name {
		if err := s.formats.IncrementUseCount(ctx, saved.Name); err != nil {
			s.logger.Warn("failed to increment saved format use count", "format", saved.Name, "error", err)
		}
	}
	s.logger.Info("import format saved", "format", saved.Name, "use_count", saved.UseCount)
	return true
}
