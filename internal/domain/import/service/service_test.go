package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/dedup"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/profiler"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/registry"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
	"github.com/FACorreiaa/finance-importer/pkg/storage"
)

// ============================================================================
// Fixtures
// ============================================================================

const (
	checkingCSV = "Date,Amount,Description\n" +
		"01/15/2024,-4.50,Coffee Shop\n" +
		"01/16/2024,2500.00,ACME Payroll\n" +
		"01/17/2024,-120.00,Grocery Store\n"

	// Shares the coffee purchase with checkingCSV
	overlapCSV = "Date,Amount,Description\n" +
		"01/15/2024,-4.50,Coffee Shop\n" +
		"01/20/2024,-9.99,Streaming Service\n"

	profiledCSV = "Posted,Payee,Value\n" +
		"2024-01-15,STARBUCKS STORE 1234,-4.50\n" +
		"2024-01-16,ACME CORP PAYROLL,2500.00\n" +
		"2024-01-17,WHOLE FOODS MARKET,-125.30\n"

	ambiguousCSV = "col1,col2,col3\nfoo,x,lorem\nbar,y,ipsum\nbaz,z,dolor\n"
)

func file(name, data string) RawFile {
	return RawFile{Filename: name, Data: []byte(data)}
}

func newTestService(t *testing.T) (*ImportService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewImportService(store, store, logger), store
}

func fileErr(t *testing.T, err error) *FileError {
	t.Helper()
	var fe *FileError
	require.ErrorAs(t, err, &fe)
	return fe
}

// failingRepo fails the write of one file.
type failingRepo struct {
	*repository.MemoryStore
	failFor string
}

func (r failingRepo) InsertImport(ctx context.Context, batch repository.ImportBatch, txs []repository.Transaction) error {
	if batch.Filename == r.failFor {
		return errors.New("connection reset")
	}
	return r.MemoryStore.InsertImport(ctx, batch, txs)
}

// ============================================================================
// AutoDetect
// ============================================================================

func TestAutoDetect_KnownFormatFastPath(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.AutoDetect(context.Background(), file("checking.csv", checkingCSV), "")
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Config.Completeness)
	assert.Empty(t, res.Config.Missing)
	assert.Equal(t, mapping.SourceRegistry, res.Config.Source)
	assert.Equal(t, registry.BankChecking, res.Analysis.DetectedFormat)
	assert.Equal(t, []string{"Date", "Amount", "Description"}, res.Analysis.Headers)
	assert.Equal(t, 3, res.Analysis.RowCount)
	assert.Len(t, res.Analysis.SampleRows, 3)
	assert.Len(t, res.Analysis.ColumnHints, 3)
	assert.NotEmpty(t, res.Analysis.Fingerprint)
	assert.Equal(t, 0, res.SkipRows)
	assert.Nil(t, res.SavedFormat)
}

func TestAutoDetect_AmbiguousFile(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.AutoDetect(context.Background(), file("mystery.csv", ambiguousCSV), "")
	require.NoError(t, err)

	assert.Less(t, res.Config.Completeness, 1.0)
	assert.Contains(t, res.Config.Missing, repository.FieldDateColumn)
	assert.Equal(t, mapping.SourceProfiler, res.Config.Source)

	unknown := 0
	for _, h := range res.Analysis.ColumnHints {
		if h.LikelyType == profiler.ColumnUnknown {
			unknown++
		}
	}
	assert.Positive(t, unknown)
}

func TestAutoDetect_Preamble(t *testing.T) {
	svc, _ := newTestService(t)
	data := "Account Summary\nCard Member,J SMITH\nDate,Reference,Description,Card Member,Amount\n" +
		"01/15/2024,320240150001,COFFEE SHOP,J SMITH,$4.50\n"

	res, err := svc.AutoDetect(context.Background(), file("card.csv", data), "")
	require.NoError(t, err)
	assert.Equal(t, registry.CardIssuer, res.Analysis.DetectedFormat)
	assert.Equal(t, 2, res.SkipRows)
	assert.Equal(t, "Reference", res.Analysis.Headers[1])
}

func TestAutoDetect_StructuralErrors(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AutoDetect(context.Background(), file("empty.csv", ""), "")
	assert.ErrorIs(t, err, sniffer.ErrEmptyFile)
	assert.Equal(t, KindEmptyFile, fileErr(t, err).Kind)

	_, err = svc.AutoDetect(context.Background(), file("one.csv", "a\nb\nc\n"), "")
	assert.Equal(t, KindHeaderNotFound, fileErr(t, err).Kind)
}

// ============================================================================
// Preview
// ============================================================================

func TestPreview_KnownFormat(t *testing.T) {
	svc, store := newTestService(t)

	p, err := svc.Preview(context.Background(), PreviewRequest{File: file("checking.csv", checkingCSV)})
	require.NoError(t, err)

	assert.Equal(t, StatePreviewReturned, p.State)
	assert.Equal(t, registry.BankChecking, p.DetectedFormat)
	assert.Equal(t, mapping.SourceRegistry, p.FormatSource)
	assert.Equal(t, "Checking", p.AccountSource)
	assert.Equal(t, 3, p.TransactionCount)
	assert.Equal(t, 3, p.NewCount)
	assert.True(t, decimal.RequireFromString("2375.50").Equal(p.TotalAmount), p.TotalAmount.String())
	require.NotNil(t, p.DateRangeStart)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *p.DateRangeStart)
	assert.Equal(t, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), *p.DateRangeEnd)
	assert.Equal(t, dedup.StatusNew, p.Transactions[0].Status)
	assert.Empty(t, p.Errors)
	assert.Empty(t, store.Transactions(), "preview never writes")
}

func TestPreview_AccountSourceWinsOverRegistry(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Preview(context.Background(), PreviewRequest{
		File:          file("checking.csv", checkingCSV),
		AccountSource: "Joint",
	})
	require.NoError(t, err)
	assert.Equal(t, "Joint", p.AccountSource)
	assert.Equal(t, "Joint", p.Transactions[0].AccountSource)
}

func TestPreview_IncompleteMappingHaltsAtConfigReady(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Preview(context.Background(), PreviewRequest{File: file("broker.csv", profiledCSV)})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrIncompleteMapping)

	fe := fileErr(t, err)
	assert.Equal(t, KindIncompleteMapping, fe.Kind)
	assert.Equal(t, []string{repository.FieldAccountSource}, fe.Missing)
	assert.False(t, fe.Structural())

	require.NotNil(t, p)
	assert.Equal(t, StateConfigReady, p.State)
	assert.Empty(t, p.Transactions)
	require.NotNil(t, p.Config)
	assert.Equal(t, 0.75, p.Config.Completeness)
	assert.Equal(t, "Posted", p.Config.DateColumn)
}

func TestPreview_CallerClosesTheGap(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Preview(context.Background(), PreviewRequest{
		File:          file("broker.csv", profiledCSV),
		AccountSource: "Brokerage",
	})
	require.NoError(t, err)
	assert.Equal(t, mapping.SourceProfiler, p.FormatSource)
	assert.Equal(t, FormatCustom, p.DetectedFormat)
	assert.Equal(t, 3, p.TransactionCount)

	account := "Brokerage"
	description := "Posted"
	p, err = svc.Preview(context.Background(), PreviewRequest{
		File: file("broker.csv", profiledCSV),
		Overrides: mapping.Overrides{
			AccountSource:     &account,
			DescriptionColumn: &description,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, mapping.SourceOverride, p.FormatSource)
	assert.Equal(t, "2024-01-15", p.Transactions[0].Description)
}

func TestPreview_KeywordHeavyRowKeepsFirstTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	data := "Date,Memo,Amt\n" +
		"2024-01-15,STARBUCKS STORE 1234,-4.50\n" +
		"2024-01-16,ACH CREDIT REFERENCE 88812 PAYEE ACME,100.00\n" +
		"2024-01-17,WHOLE FOODS MARKET,-125.30\n"

	res, err := svc.AutoDetect(context.Background(), file("memo.csv", data), "Checking")
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Memo", "Amt"}, res.Analysis.Headers)
	assert.Equal(t, 0, res.SkipRows)
	assert.Equal(t, 3, res.Analysis.RowCount)

	p, err := svc.Preview(context.Background(), PreviewRequest{File: file("memo.csv", data), AccountSource: "Checking"})
	require.NoError(t, err)
	assert.Empty(t, p.Errors)
	require.Equal(t, 3, p.TransactionCount)
	assert.Contains(t, p.Transactions[0].Description, "STARBUCKS")
}

func TestPreview_Idempotent(t *testing.T) {
	svc, store := newTestService(t)
	req := PreviewRequest{File: file("checking.csv", checkingCSV)}

	first, err := svc.Preview(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Preview(context.Background(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Empty(t, store.Transactions())
	assert.Empty(t, store.Batches())
}

func TestPreview_FormatHint(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Preview(ctx, PreviewRequest{File: file("checking.csv", checkingCSV), FormatHint: "Bank_Checking"})
	require.NoError(t, err)
	assert.Equal(t, registry.BankChecking, p.DetectedFormat)

	_, err = svc.Preview(ctx, PreviewRequest{File: file("checking.csv", checkingCSV), FormatHint: "nope"})
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Equal(t, KindInvalidConfig, fileErr(t, err).Kind)

	_, err = svc.Preview(ctx, PreviewRequest{File: file("checking.csv", checkingCSV), FormatHint: registry.CardIssuer})
	assert.ErrorIs(t, err, sniffer.ErrHeaderNotFound)
	assert.True(t, fileErr(t, err).Structural())

	p, err = svc.Preview(ctx, PreviewRequest{File: file("checking.csv", checkingCSV), FormatHint: FormatAuto})
	require.NoError(t, err)
	assert.Equal(t, registry.BankChecking, p.DetectedFormat)
}

func TestPreview_RowErrorsDoNotFailTheFile(t *testing.T) {
	svc, _ := newTestService(t)
	data := checkingCSV + "13/45/2024,-1.00,Bad date\n01/18/2024,abc,Bad amount\n"

	p, err := svc.Preview(context.Background(), PreviewRequest{File: file("checking.csv", data)})
	require.NoError(t, err)
	assert.Equal(t, 3, p.TransactionCount)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, 5, p.Errors[0].Row)
	assert.Equal(t, 5, p.TotalRows)
}

// ============================================================================
// Batch
// ============================================================================

func TestBatchUpload_CrossFileAttribution(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.BatchUpload(context.Background(), []PreviewRequest{
		{File: file("a.csv", checkingCSV)},
		{File: file("b.csv", overlapCSV)},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	a, b := res.Files[0], res.Files[1]
	assert.Equal(t, 0, a.CrossFileDuplicateCount)
	assert.Equal(t, 3, a.NewCount)
	assert.Equal(t, 1, b.CrossFileDuplicateCount)
	assert.Equal(t, 1, b.NewCount)
	assert.Equal(t, dedup.StatusCrossFile, b.Transactions[0].Status)

	assert.Equal(t, 5, res.TotalTransactions)
	assert.Equal(t, 4, res.TotalNew)
	assert.Equal(t, 1, res.TotalDuplicates)
}

func TestBatchUpload_Isolation(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.BatchUpload(context.Background(), []PreviewRequest{
		{File: file("a.csv", checkingCSV)},
		{File: file("garbage.csv", "\x00\x01\x02\x03\xff\xfe\x00binary\x00")},
		{File: file("b.csv", overlapCSV)},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)

	assert.Equal(t, StatePreviewReturned, res.Files[0].State)
	assert.Equal(t, StateFailed, res.Files[1].State)
	require.NotNil(t, res.Files[1].Error)
	assert.Equal(t, KindUnreadableFile, res.Files[1].Error.Kind)
	assert.Equal(t, StatePreviewReturned, res.Files[2].State)
	assert.Equal(t, 1, res.Files[2].CrossFileDuplicateCount)
	assert.Equal(t, 1, res.FailedFiles)
}

func TestBatchUpload_DeterministicAcrossWorkers(t *testing.T) {
	reqs := []PreviewRequest{
		{File: file("a.csv", checkingCSV)},
		{File: file("b.csv", overlapCSV)},
		{File: file("c.csv", overlapCSV)},
	}

	serial, _ := newTestService(t)
	parallel, _ := newTestService(t)
	one, err := serial.WithWorkers(1).BatchUpload(context.Background(), reqs)
	require.NoError(t, err)
	many, err := parallel.WithWorkers(8).BatchUpload(context.Background(), reqs)
	require.NoError(t, err)

	a, _ := json.Marshal(one)
	b, _ := json.Marshal(many)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, 2, many.Files[2].CrossFileDuplicateCount)
}

func TestBatchUpload_NoFiles(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.BatchUpload(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestBatchConfirm(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.BatchConfirm(context.Background(), BatchConfirmRequest{
		Files: []RawFile{file("a.csv", checkingCSV), file("b.csv", overlapCSV)},
		Selections: []FileSelection{
			{Filename: "a.csv", AccountSource: "Checking", FormatType: registry.BankChecking},
			{Filename: "b.csv", AccountSource: "Checking", FormatType: FormatAuto},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, res.TotalImported)
	assert.Equal(t, 4, *res.TotalImported)
	assert.Equal(t, 1, *res.TotalDuplicates)
	require.Len(t, res.Files, 2)
	assert.Equal(t, FileImportResult{Filename: "a.csv", Imported: 3, State: StatePersisted}, res.Files[0])
	assert.Equal(t, FileImportResult{Filename: "b.csv", Imported: 1, Duplicates: 1, State: StatePersisted}, res.Files[1])
	assert.Len(t, store.Transactions(), 4)
	assert.Len(t, store.Batches(), 2)
	assert.Nil(t, res.FormatSaved)
}

func TestBatchConfirm_OnlySelectedFiles(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.BatchConfirm(context.Background(), BatchConfirmRequest{
		Files: []RawFile{file("a.csv", checkingCSV), file("b.csv", overlapCSV)},
		Selections: []FileSelection{
			{Filename: "b.csv", AccountSource: "Checking"},
			{Filename: "missing.csv"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	assert.Equal(t, "missing.csv", res.Files[0].Filename)
	require.NotNil(t, res.Files[0].Error)
	assert.Equal(t, KindInvalidConfig, res.Files[0].Error.Kind)
	assert.Equal(t, 2, res.Files[1].Imported, "a.csv was not selected so nothing is cross-file")
	assert.Len(t, store.Transactions(), 2)
}

func TestBatchConfirm_PersistenceFailureIsolated(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewImportService(failingRepo{MemoryStore: store, failFor: "a.csv"}, store,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := svc.BatchConfirm(context.Background(), BatchConfirmRequest{
		Files: []RawFile{file("a.csv", checkingCSV), file("b.csv", overlapCSV)},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	failed := res.Files[0]
	assert.Equal(t, StateFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, KindPersistence, failed.Error.Kind)
	var perr *PersistenceError
	assert.ErrorAs(t, failed.Error, &perr)
	assert.Zero(t, failed.Imported)

	// The coffee row now belongs to b.csv
	assert.Equal(t, 2, res.Files[1].Imported)
	assert.Equal(t, 2, *res.TotalImported)
	assert.Len(t, store.Transactions(), 2)
}

// ============================================================================
// Confirm
// ============================================================================

func TestConfirm_SequentialConfirmsSeeDuplicates(t *testing.T) {
	svc, store := newTestService(t)
	req := ConfirmRequest{File: file("checking.csv", checkingCSV)}

	first, err := svc.Confirm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Imported)
	assert.Equal(t, 0, first.Duplicates)

	second, err := svc.Confirm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 3, second.Duplicates)

	txs := store.Transactions()
	require.Len(t, txs, 3)
	batches := store.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, batches[0].ID, txs[0].ImportBatchID)
	assert.Equal(t, registry.BankChecking, batches[0].FormatName)
	assert.Equal(t, 3, batches[0].RowCount)
	assert.Equal(t, int64(-450), txs[0].AmountCents)
	assert.Equal(t, "Checking", txs[0].AccountSource)
	assert.Equal(t, dedup.Fingerprint(txs[0].Date, -450, "Coffee Shop", "Checking"), txs[0].Fingerprint)
	assert.Nil(t, txs[0].ReferenceID)
}

func TestConfirm_ArchivesSourceFile(t *testing.T) {
	svc, store := newTestService(t)
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc.WithArchive(archive)
	ctx := context.Background()

	_, err = svc.Confirm(ctx, ConfirmRequest{File: file("checking.csv", checkingCSV)})
	require.NoError(t, err)
	// Nothing new, nothing archived
	_, err = svc.Confirm(ctx, ConfirmRequest{File: file("checking.csv", checkingCSV)})
	require.NoError(t, err)

	files, err := archive.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, store.Batches()[0].ID, files[0].BatchID)

	rc, _, err := archive.Open(ctx, files[0].BatchID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, checkingCSV, string(data))
}

func TestConfirm_CrossAccountWarning(t *testing.T) {
	svc, store := newTestService(t)
	require.NoError(t, store.InsertImport(context.Background(),
		repository.ImportBatch{Filename: "savings.csv"},
		[]repository.Transaction{{
			Date:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			AmountCents:   -450,
			Description:   "Coffee Shop",
			AccountSource: "Savings",
		}}))

	res, err := svc.Confirm(context.Background(), ConfirmRequest{File: file("checking.csv", checkingCSV)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported, "cross-account matches are still imported")
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, 1, res.CrossAccountWarningCount)
}

func TestConfirm_FailuresWriteNothing(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.Confirm(context.Background(), ConfirmRequest{File: file("empty.csv", "")})
	assert.ErrorIs(t, err, sniffer.ErrEmptyFile)

	_, err = svc.Confirm(context.Background(), ConfirmRequest{File: file("broker.csv", profiledCSV)})
	assert.Equal(t, KindIncompleteMapping, fileErr(t, err).Kind)

	failing := NewImportService(failingRepo{MemoryStore: store, failFor: "checking.csv"}, store,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err = failing.Confirm(context.Background(), ConfirmRequest{File: file("checking.csv", checkingCSV)})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "checking.csv", perr.Filename)

	assert.Empty(t, store.Transactions())
}

func TestConfirm_SaveFormatRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Confirm(ctx, ConfirmRequest{
		File:          file("broker.csv", profiledCSV),
		AccountSource: "Brokerage",
		SaveFormat:    true,
		FormatName:    "my_broker",
	})
	require.NoError(t, err)
	require.NotNil(t, res.FormatSaved)
	assert.True(t, *res.FormatSaved)

	configs, err := svc.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "my_broker", configs[0].Name)
	assert.Equal(t, 1, configs[0].UseCount)
	assert.Equal(t, "Posted", configs[0].Config.DateColumn)
	assert.Equal(t, "Brokerage", configs[0].Config.AccountSource)
	assert.NotEmpty(t, configs[0].Fingerprint)

	// Same header, new rows: the saved format is found without any hint
	next := "Posted,Payee,Value\n2024-02-01,RENT,-900.00\n"
	p, err := svc.Preview(ctx, PreviewRequest{File: file("broker-feb.csv", next)})
	require.NoError(t, err)
	assert.Equal(t, "my_broker", p.DetectedFormat)
	assert.Equal(t, mapping.SourceOverride, p.FormatSource)
	assert.Equal(t, "Brokerage", p.AccountSource)

	_, err = svc.Confirm(ctx, ConfirmRequest{File: file("broker-feb.csv", next), FormatType: "my_broker"})
	require.NoError(t, err)
	configs, err = svc.ListConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, configs[0].UseCount)
}

// ============================================================================
// Custom formats
// ============================================================================

func brokerConfig() repository.ImportConfig {
	cfg := repository.DefaultImportConfig()
	cfg.Name = "broker"
	cfg.AccountSource = "Brokerage"
	cfg.DateColumn = "Posted"
	cfg.DateFormat = "%Y-%m-%d"
	cfg.AmountColumn = "Value"
	cfg.DescriptionColumn = "Payee"
	return cfg
}

func TestCustomPreview(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.CustomPreview(ctx, file("broker.csv", profiledCSV), brokerConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, res.TransactionCount)
	assert.True(t, decimal.RequireFromString("2370.20").Equal(res.TotalAmount), res.TotalAmount.String())
	assert.Empty(t, res.Errors)
	assert.Empty(t, store.Transactions())

	tests := []struct {
		name   string
		mutate func(*repository.ImportConfig)
		kind   ErrorKind
	}{
		{"missing amount column", func(c *repository.ImportConfig) { c.AmountColumn = "" }, KindIncompleteMapping},
		{"unknown date directive", func(c *repository.ImportConfig) { c.DateFormat = "%Q" }, KindInvalidConfig},
		{"column not in header", func(c *repository.ImportConfig) { c.DateColumn = "When" }, KindInvalidConfig},
		{"bad skip pattern", func(c *repository.ImportConfig) { c.RowHandling.SkipPatterns = []string{"("} }, KindInvalidConfig},
		{"header row out of range", func(c *repository.ImportConfig) { c.RowHandling.SkipHeaderRows = 10 }, KindHeaderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := brokerConfig()
			tt.mutate(&cfg)
			_, err := svc.CustomPreview(ctx, file("broker.csv", profiledCSV), cfg)
			assert.Equal(t, tt.kind, fileErr(t, err).Kind)
		})
	}
}

func TestCustomConfirm_SaveConfig(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.CustomConfirm(ctx, CustomConfirmRequest{
		File:        file("broker.csv", profiledCSV),
		Config:      brokerConfig(),
		SaveConfig:  true,
		Description: "Monthly brokerage export",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)
	require.NotNil(t, res.ConfigSaved)
	assert.True(t, *res.ConfigSaved)
	assert.Nil(t, res.FormatSaved)
	assert.Len(t, store.Transactions(), 3)

	saved, err := store.GetByName(ctx, "broker")
	require.NoError(t, err)
	assert.Equal(t, "Monthly brokerage export", saved.Description)
	assert.Equal(t, 1, saved.UseCount)

	detected, err := svc.AutoDetect(ctx, file("broker.csv", profiledCSV), "")
	require.NoError(t, err)
	require.NotNil(t, detected.SavedFormat)
	assert.Equal(t, "broker", detected.SavedFormat.Name)
	assert.Equal(t, 1.0, detected.Config.Completeness)
}

// ============================================================================
// Metrics, states and errors
// ============================================================================

func TestMetrics(t *testing.T) {
	svc, _ := newTestService(t)
	m := NewMetrics(prometheus.NewRegistry())
	svc.WithMetrics(m)

	_, err := svc.BatchUpload(context.Background(), []PreviewRequest{
		{File: file("a.csv", checkingCSV)},
		{File: file("empty.csv", "")},
		{File: file("b.csv", overlapCSV)},
	})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.files.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues(string(KindEmptyFile))))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.transactions.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("cross_file_duplicate")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateReceived, StateProfiling, true},
		{StateProfiling, StateConfigReady, true},
		{StateConfigReady, StateParsing, true},
		{StateParsing, StateDeduplicating, true},
		{StateDeduplicating, StatePreviewReturned, true},
		{StatePreviewReturned, StateConfirmed, true},
		{StatePreviewReturned, StateAbandoned, true},
		{StateConfirmed, StatePersisted, true},
		{StateConfirmed, StateFailed, true},
		{StateReceived, StateParsing, false},
		{StateConfigReady, StateFailed, false},
		{StatePreviewReturned, StatePersisted, false},
		{StatePersisted, StateConfirmed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, StatePersisted.Terminal())
	assert.True(t, StateAbandoned.Terminal())
	assert.False(t, StateConfigReady.Terminal())

	lc := newLifecycle("f.csv", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, lc.advance(StatePersisted))
	assert.Panics(t, func() { lc.must(StateConfirmed) })
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"empty", fmtWrap(sniffer.ErrEmptyFile), KindEmptyFile},
		{"unreadable", fmtWrap(sniffer.ErrUnreadableFile), KindUnreadableFile},
		{"header", fmtWrap(sniffer.ErrHeaderNotFound), KindHeaderNotFound},
		{"incomplete", &repository.IncompleteMappingError{Missing: []string{"date_column"}}, KindIncompleteMapping},
		{"invalid", fmtWrap(repository.ErrInvalidConfig), KindInvalidConfig},
		{"persistence", &PersistenceError{Filename: "a.csv", Err: errors.New("boom")}, KindPersistence},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := ClassifyError(tt.err)
			require.NotNil(t, fe)
			assert.Equal(t, tt.want, fe.Kind)
			assert.ErrorIs(t, fe, tt.err)
		})
	}

	assert.Nil(t, ClassifyError(nil))
	fe := &FileError{Kind: KindInternal, Message: "x"}
	assert.Same(t, fe, ClassifyError(fe))
	assert.Equal(t, []string{"date_column"},
		ClassifyError(&repository.IncompleteMappingError{Missing: []string{"date_column"}}).Missing)
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
