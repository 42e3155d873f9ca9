package importtest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/registry"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/service"
)

var (
	from = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
)

func newService() *service.ImportService {
	store := repository.NewMemoryStore()
	return service.NewImportService(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerator_Deterministic(t *testing.T) {
	a, err := CheckingCSV(New(42, from, to).Rows(20))
	require.NoError(t, err)
	b, err := CheckingCSV(New(42, from, to).Rows(20))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, r := range New(7, from, to).Rows(100) {
		assert.False(t, r.Date.Before(from) || r.Date.After(to), r.Date)
		assert.NotZero(t, r.Cents)
		assert.NotEmpty(t, r.Description)
	}
}

func TestCheckingCSV_RoundTripsThroughPreview(t *testing.T) {
	rows := New(1, from, to).Rows(50)
	data, err := CheckingCSV(rows)
	require.NoError(t, err)

	p, err := newService().Preview(context.Background(), service.PreviewRequest{
		File: service.RawFile{Filename: "generated.csv", Data: data},
	})
	require.NoError(t, err)

	assert.Equal(t, registry.BankChecking, p.DetectedFormat)
	assert.Equal(t, 50, p.TransactionCount)
	assert.Empty(t, p.Errors)
	assert.True(t, Total(rows).Equal(p.TotalAmount), "%s != %s", Total(rows), p.TotalAmount)
}

func TestProfiledCSV_NeedsOnlyAnAccount(t *testing.T) {
	rows := New(2, from, to).Rows(30)
	data, err := ProfiledCSV(rows)
	require.NoError(t, err)
	svc := newService()
	file := service.RawFile{Filename: "export.csv", Data: data}

	_, err = svc.Preview(context.Background(), service.PreviewRequest{File: file})
	var incomplete *repository.IncompleteMappingError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{repository.FieldAccountSource}, incomplete.Missing)

	p, err := svc.Preview(context.Background(), service.PreviewRequest{File: file, AccountSource: "Generated"})
	require.NoError(t, err)
	assert.Equal(t, 30, p.TransactionCount)
	assert.True(t, Total(rows).Equal(p.TotalAmount))
}
