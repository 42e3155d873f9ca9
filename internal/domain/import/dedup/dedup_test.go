package dedup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
)

var jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func parsed(desc, amount, account string) repository.ParsedTransaction {
	return repository.ParsedTransaction{
		Date:          jan15,
		Amount:        decimal.RequireFromString(amount),
		Description:   desc,
		AccountSource: account,
	}
}

func stored(desc string, cents int64, account string) repository.Transaction {
	return repository.Transaction{
		Date:          jan15,
		AmountCents:   cents,
		Description:   desc,
		AccountSource: account,
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint(jan15, -450, "Coffee Shop", "Checking")

	assert.Equal(t, base, Fingerprint(jan15, -450, "  coffee   SHOP ", "checking "), "normalized description and account")
	assert.NotEqual(t, base, Fingerprint(jan15, -451, "Coffee Shop", "Checking"))
	assert.NotEqual(t, base, Fingerprint(jan15.AddDate(0, 0, 1), -450, "Coffee Shop", "Checking"))
	assert.NotEqual(t, base, Fingerprint(jan15, -450, "Coffee Shop", "Savings"))
	assert.Len(t, base, 64)

	// Rounded to cents
	assert.Equal(t, Of(parsed("Coffee Shop", "-4.5", "Checking")), Of(parsed("Coffee Shop", "-4.500", "Checking")))
	assert.Equal(t, base, Of(parsed("Coffee Shop", "-4.50", "Checking")))

	assert.Equal(t,
		StructuralKey(jan15, -450, "Coffee Shop"),
		StructuralKey(jan15, -450, "COFFEE SHOP"))
}

func TestBatch_DatabaseDuplicates(t *testing.T) {
	idx := NewIndex([]repository.Transaction{stored("Coffee", -450, "Checking")})
	b := NewBatch(idx)

	res := b.Check([]repository.ParsedTransaction{
		parsed("Coffee", "-4.50", "Checking"),
		parsed("Books", "-14.50", "Checking"),
	})

	assert.Equal(t, []Status{StatusDuplicate, StatusNew}, res.Statuses)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.CrossFileDuplicates)
	assert.Equal(t, 1, res.New())
}

func TestBatch_CrossFileAttributedToLaterFile(t *testing.T) {
	b := NewBatch(nil)
	shared := parsed("Coffee", "-4.50", "Checking")

	first := b.Check([]repository.ParsedTransaction{shared, parsed("Rent", "-900", "Checking")})
	second := b.Check([]repository.ParsedTransaction{shared})

	assert.Equal(t, 0, first.CrossFileDuplicates)
	assert.Equal(t, 0, first.Duplicates)
	assert.Equal(t, 2, first.New())

	assert.Equal(t, 1, second.CrossFileDuplicates)
	assert.Equal(t, []Status{StatusCrossFile}, second.Statuses)
	assert.Equal(t, 0, second.New())
}

func TestBatch_IdenticalRowsAreCounted(t *testing.T) {
	t.Run("within one file both are new", func(t *testing.T) {
		res := NewBatch(nil).Check([]repository.ParsedTransaction{
			parsed("Coffee", "-4.50", "Checking"),
			parsed("Coffee", "-4.50", "Checking"),
		})
		assert.Equal(t, []Status{StatusNew, StatusNew}, res.Statuses)
	})

	t.Run("database holds one of two", func(t *testing.T) {
		idx := NewIndex([]repository.Transaction{stored("Coffee", -450, "Checking")})
		res := NewBatch(idx).Check([]repository.ParsedTransaction{
			parsed("Coffee", "-4.50", "Checking"),
			parsed("Coffee", "-4.50", "Checking"),
		})
		assert.Equal(t, []Status{StatusDuplicate, StatusNew}, res.Statuses)
	})

	t.Run("earlier file new copies count after the database", func(t *testing.T) {
		idx := NewIndex([]repository.Transaction{stored("Coffee", -450, "Checking")})
		b := NewBatch(idx)
		pair := []repository.ParsedTransaction{
			parsed("Coffee", "-4.50", "Checking"),
			parsed("Coffee", "-4.50", "Checking"),
		}
		a := b.Check(pair)
		assert.Equal(t, []Status{StatusDuplicate, StatusNew}, a.Statuses)

		c := b.Check(append(pair, parsed("Coffee", "-4.50", "Checking")))
		assert.Equal(t, []Status{StatusDuplicate, StatusCrossFile, StatusNew}, c.Statuses)
	})
}

func TestBatch_CrossAccountWarning(t *testing.T) {
	idx := NewIndex([]repository.Transaction{stored("Transfer to savings", -10000, "Savings")})
	res := NewBatch(idx).Check([]repository.ParsedTransaction{
		parsed("Transfer to Savings", "-100.00", "Checking"),
		parsed("Groceries", "-20.00", "Checking"),
	})

	assert.Equal(t, []Status{StatusNew, StatusNew}, res.Statuses, "other accounts never exclude")
	assert.Equal(t, 1, res.CrossAccountWarnings)
	assert.Equal(t, []bool{true, false}, res.CrossAccount)

	// The same account is a duplicate, not a warning
	res = NewBatch(idx).Check([]repository.ParsedTransaction{parsed("Transfer to savings", "-100.00", "Savings")})
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.CrossAccountWarnings)
}

func TestFileResult_Keep(t *testing.T) {
	idx := NewIndex([]repository.Transaction{stored("Coffee", -450, "Checking")})
	txs := []repository.ParsedTransaction{
		parsed("Coffee", "-4.50", "Checking"),
		parsed("Books", "-14.50", "Checking"),
	}
	res := NewBatch(idx).Check(txs)

	kept := res.Keep(txs)
	require.Len(t, kept, 1)
	assert.Equal(t, "Books", kept[0].Description)
	assert.Len(t, res.Fingerprints, 2)
	assert.Equal(t, Of(txs[1]), res.Fingerprints[1])
}

func TestNewIndex_UsesStoredFingerprint(t *testing.T) {
	tx := stored("Coffee", -450, "Checking")
	tx.Fingerprint = Fingerprint(jan15, -450, "Coffee", "Checking")
	idx := NewIndex([]repository.Transaction{tx})
	assert.Equal(t, 1, idx.Count(tx.Fingerprint))
	assert.True(t, idx.InOtherAccount(StructuralKey(jan15, -450, "coffee"), "Savings"))
	assert.False(t, idx.InOtherAccount(StructuralKey(jan15, -450, "coffee"), "checking"))
}

func TestBatch_Forget(t *testing.T) {
	b := NewBatch(nil)
	shared := parsed("Coffee", "-4.50", "Checking")

	failed := b.Check([]repository.ParsedTransaction{shared})
	b.Forget(failed)

	res := b.Check([]repository.ParsedTransaction{shared})
	assert.Equal(t, []Status{StatusNew}, res.Statuses, "a failed file no longer owns its rows")

	b.Forget(FileResult{}) // nothing registered
	assert.Equal(t, StatusCrossFile, b.Check([]repository.ParsedTransaction{shared}).Statuses[0])
}
