// Package dedup classifies parsed transactions as new, already persisted,
// or duplicated by an earlier file of the same batch.
//
// Identical transactions are counted rather than collapsed: two identical
// coffee purchases in one file are both new unless the database (or an
// earlier file) already holds two copies.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/pkg/money"
)

// Status is the dedup outcome for one transaction.
type Status string

const (
	StatusNew       Status = "new"
	StatusDuplicate Status = "duplicate"            // already in the database
	StatusCrossFile Status = "cross_file_duplicate" // in an earlier file of the batch
)

// Fingerprint identifies a transaction by date, amount in cents,
// normalized description and account.
func Fingerprint(date time.Time, cents int64, description, account string) string {
	return hash(structuralParts(date, cents, description), strings.ToLower(strings.TrimSpace(account)))
}

// StructuralKey is Fingerprint without the account.
func StructuralKey(date time.Time, cents int64, description string) string {
	return hash(structuralParts(date, cents, description))
}

// Of fingerprints a parsed transaction.
func Of(tx repository.ParsedTransaction) string {
	return Fingerprint(tx.Date, money.Cents(tx.Amount), tx.Description, tx.AccountSource)
}

func structuralParts(date time.Time, cents int64, description string) string {
	return date.Format("2006-01-02") + "|" + strconv.FormatInt(cents, 10) + "|" + normalizer.NormalizeDescription(description)
}

func hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Index counts persisted transactions by fingerprint and by structural key per account.
type Index struct {
	counts     map[string]int
	structural map[string]map[string]int // structural key -> lowercased account -> count
}

// NewIndex indexes existing transactions.
func NewIndex(existing []repository.Transaction) *Index {
	idx := &Index{
		counts:     make(map[string]int, len(existing)),
		structural: make(map[string]map[string]int, len(existing)),
	}
	for _, tx := range existing {
		fp := tx.Fingerprint
		if fp == "" {
			fp = Fingerprint(tx.Date, tx.AmountCents, tx.Description, tx.AccountSource)
		}
		idx.counts[fp]++

		key := StructuralKey(tx.Date, tx.AmountCents, tx.Description)
		accounts := idx.structural[key]
		if accounts == nil {
			accounts = make(map[string]int)
			idx.structural[key] = accounts
		}
		accounts[strings.ToLower(strings.TrimSpace(tx.AccountSource))]++
	}
	return idx
}

// Count returns how many persisted transactions share fingerprint fp.
func (i *Index) Count(fp string) int {
	return i.counts[fp]
}

// InOtherAccount reports whether a persisted transaction with the same
// structural key exists under an account other than account.
func (i *Index) InOtherAccount(key, account string) bool {
	account = strings.ToLower(strings.TrimSpace(account))
	for acc, n := range i.structural[key] {
		if acc != account && n > 0 {
			return true
		}
	}
	return false
}

// FileResult is the classification of one file's transactions.
type FileResult struct {
	Statuses     []Status
	Fingerprints []string
	CrossAccount []bool // new transactions that match another account's history

	Duplicates           int
	CrossFileDuplicates  int
	CrossAccountWarnings int
}

// New counts the transactions that will be imported.
func (r FileResult) New() int {
	return len(r.Statuses) - r.Duplicates - r.CrossFileDuplicates
}

// Keep returns the transactions of txs classified as new.
func (r FileResult) Keep(txs []repository.ParsedTransaction) []repository.ParsedTransaction {
	out := make([]repository.ParsedTransaction, 0, r.New())
	for i, tx := range txs {
		if i < len(r.Statuses) && r.Statuses[i] == StatusNew {
			out = append(out, tx)
		}
	}
	return out
}

// Batch checks files in submission order. A transaction in a later file that
// repeats one from an earlier file is attributed to the later file only.
// Batch is not safe for concurrent use.
type Batch struct {
	index *Index
	seen  map[string]int // new transactions registered by earlier files
}

// NewBatch starts a batch against index. A nil index means an empty database.
func NewBatch(index *Index) *Batch {
	if index == nil {
		index = NewIndex(nil)
	}
	return &Batch{index: index, seen: make(map[string]int)}
}

// Check classifies txs and registers the file's new transactions for later files.
func (b *Batch) Check(txs []repository.ParsedTransaction) FileResult {
	res := FileResult{
		Statuses:     make([]Status, len(txs)),
		Fingerprints: make([]string, len(txs)),
		CrossAccount: make([]bool, len(txs)),
	}
	occurrences := make(map[string]int)
	added := make(map[string]int)

	for i, tx := range txs {
		cents := money.Cents(tx.Amount)
		fp := Fingerprint(tx.Date, cents, tx.Description, tx.AccountSource)
		res.Fingerprints[i] = fp

		occurrences[fp]++
		k := occurrences[fp]
		inDB := b.index.Count(fp)

		switch {
		case k <= inDB:
			res.Statuses[i] = StatusDuplicate
			res.Duplicates++
		case k <= inDB+b.seen[fp]:
			res.Statuses[i] = StatusCrossFile
			res.CrossFileDuplicates++
		default:
			res.Statuses[i] = StatusNew
			added[fp]++
			if b.index.InOtherAccount(StructuralKey(tx.Date, cents, tx.Description), tx.AccountSource) {
				res.CrossAccount[i] = true
				res.CrossAccountWarnings++
			}
		}
	}

	for fp, n := range added {
		b.seen[fp] += n
	}
	return res
}

// Forget unregisters the new transactions of res, for a file whose write
// failed. Later files then see its rows as new instead of cross-file.
func (b *Batch) Forget(res FileResult) {
	for i, st := range res.Statuses {
		if st != StatusNew {
			continue
		}
		fp := res.Fingerprints[i]
		if b.seen[fp] <= 1 {
			delete(b.seen, fp)
			continue
		}
		b.seen[fp]--
	}
}
