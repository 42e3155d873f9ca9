// Package importtest generates realistic bank export files for tests.
package importtest

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// Generator produces transaction rows and renders them as CSV exports.
type Generator struct {
	faker *gofakeit.Faker
	from  time.Time
	to    time.Time
}

// New creates a generator with a fixed seed, dating rows within [from, to].
func New(seed int64, from, to time.Time) *Generator {
	return &Generator{faker: gofakeit.New(seed), from: from, to: to}
}

// Row is one generated transaction.
type Row struct {
	Date        time.Time
	Description string
	Cents       int64
}

// Amount returns the row amount in currency units.
func (r Row) Amount() decimal.Decimal {
	return decimal.New(r.Cents, -2)
}

var merchants = []string{
	"STARBUCKS", "WHOLE FOODS MARKET", "AMAZON MKTPLACE", "SHELL OIL",
	"NETFLIX.COM", "UBER TRIP", "TRADER JOE'S", "CVS PHARMACY",
	"HOME DEPOT", "SPOTIFY USA", "CHEVRON", "COSTCO WHSE",
}

// Rows generates n transactions, mostly expenses with the occasional deposit.
func (g *Generator) Rows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = g.row()
	}
	return rows
}

func (g *Generator) row() Row {
	date := g.faker.DateRange(g.from, g.to)
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	if g.faker.Number(1, 10) == 1 {
		return Row{
			Date:        date,
			Description: fmt.Sprintf("%s PAYROLL", g.faker.Company()),
			Cents:       int64(g.faker.Number(100000, 800000)),
		}
	}
	merchant := merchants[g.faker.Number(0, len(merchants)-1)]
	return Row{
		Date:        date,
		Description: fmt.Sprintf("%s #%s", merchant, g.faker.DigitN(4)),
		Cents:       -int64(g.faker.Number(1, 50000)),
	}
}

// Total sums the amounts of rows.
func Total(rows []Row) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount())
	}
	return total
}

// ============================================================================
// Export layouts
// ============================================================================

// checkingRow is the bank_checking layout: US dates, signed amounts.
type checkingRow struct {
	Date        string `csv:"Date"`
	Amount      string `csv:"Amount"`
	Description string `csv:"Description"`
}

// profiledRow is a layout no built-in format knows: ISO dates, renamed columns.
type profiledRow struct {
	Posted string `csv:"Posted"`
	Payee  string `csv:"Payee"`
	Value  string `csv:"Value"`
}

// CheckingCSV renders rows in the bank_checking layout.
func CheckingCSV(rows []Row) ([]byte, error) {
	out := make([]checkingRow, len(rows))
	for i, r := range rows {
		out[i] = checkingRow{
			Date:        r.Date.Format("01/02/2006"),
			Amount:      r.Amount().StringFixed(2),
			Description: r.Description,
		}
	}
	return marshal(out)
}

// ProfiledCSV renders rows in a layout only the column profiler can map.
func ProfiledCSV(rows []Row) ([]byte, error) {
	out := make([]profiledRow, len(rows))
	for i, r := range rows {
		out[i] = profiledRow{
			Posted: r.Date.Format(time.DateOnly),
			Payee:  r.Description,
			Value:  r.Amount().StringFixed(2),
		}
	}
	return marshal(out)
}

func marshal(v any) ([]byte, error) {
	data, err := gocsv.MarshalBytes(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}
