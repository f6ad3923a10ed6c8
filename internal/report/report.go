package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mledur/billkeeper/internal/models"
)

// ApplyFilter returns the accounts matching every set filter field,
// preserving the order of the source set.
func ApplyFilter(accounts []models.Account, f models.Filter) []models.Account {
	out := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// Build folds the accounts due in (month, year) into per-status and
// per-category sums. Every status and category bucket is present, zero
// when empty, so consumers never branch on missing keys. The fold is
// deterministic: the same input set always yields the same report.
func Build(accounts []models.Account, month time.Month, year int) models.Report {
	r := models.Report{
		Month:      int(month),
		Year:       year,
		ByStatus:   make(map[models.Status]decimal.Decimal, 3),
		ByCategory: make(map[models.Category]decimal.Decimal, 5),
		Total:      decimal.Zero,
	}
	for _, s := range models.Statuses() {
		r.ByStatus[s] = decimal.Zero
	}
	for _, c := range models.Categories() {
		r.ByCategory[c] = decimal.Zero
	}

	for _, a := range accounts {
		if !a.DueDate.In(month, year) {
			continue
		}
		r.ByStatus[a.Status] = r.ByStatus[a.Status].Add(a.Amount)
		r.ByCategory[a.Category] = r.ByCategory[a.Category].Add(a.Amount)
		r.Total = r.Total.Add(a.Amount)
	}
	return r
}
