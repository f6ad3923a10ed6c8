package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mledur/billkeeper/internal/models"
)

func account(id string, amount float64, due models.Date, status models.Status, cat models.Category) models.Account {
	acc := models.Account{
		ID:       id,
		OwnerID:  "owner-1",
		Name:     "Bill " + id,
		Amount:   decimal.NewFromFloat(amount),
		DueDate:  due,
		Status:   status,
		Category: cat,
	}
	if status == models.StatusPaid {
		paid := time.Date(due.Year, due.Month, due.Day, 10, 0, 0, 0, time.UTC)
		acc.PaymentDate = &paid
	}
	return acc
}

func augustSet() []models.Account {
	aug := func(day int) models.Date { return models.NewDate(2026, time.August, day) }
	return []models.Account{
		account("a1", 100.50, aug(5), models.StatusPaid, models.CategoryFixed),
		account("a2", 200, aug(10), models.StatusOpen, models.CategoryVariable),
		account("a3", 49.90, aug(15), models.StatusPaid, models.CategoryCard),
		account("a4", 300, aug(20), models.StatusOverdue, models.CategoryTax),
		account("a5", 80, aug(25), models.StatusOpen, models.CategoryFixed),
	}
}

func TestApplyFilterByStatusPreservesOrder(t *testing.T) {
	paid := models.StatusPaid
	got := ApplyFilter(augustSet(), models.Filter{Status: &paid})

	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "a3", got[1].ID)
}

func TestApplyFilterEmptyMatchesEverything(t *testing.T) {
	assert.Len(t, ApplyFilter(augustSet(), models.Filter{}), 5)
}

func TestApplyFilterConjunction(t *testing.T) {
	month := 8
	cat := models.CategoryFixed
	status := models.StatusOpen
	got := ApplyFilter(augustSet(), models.Filter{Month: &month, Category: &cat, Status: &status})

	require.Len(t, got, 1)
	assert.Equal(t, "a5", got[0].ID)
}

func TestBuildReportFoldingsAgree(t *testing.T) {
	accounts := append(augustSet(),
		// A September bill must not leak into the August report.
		account("next-month", 999, models.NewDate(2026, time.September, 1), models.StatusOpen, models.CategoryOther),
	)
	r := Build(accounts, time.August, 2026)

	want := decimal.NewFromFloat(730.40)
	assert.True(t, r.Total.Equal(want), "total = %s", r.Total)

	statusSum := decimal.Zero
	for _, v := range r.ByStatus {
		statusSum = statusSum.Add(v)
	}
	categorySum := decimal.Zero
	for _, v := range r.ByCategory {
		categorySum = categorySum.Add(v)
	}
	assert.True(t, statusSum.Equal(r.Total), "status buckets must fold to the total")
	assert.True(t, categorySum.Equal(r.Total), "category buckets must fold to the total")
}

func TestBuildReportAllBucketsPresent(t *testing.T) {
	r := Build(nil, time.January, 2026)

	require.Len(t, r.ByStatus, 3)
	require.Len(t, r.ByCategory, 5)
	for _, s := range models.Statuses() {
		v, ok := r.ByStatus[s]
		require.True(t, ok)
		assert.True(t, v.IsZero())
	}
	for _, c := range models.Categories() {
		v, ok := r.ByCategory[c]
		require.True(t, ok)
		assert.True(t, v.IsZero())
	}
	assert.True(t, r.Total.IsZero())
}

func TestBuildReportDeterministic(t *testing.T) {
	a := Build(augustSet(), time.August, 2026)
	b := Build(augustSet(), time.August, 2026)
	assert.Equal(t, a, b)
}

func TestExportXML(t *testing.T) {
	out, err := ExportXML(Build(augustSet(), time.August, 2026))
	require.NoError(t, err)

	xml := string(out)
	assert.Contains(t, xml, `<report month="08" year="2026">`)
	assert.Contains(t, xml, `<status name="paid">150.40</status>`)
	assert.Contains(t, xml, `<status name="open">280.00</status>`)
	assert.Contains(t, xml, `<status name="overdue">300.00</status>`)
	assert.Contains(t, xml, `<category name="fixed">180.50</category>`)
	assert.Contains(t, xml, `<total>730.40</total>`)
}
