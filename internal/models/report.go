package models

import "github.com/shopspring/decimal"

// Report aggregates the amounts of one month's accounts by status and by
// category. It is always derived from the record set, never stored as a
// source of truth.
type Report struct {
	Month      int                          `json:"month"`
	Year       int                          `json:"year"`
	ByStatus   map[Status]decimal.Decimal   `json:"by_status"`
	ByCategory map[Category]decimal.Decimal `json:"by_category"`
	Total      decimal.Decimal              `json:"total"`
}
