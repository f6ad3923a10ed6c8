package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Statuses lists every status in a fixed order.
func Statuses() []Status {
	return []Status{StatusOpen, StatusPaid, StatusOverdue}
}

// Category classifies a payable account.
type Category string

const (
	CategoryFixed    Category = "fixed"
	CategoryVariable Category = "variable"
	CategoryCard     Category = "card"
	CategoryTax      Category = "tax"
	CategoryOther    Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFixed, CategoryVariable, CategoryCard, CategoryTax, CategoryOther:
		return true
	}
	return false
}

// Categories lists every category in a fixed order.
func Categories() []Category {
	return []Category{CategoryFixed, CategoryVariable, CategoryCard, CategoryTax, CategoryOther}
}

// Account represents a single payable bill.
//
// Invariants: PaymentDate is set if and only if Status is paid;
// Status overdue implies DueDate is before today and PaymentDate is nil.
type Account struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     Date            `json:"due_date"`
	PaymentDate *time.Time      `json:"payment_date"`
	Status      Status          `json:"status"`
	Category    Category        `json:"category"`
	Note        string          `json:"note,omitempty"`
}

// AccountPatch is a partial update sent to the backend. Nil fields are
// left untouched by the update.
type AccountPatch struct {
	Name        *string          `json:"name,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	DueDate     *Date            `json:"due_date,omitempty"`
	PaymentDate *time.Time       `json:"payment_date,omitempty"`
	Status      *Status          `json:"status,omitempty"`
	Category    *Category        `json:"category,omitempty"`
	Note        *string          `json:"note,omitempty"`
}

const (
	maxNameLen = 100
	maxNoteLen = 500
)

// Validate checks field constraints before any remote call is made.
func (a Account) Validate() error {
	var errs ValidationError
	if a.Name == "" {
		errs.add("name", "name is required")
	}
	if len(a.Name) > maxNameLen {
		errs.add("name", "name must be at most 100 characters")
	}
	if !a.Amount.IsPositive() {
		errs.add("amount", "amount must be positive")
	}
	if a.DueDate.IsZero() {
		errs.add("due_date", "due date is required")
	}
	if !a.Category.Valid() {
		errs.add("category", "unknown category")
	}
	if len(a.Note) > maxNoteLen {
		errs.add("note", "note must be at most 500 characters")
	}
	if len(errs.Fields) > 0 {
		return &errs
	}
	return nil
}

// Validate checks the constraints of the fields present in the patch.
func (p AccountPatch) Validate() error {
	var errs ValidationError
	if p.Name != nil {
		if *p.Name == "" {
			errs.add("name", "name must not be empty")
		}
		if len(*p.Name) > maxNameLen {
			errs.add("name", "name must be at most 100 characters")
		}
	}
	if p.Amount != nil && !p.Amount.IsPositive() {
		errs.add("amount", "amount must be positive")
	}
	if p.DueDate != nil && p.DueDate.IsZero() {
		errs.add("due_date", "due date must be a valid date")
	}
	if p.Category != nil && !p.Category.Valid() {
		errs.add("category", "unknown category")
	}
	if p.Status != nil && !p.Status.Valid() {
		errs.add("status", "unknown status")
	}
	if p.Note != nil && len(*p.Note) > maxNoteLen {
		errs.add("note", "note must be at most 500 characters")
	}
	if len(errs.Fields) > 0 {
		return &errs
	}
	return nil
}
