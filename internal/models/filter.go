package models

// Filter is a conjunctive predicate over accounts. Nil fields match
// everything. The active filter is persisted across sessions.
type Filter struct {
	Month    *int      `json:"month,omitempty"` // 1-12
	Year     *int      `json:"year,omitempty"`
	Category *Category `json:"category,omitempty"`
	Status   *Status   `json:"status,omitempty"`
}

// Matches reports whether the account satisfies every set field.
func (f Filter) Matches(a Account) bool {
	if f.Month != nil && int(a.DueDate.Month) != *f.Month {
		return false
	}
	if f.Year != nil && a.DueDate.Year != *f.Year {
		return false
	}
	if f.Category != nil && a.Category != *f.Category {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}

// Validate checks the ranges of the set fields.
func (f Filter) Validate() error {
	var errs ValidationError
	if f.Month != nil && (*f.Month < 1 || *f.Month > 12) {
		errs.add("month", "month must be between 1 and 12")
	}
	if f.Category != nil && !f.Category.Valid() {
		errs.add("category", "unknown category")
	}
	if f.Status != nil && !f.Status.Valid() {
		errs.add("status", "unknown status")
	}
	if len(errs.Fields) > 0 {
		return &errs
	}
	return nil
}
