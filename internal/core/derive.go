package core

import (
	"time"

	"library-lending/internal/core/model"
)

// AgeInDays is the number of whole days between borrowedAt and now.
// Partial days do not count; a loan borrowed this morning has age 0.
func AgeInDays(borrowedAt, now time.Time) int {
	d := now.Sub(borrowedAt)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// DeriveStatus computes the overdue view of a loan at the given instant.
// It is a pure function: nothing here is cached or stored, so the result
// can never go stale. Returned loans always report a zeroed status — late
// fees are not computed retroactively after the return completes.
func DeriveStatus(l model.Loan, now time.Time, p model.Policy) model.LoanStatus {
	if l.Returned {
		return model.LoanStatus{}
	}

	age := AgeInDays(l.BorrowedAt, now)
	st := model.LoanStatus{}

	if age > p.LoanPeriodDays {
		st.Overdue = true
		st.OverdueDays = age - p.LoanPeriodDays
		st.Penalty = float64(st.OverdueDays) * p.DailyPenaltyRate
	} else {
		st.RemainingDays = p.LoanPeriodDays - age
	}
	return st
}

// truncateToDate drops the clock part, keeping only the calendar date.
func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
