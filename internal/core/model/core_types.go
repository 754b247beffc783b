package model

import (
	"errors"
	"time"
)

// All core models live here together for simplicity.

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Policy denial kinds. Every failure the engine produces wraps one of
// these sentinels so callers can branch with errors.Is.
var (
	ErrNotFound           = errors.New("not_found")
	ErrDuplicateEntry     = errors.New("duplicate_entry")
	ErrDuplicateLoan      = errors.New("duplicate_loan")
	ErrOutOfStock         = errors.New("out_of_stock")
	ErrAccountSuspended   = errors.New("account_suspended")
	ErrViolationLimit     = errors.New("violation_limit_exceeded")
	ErrAlreadyReturned    = errors.New("already_returned")
	ErrRenewalNotEligible = errors.New("renewal_not_eligible")
	ErrInvalidArgument    = errors.New("invalid_argument")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrStorageUnavailable = errors.New("storage_unavailable")
)

type Book struct {
	ID           int64
	Name         string
	Author       string
	Category     string
	Stock        int
	BorrowCount  int
	Description  string
	Rating       float64
	CommentCount int
}

// Loan is a single borrow record. ReturnedAt stays nil while the loan is
// active. BorrowedAt is date-truncated: the engine counts whole days.
type Loan struct {
	ID          int64
	UserID      int64
	BookID      int64
	BorrowedAt  time.Time
	ReturnedAt  *time.Time
	Returned    bool
	RenewalUsed bool
}

// LoanStatus is derived from (loan, now); it is never stored.
type LoanStatus struct {
	Overdue       bool
	OverdueDays   int
	RemainingDays int
	Penalty       float64
}

// LoanView joins a loan with its derived status and book info for listings.
type LoanView struct {
	Loan
	Status     LoanStatus
	BookName   string
	BookAuthor string
}

type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	Role           Role
	ViolationCount int
	Disabled       bool
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Policy carries the tunable lending rules. Defaults mirror the 7-day loan
// period with a 0.5/day late fee and suspension at 3 violations.
type Policy struct {
	LoanPeriodDays       int
	DailyPenaltyRate     float64
	RenewalWindowDays    int
	AllowRepeatRenewals  bool
	ViolationLimit       int
	ResetRestoresAccount bool
}

func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:    7,
		DailyPenaltyRate:  0.5,
		RenewalWindowDays: 3,
		ViolationLimit:    3,
	}
}

// CategoryAll is the sentinel that disables category filtering in searches.
const CategoryAll = "all"

type SearchQuery struct {
	Keyword  string
	Category string
}

type AddBookInput struct {
	Name        string
	Author      string
	Category    string
	Stock       int
	Description string
}

type AddUserInput struct {
	Username string
	Password string
	Role     Role
}
