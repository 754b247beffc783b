package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"library-lending/internal/core/model"
)

// Service is the lending policy engine. It owns every borrowing rule and
// delegates atomic state changes to the Store. Now is injectable so the
// time-based derivations stay testable.
type Service struct {
	Store  Store
	Policy model.Policy
	Now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]int64 // bearer token -> user id
}

func NewService(store Store, policy model.Policy) *Service {
	return &Service{
		Store:    store,
		Policy:   policy,
		Now:      time.Now,
		sessions: make(map[string]int64),
	}
}

// ------------------------------ catalog ------------------------------

func (s *Service) AddBook(ctx context.Context, in model.AddBookInput) (model.Book, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Author) == "" {
		return model.Book{}, fmt.Errorf("%w: name and author are required", model.ErrInvalidArgument)
	}
	if in.Stock < 0 {
		return model.Book{}, fmt.Errorf("%w: stock must not be negative", model.ErrInvalidArgument)
	}

	// duplicate protection: same name + author means the same book
	if _, err := s.Store.GetBookByNameAuthor(ctx, in.Name, in.Author); err == nil {
		return model.Book{}, fmt.Errorf("%w: book %q by %q already exists", model.ErrDuplicateEntry, in.Name, in.Author)
	}

	b := model.Book{
		Name:        in.Name,
		Author:      in.Author,
		Category:    in.Category,
		Stock:       in.Stock,
		Description: in.Description,
	}
	return s.Store.CreateBook(ctx, b)
}

func (s *Service) GetBook(ctx context.Context, id int64) (model.Book, error) {
	return s.Store.GetBook(ctx, id)
}

func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	return s.Store.ListBooks(ctx)
}

func (s *Service) UpdateBook(ctx context.Context, b model.Book) (model.Book, error) {
	if b.Stock < 0 {
		return model.Book{}, fmt.Errorf("%w: stock must not be negative", model.ErrInvalidArgument)
	}
	if _, err := s.Store.GetBook(ctx, b.ID); err != nil {
		return model.Book{}, err
	}
	if err := s.Store.UpdateBook(ctx, b); err != nil {
		return model.Book{}, err
	}
	return b, nil
}

func (s *Service) UpdateStock(ctx context.Context, bookID int64, newStock int) (model.Book, error) {
	if newStock < 0 {
		return model.Book{}, fmt.Errorf("%w: stock must not be negative", model.ErrInvalidArgument)
	}
	b, err := s.Store.GetBook(ctx, bookID)
	if err != nil {
		return model.Book{}, err
	}
	b.Stock = newStock
	if err := s.Store.UpdateBook(ctx, b); err != nil {
		return model.Book{}, err
	}
	return b, nil
}

// DeleteBook refuses to remove a book that active loans still reference,
// so loan records never dangle.
func (s *Service) DeleteBook(ctx context.Context, bookID int64) error {
	if _, err := s.Store.GetBook(ctx, bookID); err != nil {
		return err
	}
	active, err := s.Store.CountActiveLoansForBook(ctx, bookID)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: book has %d active loans", model.ErrConflict, active)
	}
	return s.Store.DeleteBook(ctx, bookID)
}

// SearchBooks filters by case-sensitive substring over name or author and
// by exact category; category "all" matches everything.
func (s *Service) SearchBooks(ctx context.Context, q model.SearchQuery) ([]model.Book, error) {
	books, err := s.Store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	out := books[:0]
	for _, b := range books {
		if q.Keyword != "" && !strings.Contains(b.Name, q.Keyword) && !strings.Contains(b.Author, q.Keyword) {
			continue
		}
		if q.Category != "" && q.Category != model.CategoryAll && b.Category != q.Category {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// --------------------------- loan lifecycle ---------------------------

// BorrowBook runs the eligibility checks in a fixed order: book exists,
// stock left, account in good standing (admins skip the standing checks
// but never the stock check), no active loan for the same book. The store
// applies the loan insert and the stock decrement atomically.
func (s *Service) BorrowBook(ctx context.Context, userID, bookID int64) (model.Loan, error) {
	book, err := s.Store.GetBook(ctx, bookID)
	if err != nil {
		return model.Loan{}, err
	}
	if book.Stock <= 0 {
		return model.Loan{}, fmt.Errorf("%w: %q has no copies left", model.ErrOutOfStock, book.Name)
	}

	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return model.Loan{}, err
	}
	if !user.IsAdmin() {
		if user.Disabled {
			return model.Loan{}, fmt.Errorf("%w: account is suspended", model.ErrAccountSuspended)
		}
		if user.ViolationCount >= s.Policy.ViolationLimit {
			return model.Loan{}, fmt.Errorf("%w: %d violations", model.ErrViolationLimit, user.ViolationCount)
		}
	}

	held, err := s.Store.HasActiveLoan(ctx, userID, bookID)
	if err != nil {
		return model.Loan{}, err
	}
	if held {
		return model.Loan{}, fmt.Errorf("%w: user already holds %q", model.ErrDuplicateLoan, book.Name)
	}

	l := model.Loan{
		UserID:     userID,
		BookID:     bookID,
		BorrowedAt: truncateToDate(s.Now()),
	}
	return s.Store.CreateLoan(ctx, l)
}

// ReturnBook terminates the loan. When the loan comes back past the loan
// period the user is charged a violation; the returned record itself
// reports a zeroed overdue status from then on.
func (s *Service) ReturnBook(ctx context.Context, loanID int64) (model.Loan, error) {
	returnedAt := truncateToDate(s.Now())
	l, err := s.Store.FinishLoan(ctx, loanID, returnedAt)
	if err != nil {
		return model.Loan{}, err
	}

	if AgeInDays(l.BorrowedAt, returnedAt) > s.Policy.LoanPeriodDays {
		if _, err := s.AddViolation(ctx, l.UserID); err != nil {
			return model.Loan{}, err
		}
	}
	return l, nil
}

// RenewBook pushes the due date out by one loan period. Renewal is only
// open inside the eligibility window: fewer than RenewalWindowDays left
// before (or any time past) the due date. Each loan renews once unless
// the policy allows repeats.
func (s *Service) RenewBook(ctx context.Context, loanID int64) (model.Loan, error) {
	l, err := s.Store.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}
	if l.Returned {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrAlreadyReturned, loanID)
	}
	if l.RenewalUsed && !s.Policy.AllowRepeatRenewals {
		return model.Loan{}, fmt.Errorf("%w: loan already renewed once", model.ErrRenewalNotEligible)
	}

	remaining := s.Policy.LoanPeriodDays - AgeInDays(l.BorrowedAt, s.Now())
	if remaining >= s.Policy.RenewalWindowDays {
		return model.Loan{}, fmt.Errorf("%w: %d days remaining, renewable within %d days of due date",
			model.ErrRenewalNotEligible, remaining, s.Policy.RenewalWindowDays)
	}

	l.BorrowedAt = l.BorrowedAt.AddDate(0, 0, s.Policy.LoanPeriodDays)
	l.RenewalUsed = true
	return s.Store.RenewLoan(ctx, l)
}

// UserLoans lists a user's loans with derived status and book info.
func (s *Service) UserLoans(ctx context.Context, userID int64, activeOnly bool) ([]model.LoanView, error) {
	loans, err := s.Store.LoansByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.Now()

	views := make([]model.LoanView, 0, len(loans))
	for _, l := range loans {
		if activeOnly && l.Returned {
			continue
		}
		v := model.LoanView{
			Loan:       l,
			Status:     DeriveStatus(l, now, s.Policy),
			BookName:   "unknown",
			BookAuthor: "unknown",
		}
		if b, err := s.Store.GetBook(ctx, l.BookID); err == nil {
			v.BookName = b.Name
			v.BookAuthor = b.Author
		}
		views = append(views, v)
	}
	return views, nil
}

// ------------------------- violation accounting -------------------------

// AddViolation bumps the user's violation count; reaching the limit
// disables the account. The transition is one-way: only an explicit reset
// touches the count again, and re-enabling is a separate decision.
func (s *Service) AddViolation(ctx context.Context, userID int64) (model.User, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	u.ViolationCount++
	if u.ViolationCount >= s.Policy.ViolationLimit {
		u.Disabled = true
	}
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// ResetViolations zeroes the count. It does not re-enable a suspended
// account unless the policy says so; un-suspension stays an explicit
// administrative act by default.
func (s *Service) ResetViolations(ctx context.Context, userID int64) (model.User, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	u.ViolationCount = 0
	if s.Policy.ResetRestoresAccount {
		u.Disabled = false
	}
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// ------------------------------ users ------------------------------

func (s *Service) AddUser(ctx context.Context, in model.AddUserInput) (model.User, error) {
	if strings.TrimSpace(in.Username) == "" || in.Password == "" {
		return model.User{}, fmt.Errorf("%w: username and password are required", model.ErrInvalidArgument)
	}
	role := in.Role
	if role == "" {
		role = model.RoleUser
	}
	if role != model.RoleUser && role != model.RoleAdmin {
		return model.User{}, fmt.Errorf("%w: unknown role %q", model.ErrInvalidArgument, in.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{
		Username:     in.Username,
		PasswordHash: string(hash),
		Role:         role,
	}
	return s.Store.CreateUser(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id int64) (model.User, error) {
	return s.Store.GetUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.Store.ListUsers(ctx)
}

func (s *Service) UpdateUser(ctx context.Context, u model.User) (model.User, error) {
	current, err := s.Store.GetUser(ctx, u.ID)
	if err != nil {
		return model.User{}, err
	}
	if u.PasswordHash == "" {
		u.PasswordHash = current.PasswordHash
	}
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// DeleteUser refuses to remove the caller's own account and the last
// remaining administrator.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID int64) error {
	if actorID == targetID {
		return fmt.Errorf("%w: cannot delete the signed-in account", model.ErrConflict)
	}
	target, err := s.Store.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsAdmin() {
		users, err := s.Store.ListUsers(ctx)
		if err != nil {
			return err
		}
		admins := 0
		for _, u := range users {
			if u.IsAdmin() {
				admins++
			}
		}
		if admins <= 1 {
			return fmt.Errorf("%w: cannot delete the only administrator", model.ErrConflict)
		}
	}
	return s.Store.DeleteUser(ctx, targetID)
}

// --------------------------- authentication ---------------------------

// Login verifies the credentials and issues an opaque bearer token. The
// failure message never says whether the username or the password was
// wrong.
func (s *Service) Login(ctx context.Context, username, password string) (string, model.User, error) {
	u, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", model.User{}, fmt.Errorf("%w: invalid username or password", model.ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", model.User{}, fmt.Errorf("%w: invalid username or password", model.ErrUnauthorized)
	}
	if u.Disabled {
		return "", model.User{}, fmt.Errorf("%w: account is suspended", model.ErrAccountSuspended)
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = u.ID
	s.mu.Unlock()
	return token, u, nil
}

func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Authenticate resolves a bearer token to its user. A token for a since-
// suspended account still authenticates; suspension gates borrowing and
// login, not session lookup.
func (s *Service) Authenticate(ctx context.Context, token string) (model.User, error) {
	s.mu.RLock()
	userID, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return model.User{}, fmt.Errorf("%w: unknown token", model.ErrUnauthorized)
	}
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, fmt.Errorf("%w: unknown token", model.ErrUnauthorized)
		}
		return model.User{}, err
	}
	return u, nil
}
