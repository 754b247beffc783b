//go:build unit

package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/internal/adapter"
	"library-lending/internal/core"
	"library-lending/internal/core/model"
)

var fixedNow = time.Date(2025, time.November, 20, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *core.Service {
	t.Helper()
	svc := core.NewService(adapter.NewMemoryStore(), model.DefaultPolicy())
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

func addBook(t *testing.T, svc *core.Service, name string, stock int) model.Book {
	t.Helper()
	b, err := svc.AddBook(context.Background(), model.AddBookInput{
		Name:     name,
		Author:   "Author of " + name,
		Category: "fiction",
		Stock:    stock,
	})
	require.NoError(t, err)
	return b
}

func addUser(t *testing.T, svc *core.Service, username string, role model.Role) model.User {
	t.Helper()
	u, err := svc.AddUser(context.Background(), model.AddUserInput{
		Username: username,
		Password: username + "123",
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

// ------------------------------ catalog ------------------------------

func TestAddBook_AssignsSequentialIDs(t *testing.T) {
	svc := newTestService(t)

	b1 := addBook(t, svc, "Dune", 3)
	b2 := addBook(t, svc, "Hyperion", 2)

	assert.Equal(t, int64(1), b1.ID)
	assert.Equal(t, int64(2), b2.ID)
}

func TestAddBook_RejectsDuplicateNameAuthor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := addBook(t, svc, "Dune", 3)
	_, err := svc.AddBook(ctx, model.AddBookInput{Name: first.Name, Author: first.Author, Stock: 1})
	assert.ErrorIs(t, err, model.ErrDuplicateEntry)

	// same title by a different author is a different book
	_, err = svc.AddBook(ctx, model.AddBookInput{Name: first.Name, Author: "Someone Else", Stock: 1})
	assert.NoError(t, err)
}

func TestAddBook_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddBook(ctx, model.AddBookInput{Name: "  ", Author: "X"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = svc.AddBook(ctx, model.AddBookInput{Name: "X", Author: "Y", Stock: -1})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSearchBooks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dune := addBook(t, svc, "Dune", 1)
	addBook(t, svc, "Hyperion", 1)
	history, err := svc.AddBook(ctx, model.AddBookInput{
		Name: "Guns, Germs, and Steel", Author: "Jared Diamond", Category: "history", Stock: 1,
	})
	require.NoError(t, err)

	got, err := svc.SearchBooks(ctx, model.SearchQuery{Keyword: "Dune"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, dune.ID, got[0].ID)

	// keyword matching is case-sensitive
	got, err = svc.SearchBooks(ctx, model.SearchQuery{Keyword: "dune"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// keyword also matches the author field
	got, err = svc.SearchBooks(ctx, model.SearchQuery{Keyword: "Diamond"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, history.ID, got[0].ID)

	got, err = svc.SearchBooks(ctx, model.SearchQuery{Category: "history"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = svc.SearchBooks(ctx, model.SearchQuery{Category: model.CategoryAll})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDeleteBook_BlockedByActiveLoan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	err = svc.DeleteBook(ctx, b.ID)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = svc.ReturnBook(ctx, l.ID)
	require.NoError(t, err)

	assert.NoError(t, svc.DeleteBook(ctx, b.ID))
}

// --------------------------- loan lifecycle ---------------------------

func TestBorrowBook_DecrementsStockAndCountsBorrow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 2)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, l.UserID)
	assert.Equal(t, b.ID, l.BookID)
	assert.False(t, l.Returned)
	// the borrow timestamp is recorded at day granularity
	assert.Equal(t, time.Date(2025, time.November, 20, 0, 0, 0, 0, time.UTC), l.BorrowedAt)

	got, err := svc.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
	assert.Equal(t, 1, got.BorrowCount)
}

func TestBorrowBook_OutOfStock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	alice := addUser(t, svc, "alice", model.RoleUser)
	bob := addUser(t, svc, "bob", model.RoleUser)

	_, err := svc.BorrowBook(ctx, alice.ID, b.ID)
	require.NoError(t, err)

	_, err = svc.BorrowBook(ctx, bob.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrOutOfStock)
}

func TestBorrowBook_DuplicateLoan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 5)
	u := addUser(t, svc, "alice", model.RoleUser)

	_, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	_, err = svc.BorrowBook(ctx, u.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrDuplicateLoan)
}

func TestBorrowBook_StandingChecks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 5)

	suspended := addUser(t, svc, "suspended", model.RoleUser)
	suspended.Disabled = true
	_, err := svc.UpdateUser(ctx, suspended)
	require.NoError(t, err)

	_, err = svc.BorrowBook(ctx, suspended.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrAccountSuspended)

	offender := addUser(t, svc, "offender", model.RoleUser)
	offender.ViolationCount = svc.Policy.ViolationLimit
	_, err = svc.UpdateUser(ctx, offender)
	require.NoError(t, err)

	_, err = svc.BorrowBook(ctx, offender.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrViolationLimit)
}

func TestBorrowBook_AdminSkipsStandingButNotStock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	admin := addUser(t, svc, "root", model.RoleAdmin)
	admin.ViolationCount = 99
	admin.Disabled = true
	_, err := svc.UpdateUser(ctx, admin)
	require.NoError(t, err)

	stocked := addBook(t, svc, "Dune", 1)
	_, err = svc.BorrowBook(ctx, admin.ID, stocked.ID)
	assert.NoError(t, err)

	empty := addBook(t, svc, "Hyperion", 0)
	_, err = svc.BorrowBook(ctx, admin.ID, empty.ID)
	assert.ErrorIs(t, err, model.ErrOutOfStock)
}

func TestReturnBook_RestoresStock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	returned, err := svc.ReturnBook(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, returned.Returned)
	require.NotNil(t, returned.ReturnedAt)

	got, err := svc.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
	assert.Equal(t, 1, got.BorrowCount)

	_, err = svc.ReturnBook(ctx, l.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyReturned)
}

func TestReturnBook_LateReturnChargesViolation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	borrowDay := time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return borrowDay }
	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	// 19 days out, well past the 7-day period
	svc.Now = func() time.Time { return fixedNow }
	_, err = svc.ReturnBook(ctx, l.ID)
	require.NoError(t, err)

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViolationCount)
	assert.False(t, got.Disabled)
}

func TestReturnBook_OnTimeReturnIsFree(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, 7) }
	_, err = svc.ReturnBook(ctx, l.ID)
	require.NoError(t, err)

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ViolationCount)
}

func TestRenewBook(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	// day 0: 7 days remain, outside the renewal window
	_, err = svc.RenewBook(ctx, l.ID)
	assert.ErrorIs(t, err, model.ErrRenewalNotEligible)

	// day 5: 2 days remain, renewable
	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, 5) }
	renewed, err := svc.RenewBook(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, renewed.RenewalUsed)
	assert.Equal(t, l.BorrowedAt.AddDate(0, 0, svc.Policy.LoanPeriodDays), renewed.BorrowedAt)

	// a second renewal is refused even inside the window
	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, 12) }
	_, err = svc.RenewBook(ctx, l.ID)
	assert.ErrorIs(t, err, model.ErrRenewalNotEligible)
}

func TestRenewBook_OverdueLoanIsStillRenewable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, 10) }
	renewed, err := svc.RenewBook(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, renewed.RenewalUsed)
}

func TestRenewBook_ReturnedLoan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)
	_, err = svc.ReturnBook(ctx, l.ID)
	require.NoError(t, err)

	_, err = svc.RenewBook(ctx, l.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyReturned)
}

func TestRenewBook_RepeatRenewalsWhenPolicyAllows(t *testing.T) {
	svc := newTestService(t)
	svc.Policy.AllowRepeatRenewals = true
	ctx := context.Background()

	b := addBook(t, svc, "Dune", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	l, err := svc.BorrowBook(ctx, u.ID, b.ID)
	require.NoError(t, err)

	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, 5) }
	_, err = svc.RenewBook(ctx, l.ID)
	require.NoError(t, err)

	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, 12) }
	_, err = svc.RenewBook(ctx, l.ID)
	assert.NoError(t, err)
}

func TestUserLoans(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b1 := addBook(t, svc, "Dune", 1)
	b2 := addBook(t, svc, "Hyperion", 1)
	u := addUser(t, svc, "alice", model.RoleUser)

	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, -15) }
	overdue, err := svc.BorrowBook(ctx, u.ID, b1.ID)
	require.NoError(t, err)

	svc.Now = func() time.Time { return fixedNow.AddDate(0, 0, -2) }
	fresh, err := svc.BorrowBook(ctx, u.ID, b2.ID)
	require.NoError(t, err)

	svc.Now = func() time.Time { return fixedNow }
	views, err := svc.UserLoans(ctx, u.ID, false)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, overdue.ID, views[0].ID)
	assert.True(t, views[0].Status.Overdue)
	assert.Equal(t, 8, views[0].Status.OverdueDays)
	assert.InDelta(t, 4.0, views[0].Status.Penalty, 1e-9)
	assert.Equal(t, "Dune", views[0].BookName)

	assert.Equal(t, fresh.ID, views[1].ID)
	assert.False(t, views[1].Status.Overdue)
	assert.Equal(t, 5, views[1].Status.RemainingDays)

	_, err = svc.ReturnBook(ctx, overdue.ID)
	require.NoError(t, err)

	active, err := svc.UserLoans(ctx, u.ID, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)
}

// ------------------------- violation accounting -------------------------

func TestViolationLimitDisablesAccount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u := addUser(t, svc, "alice", model.RoleUser)

	for i := 0; i < svc.Policy.ViolationLimit-1; i++ {
		got, err := svc.AddViolation(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, got.Disabled)
	}

	got, err := svc.AddViolation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.Policy.ViolationLimit, got.ViolationCount)
	assert.True(t, got.Disabled)
}

func TestResetViolations_DoesNotReEnableByDefault(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u := addUser(t, svc, "alice", model.RoleUser)
	for i := 0; i < svc.Policy.ViolationLimit; i++ {
		_, err := svc.AddViolation(ctx, u.ID)
		require.NoError(t, err)
	}

	got, err := svc.ResetViolations(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ViolationCount)
	assert.True(t, got.Disabled)
}

func TestResetViolations_RestoresAccountWhenPolicySaysSo(t *testing.T) {
	svc := newTestService(t)
	svc.Policy.ResetRestoresAccount = true
	ctx := context.Background()

	u := addUser(t, svc, "alice", model.RoleUser)
	for i := 0; i < svc.Policy.ViolationLimit; i++ {
		_, err := svc.AddViolation(ctx, u.ID)
		require.NoError(t, err)
	}

	got, err := svc.ResetViolations(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ViolationCount)
	assert.False(t, got.Disabled)
}

// ------------------------------ users ------------------------------

func TestAddUser_HashesPasswordAndDefaultsRole(t *testing.T) {
	svc := newTestService(t)

	u, err := svc.AddUser(context.Background(), model.AddUserInput{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.NotEmpty(t, u.PasswordHash)
	assert.NotEqual(t, "secret", u.PasswordHash)
}

func TestAddUser_DuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	addUser(t, svc, "alice", model.RoleUser)
	_, err := svc.AddUser(ctx, model.AddUserInput{Username: "alice", Password: "other"})
	assert.ErrorIs(t, err, model.ErrDuplicateEntry)
}

func TestDeleteUser_Guards(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	admin := addUser(t, svc, "root", model.RoleAdmin)
	alice := addUser(t, svc, "alice", model.RoleUser)

	// cannot delete the signed-in account
	err := svc.DeleteUser(ctx, admin.ID, admin.ID)
	assert.ErrorIs(t, err, model.ErrConflict)

	// cannot delete the only administrator
	err = svc.DeleteUser(ctx, alice.ID, admin.ID)
	assert.ErrorIs(t, err, model.ErrConflict)

	second := addUser(t, svc, "root2", model.RoleAdmin)
	assert.NoError(t, svc.DeleteUser(ctx, second.ID, admin.ID))

	assert.NoError(t, svc.DeleteUser(ctx, second.ID, alice.ID))
	_, err = svc.GetUser(ctx, alice.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// --------------------------- authentication ---------------------------

func TestLoginAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u := addUser(t, svc, "alice", model.RoleUser)

	token, got, err := svc.Login(ctx, "alice", "alice123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, u.ID, got.ID)

	resolved, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, resolved.ID)

	svc.Logout(token)
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestLogin_Failures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	addUser(t, svc, "alice", model.RoleUser)

	_, _, err := svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, _, err = svc.Login(ctx, "nobody", "alice123")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestLogin_SuspendedAccount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u := addUser(t, svc, "alice", model.RoleUser)
	u.Disabled = true
	_, err := svc.UpdateUser(ctx, u)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice", "alice123")
	assert.ErrorIs(t, err, model.ErrAccountSuspended)
}
