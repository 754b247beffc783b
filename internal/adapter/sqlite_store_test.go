//go:build unit

package adapter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/internal/core/model"
)

func tempSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func localDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lending.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.CreateBook(context.Background(), model.Book{Name: "Dune", Author: "Frank Herbert", Stock: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// reopening an existing database keeps the data
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	books, err := s.ListBooks(context.Background())
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestSQLiteStore_BookCRUD(t *testing.T) {
	s := tempSQLiteStore(t)
	ctx := context.Background()

	b, err := s.CreateBook(ctx, model.Book{Name: "Dune", Author: "Frank Herbert", Category: "fiction", Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.ID)

	_, err = s.CreateBook(ctx, model.Book{Name: "Dune", Author: "Frank Herbert", Stock: 1})
	assert.ErrorIs(t, err, model.ErrDuplicateEntry)

	got, err := s.GetBookByNameAuthor(ctx, "Dune", "Frank Herbert")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	b.Stock = 9
	b.Description = "desert planet"
	require.NoError(t, s.UpdateBook(ctx, b))
	got, err = s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	require.NoError(t, s.DeleteBook(ctx, b.ID))
	_, err = s.GetBook(ctx, b.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.UpdateBook(ctx, b), model.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBook(ctx, b.ID), model.ErrNotFound)
}

func TestSQLiteStore_CreateLoanIsTransactional(t *testing.T) {
	s := tempSQLiteStore(t)
	ctx := context.Background()

	b, err := s.CreateBook(ctx, model.Book{Name: "Dune", Author: "Frank Herbert", Stock: 1})
	require.NoError(t, err)

	l, err := s.CreateLoan(ctx, model.Loan{UserID: 7, BookID: b.ID, BorrowedAt: localDate(2025, 11, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.ID)

	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
	assert.Equal(t, 1, got.BorrowCount)

	// the conditional decrement refuses the last-copy race without
	// touching the loans table
	_, err = s.CreateLoan(ctx, model.Loan{UserID: 8, BookID: b.ID, BorrowedAt: localDate(2025, 11, 1)})
	assert.ErrorIs(t, err, model.ErrOutOfStock)

	loans, err := s.LoansByUser(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, loans)

	_, err = s.CreateLoan(ctx, model.Loan{UserID: 8, BookID: 999, BorrowedAt: localDate(2025, 11, 1)})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLiteStore_FinishLoanRoundTrip(t *testing.T) {
	s := tempSQLiteStore(t)
	ctx := context.Background()

	b, err := s.CreateBook(ctx, model.Book{Name: "Dune", Author: "Frank Herbert", Stock: 1})
	require.NoError(t, err)
	l, err := s.CreateLoan(ctx, model.Loan{UserID: 7, BookID: b.ID, BorrowedAt: localDate(2025, 11, 1)})
	require.NoError(t, err)

	// dates persist at day granularity
	got, err := s.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.BorrowedAt.Equal(localDate(2025, 11, 1)))
	assert.Nil(t, got.ReturnedAt)

	done, err := s.FinishLoan(ctx, l.ID, localDate(2025, 11, 10))
	require.NoError(t, err)
	assert.True(t, done.Returned)
	require.NotNil(t, done.ReturnedAt)

	book, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.Stock)

	_, err = s.FinishLoan(ctx, l.ID, localDate(2025, 11, 11))
	assert.ErrorIs(t, err, model.ErrAlreadyReturned)

	_, err = s.FinishLoan(ctx, 999, localDate(2025, 11, 11))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLiteStore_RenewLoan(t *testing.T) {
	s := tempSQLiteStore(t)
	ctx := context.Background()

	b, err := s.CreateBook(ctx, model.Book{Name: "Dune", Author: "Frank Herbert", Stock: 1})
	require.NoError(t, err)
	l, err := s.CreateLoan(ctx, model.Loan{UserID: 7, BookID: b.ID, BorrowedAt: localDate(2025, 11, 1)})
	require.NoError(t, err)

	l.BorrowedAt = localDate(2025, 11, 8)
	l.RenewalUsed = true
	_, err = s.RenewLoan(ctx, l)
	require.NoError(t, err)

	got, err := s.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.BorrowedAt.Equal(localDate(2025, 11, 8)))
	assert.True(t, got.RenewalUsed)

	l.ID = 999
	_, err = s.RenewLoan(ctx, l)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLiteStore_ActiveLoanQueries(t *testing.T) {
	s := tempSQLiteStore(t)
	ctx := context.Background()

	b, err := s.CreateBook(ctx, model.Book{Name: "Dune", Author: "Frank Herbert", Stock: 3})
	require.NoError(t, err)

	l1, err := s.CreateLoan(ctx, model.Loan{UserID: 7, BookID: b.ID, BorrowedAt: localDate(2025, 11, 1)})
	require.NoError(t, err)
	_, err = s.CreateLoan(ctx, model.Loan{UserID: 8, BookID: b.ID, BorrowedAt: localDate(2025, 11, 2)})
	require.NoError(t, err)

	n, err := s.CountActiveLoansForBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	held, err := s.HasActiveLoan(ctx, 7, b.ID)
	require.NoError(t, err)
	assert.True(t, held)

	_, err = s.FinishLoan(ctx, l1.ID, localDate(2025, 11, 5))
	require.NoError(t, err)

	n, err = s.CountActiveLoansForBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	held, err = s.HasActiveLoan(ctx, 7, b.ID)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSQLiteStore_UserCRUD(t *testing.T) {
	s := tempSQLiteStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, model.User{Username: "alice", PasswordHash: "h", Role: model.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)

	_, err = s.CreateUser(ctx, model.User{Username: "alice", PasswordHash: "h2", Role: model.RoleUser})
	assert.ErrorIs(t, err, model.ErrDuplicateEntry)

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	u.ViolationCount = 3
	u.Disabled = true
	require.NoError(t, s.UpdateUser(ctx, u))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
