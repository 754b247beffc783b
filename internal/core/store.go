package core

import (
	"context"
	"time"

	"library-lending/internal/core/model"
)

// Store is the persistence collaborator behind the lending engine. The
// engine owns the policy decisions; the store owns atomicity. CreateLoan
// and FinishLoan must apply the loan mutation and the stock mutation as one
// unit — two concurrent borrows of the last copy must never both succeed.
type Store interface {
	// Books. CreateBook assigns the id (max existing id + 1).
	CreateBook(ctx context.Context, b model.Book) (model.Book, error)
	GetBook(ctx context.Context, id int64) (model.Book, error)
	GetBookByNameAuthor(ctx context.Context, name, author string) (model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	UpdateBook(ctx context.Context, b model.Book) error
	DeleteBook(ctx context.Context, id int64) error

	// Loans. CreateLoan decrements stock and increments the borrow count
	// under the same critical section, failing with ErrOutOfStock when no
	// copy is left. FinishLoan marks the loan returned, stamps returnedAt
	// and restores one unit of stock.
	CreateLoan(ctx context.Context, l model.Loan) (model.Loan, error)
	FinishLoan(ctx context.Context, loanID int64, returnedAt time.Time) (model.Loan, error)
	RenewLoan(ctx context.Context, l model.Loan) (model.Loan, error)
	GetLoan(ctx context.Context, id int64) (model.Loan, error)
	LoansByUser(ctx context.Context, userID int64) ([]model.Loan, error)
	CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error)
	HasActiveLoan(ctx context.Context, userID, bookID int64) (bool, error)

	// Users. CreateUser assigns the id and fails with ErrDuplicateEntry on
	// a username collision.
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id int64) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context) ([]model.User, error)

	Close() error
}
