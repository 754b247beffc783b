package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"library-lending/internal/core/model"
)

// MemoryStore keeps all records behind one mutex, giving every operation
// the single-writer, short-transaction semantics the engine assumes. The
// borrow and return mutations touch the loan and the book under the same
// lock, so readers never observe a loan without its stock decrement.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[int64]model.Book
	loans map[int64]model.Loan
	users map[int64]model.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: make(map[int64]model.Book),
		loans: make(map[int64]model.Loan),
		users: make(map[int64]model.User),
	}
}

func (s *MemoryStore) Close() error { return nil }

// nextID is max existing id + 1, or 1 for an empty collection.
func nextID[V any](m map[int64]V) int64 {
	var max int64
	for id := range m {
		if id > max {
			max = id
		}
	}
	return max + 1
}

func copyLoan(l model.Loan) model.Loan {
	if l.ReturnedAt != nil {
		t := *l.ReturnedAt
		l.ReturnedAt = &t
	}
	return l
}

// ------------------------------ books ------------------------------

func (s *MemoryStore) CreateBook(_ context.Context, b model.Book) (model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = nextID(s.books)
	s.books[b.ID] = b
	return b, nil
}

func (s *MemoryStore) GetBook(_ context.Context, id int64) (model.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return model.Book{}, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
	}
	return b, nil
}

func (s *MemoryStore) GetBookByNameAuthor(_ context.Context, name, author string) (model.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.books {
		if b.Name == name && b.Author == author {
			return b, nil
		}
	}
	return model.Book{}, fmt.Errorf("%w: book %q by %q", model.ErrNotFound, name, author)
}

func (s *MemoryStore) ListBooks(_ context.Context) ([]model.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateBook(_ context.Context, b model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[b.ID]; !ok {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, b.ID)
	}
	s.books[b.ID] = b
	return nil
}

func (s *MemoryStore) DeleteBook(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[id]; !ok {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, id)
	}
	delete(s.books, id)
	return nil
}

// ------------------------------ loans ------------------------------

func (s *MemoryStore) CreateLoan(_ context.Context, l model.Loan) (model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[l.BookID]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: book %d", model.ErrNotFound, l.BookID)
	}
	if b.Stock <= 0 {
		return model.Loan{}, fmt.Errorf("%w: book %d", model.ErrOutOfStock, l.BookID)
	}

	l.ID = nextID(s.loans)
	l.Returned = false
	l.ReturnedAt = nil
	s.loans[l.ID] = l

	b.Stock--
	b.BorrowCount++
	s.books[b.ID] = b
	return copyLoan(l), nil
}

func (s *MemoryStore) FinishLoan(_ context.Context, loanID int64, returnedAt time.Time) (model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[loanID]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrNotFound, loanID)
	}
	if l.Returned {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrAlreadyReturned, loanID)
	}

	l.Returned = true
	l.ReturnedAt = &returnedAt
	s.loans[loanID] = l

	if b, ok := s.books[l.BookID]; ok {
		b.Stock++
		s.books[b.ID] = b
	}
	return copyLoan(l), nil
}

func (s *MemoryStore) RenewLoan(_ context.Context, l model.Loan) (model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loans[l.ID]; !ok {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrNotFound, l.ID)
	}
	s.loans[l.ID] = copyLoan(l)
	return copyLoan(l), nil
}

func (s *MemoryStore) GetLoan(_ context.Context, id int64) (model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrNotFound, id)
	}
	return copyLoan(l), nil
}

func (s *MemoryStore) LoansByUser(_ context.Context, userID int64) ([]model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Loan
	for _, l := range s.loans {
		if l.UserID == userID {
			out = append(out, copyLoan(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountActiveLoansForBook(_ context.Context, bookID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.loans {
		if l.BookID == bookID && !l.Returned {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HasActiveLoan(_ context.Context, userID, bookID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.loans {
		if l.UserID == userID && l.BookID == bookID && !l.Returned {
			return true, nil
		}
	}
	return false, nil
}

// ------------------------------ users ------------------------------

func (s *MemoryStore) CreateUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return model.User{}, fmt.Errorf("%w: username %q", model.ErrDuplicateEntry, u.Username)
		}
	}
	u.ID = nextID(s.users)
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("%w: user %q", model.ErrNotFound, username)
}

func (s *MemoryStore) UpdateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, u.ID)
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
