package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"library-lending/internal/core/model"
)

// dateLayout is how loan dates are stored; the engine counts whole days,
// so the clock part is never persisted.
const dateLayout = "2006-01-02"

// SQLiteStore persists the catalog, loans and users in a single SQLite
// file. Borrow and return run inside one transaction with a conditional
// stock update, so the last copy of a book can only be lent once even
// under concurrent requests.
type SQLiteStore struct {
	db *sql.DB

	addBookStmt *sql.Stmt
	addUserStmt *sql.Stmt
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s.addBookStmt != nil {
		s.addBookStmt.Close()
	}
	if s.addUserStmt != nil {
		s.addUserStmt.Close()
	}
	return s.db.Close()
}

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		// INTEGER PRIMARY KEY without AUTOINCREMENT: new ids are
		// max existing id + 1, matching the in-memory store.
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            author TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
            borrow_count INTEGER NOT NULL DEFAULT 0,
            description TEXT NOT NULL DEFAULT '',
            rating REAL NOT NULL DEFAULT 0,
            comment_count INTEGER NOT NULL DEFAULT 0,
            UNIQUE(name, author)
        );`,
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'user',
            violation_count INTEGER NOT NULL DEFAULT 0,
            disabled INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY,
            user_id INTEGER NOT NULL,
            book_id INTEGER NOT NULL,
            borrowed_at TEXT NOT NULL,
            returned_at TEXT,
            returned INTEGER NOT NULL DEFAULT 0,
            renewal_used INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_book_active ON loans(book_id, returned);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, schemaVersion); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	if s.addBookStmt, err = s.db.Prepare(
		`INSERT INTO books(name,author,category,stock,borrow_count,description,rating,comment_count)
         VALUES(?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if s.addUserStmt, err = s.db.Prepare(
		`INSERT INTO users(username,password_hash,role,violation_count,disabled) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ------------------------------ books ------------------------------

const bookColumns = `id,name,author,category,stock,borrow_count,description,rating,comment_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(r rowScanner) (model.Book, error) {
	var b model.Book
	err := r.Scan(&b.ID, &b.Name, &b.Author, &b.Category, &b.Stock, &b.BorrowCount,
		&b.Description, &b.Rating, &b.CommentCount)
	return b, err
}

func (s *SQLiteStore) CreateBook(ctx context.Context, b model.Book) (model.Book, error) {
	res, err := s.addBookStmt.ExecContext(ctx,
		b.Name, b.Author, b.Category, b.Stock, b.BorrowCount, b.Description, b.Rating, b.CommentCount)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.Book{}, fmt.Errorf("%w: book %q by %q", model.ErrDuplicateEntry, b.Name, b.Author)
		}
		return model.Book{}, err
	}
	b.ID, err = res.LastInsertId()
	if err != nil {
		return model.Book{}, err
	}
	return b, nil
}

func (s *SQLiteStore) GetBook(ctx context.Context, id int64) (model.Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return model.Book{}, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
	}
	return b, err
}

func (s *SQLiteStore) GetBookByNameAuthor(ctx context.Context, name, author string) (model.Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE name=? AND author=?`, name, author))
	if err == sql.ErrNoRows {
		return model.Book{}, fmt.Errorf("%w: book %q by %q", model.ErrNotFound, name, author)
	}
	return b, err
}

func (s *SQLiteStore) ListBooks(ctx context.Context) ([]model.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (s *SQLiteStore) UpdateBook(ctx context.Context, b model.Book) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET name=?, author=?, category=?, stock=?, borrow_count=?, description=?, rating=?, comment_count=? WHERE id=?`,
		b.Name, b.Author, b.Category, b.Stock, b.BorrowCount, b.Description, b.Rating, b.CommentCount, b.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, b.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, id)
	}
	return nil
}

// ------------------------------ loans ------------------------------

const loanColumns = `id,user_id,book_id,borrowed_at,returned_at,returned,renewal_used`

func scanLoan(r rowScanner) (model.Loan, error) {
	var l model.Loan
	var borrowed string
	var returned sql.NullString
	if err := r.Scan(&l.ID, &l.UserID, &l.BookID, &borrowed, &returned, &l.Returned, &l.RenewalUsed); err != nil {
		return model.Loan{}, err
	}
	t, err := time.ParseInLocation(dateLayout, borrowed, time.Local)
	if err != nil {
		return model.Loan{}, fmt.Errorf("parse borrowed_at: %w", err)
	}
	l.BorrowedAt = t
	if returned.Valid {
		rt, err := time.ParseInLocation(dateLayout, returned.String, time.Local)
		if err != nil {
			return model.Loan{}, fmt.Errorf("parse returned_at: %w", err)
		}
		l.ReturnedAt = &rt
	}
	return l, nil
}

// CreateLoan records the loan and updates stock in one transaction. The
// conditional decrement serializes concurrent borrows of the last copy.
func (s *SQLiteStore) CreateLoan(ctx context.Context, l model.Loan) (model.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Loan{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE books SET stock=stock-1, borrow_count=borrow_count+1 WHERE id=? AND stock>0`, l.BookID)
	if err != nil {
		return model.Loan{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Loan{}, err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, l.BookID).Scan(&exists); err != nil {
			return model.Loan{}, err
		}
		if !exists {
			return model.Loan{}, fmt.Errorf("%w: book %d", model.ErrNotFound, l.BookID)
		}
		return model.Loan{}, fmt.Errorf("%w: book %d", model.ErrOutOfStock, l.BookID)
	}

	ins, err := tx.ExecContext(ctx,
		`INSERT INTO loans(user_id,book_id,borrowed_at,returned,renewal_used) VALUES(?,?,?,0,0)`,
		l.UserID, l.BookID, l.BorrowedAt.Format(dateLayout))
	if err != nil {
		return model.Loan{}, err
	}
	if l.ID, err = ins.LastInsertId(); err != nil {
		return model.Loan{}, err
	}
	l.Returned = false
	l.ReturnedAt = nil
	l.RenewalUsed = false
	return l, tx.Commit()
}

// FinishLoan marks the loan returned and restores stock in one transaction.
func (s *SQLiteStore) FinishLoan(ctx context.Context, loanID int64, returnedAt time.Time) (model.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Loan{}, err
	}
	defer tx.Rollback()

	l, err := scanLoan(tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=?`, loanID))
	if err == sql.ErrNoRows {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrNotFound, loanID)
	}
	if err != nil {
		return model.Loan{}, err
	}
	if l.Returned {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrAlreadyReturned, loanID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE loans SET returned=1, returned_at=? WHERE id=?`,
		returnedAt.Format(dateLayout), loanID); err != nil {
		return model.Loan{}, err
	}

	// The book may have been deleted after all its loans were returned;
	// restoring stock is a no-op then.
	if _, err := tx.ExecContext(ctx,
		`UPDATE books SET stock=stock+1 WHERE id=?`, l.BookID); err != nil {
		return model.Loan{}, err
	}

	l.Returned = true
	l.ReturnedAt = &returnedAt
	return l, tx.Commit()
}

func (s *SQLiteStore) RenewLoan(ctx context.Context, l model.Loan) (model.Loan, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE loans SET borrowed_at=?, renewal_used=? WHERE id=?`,
		l.BorrowedAt.Format(dateLayout), l.RenewalUsed, l.ID)
	if err != nil {
		return model.Loan{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Loan{}, err
	}
	if n == 0 {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrNotFound, l.ID)
	}
	return l, nil
}

func (s *SQLiteStore) GetLoan(ctx context.Context, id int64) (model.Loan, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return model.Loan{}, fmt.Errorf("%w: loan %d", model.ErrNotFound, id)
	}
	return l, err
}

func (s *SQLiteStore) LoansByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE user_id=? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (s *SQLiteStore) CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id=? AND returned=0`, bookID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) HasActiveLoan(ctx context.Context, userID, bookID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM loans WHERE user_id=? AND book_id=? AND returned=0)`,
		userID, bookID).Scan(&exists)
	return exists, err
}

// ------------------------------ users ------------------------------

const userColumns = `id,username,password_hash,role,violation_count,disabled`

func scanUser(r rowScanner) (model.User, error) {
	var u model.User
	err := r.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.ViolationCount, &u.Disabled)
	return u, err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	res, err := s.addUserStmt.ExecContext(ctx, u.Username, u.PasswordHash, string(u.Role), u.ViolationCount, u.Disabled)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.User{}, fmt.Errorf("%w: username %q", model.ErrDuplicateEntry, u.Username)
		}
		return model.User{}, err
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return model.User{}, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return u, err
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
	if err == sql.ErrNoRows {
		return model.User{}, fmt.Errorf("%w: user %q", model.ErrNotFound, username)
	}
	return u, err
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u model.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET username=?, password_hash=?, role=?, violation_count=?, disabled=? WHERE id=?`,
		u.Username, u.PasswordHash, string(u.Role), u.ViolationCount, u.Disabled, u.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, u.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
