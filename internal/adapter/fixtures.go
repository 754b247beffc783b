package adapter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"library-lending/internal/core"
	"library-lending/internal/core/model"
)

// Seed loads a small demo data set: a few books, a regular user, a user
// already suspended for repeat violations, and an administrator, plus a
// couple of loans (one long overdue, one due in two days). Passwords are
// the usernames with "123" appended.
func Seed(ctx context.Context, store core.Store, now time.Time) error {
	books := []model.Book{
		{Name: "The Go Programming Language", Author: "Alan Donovan", Category: "tech", Stock: 5, Description: "The definitive Go reference"},
		{Name: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", Category: "tech", Stock: 3},
		{Name: "The Pragmatic Programmer", Author: "Andrew Hunt", Category: "tech", Stock: 2},
		{Name: "Pride and Prejudice", Author: "Jane Austen", Category: "fiction", Stock: 4},
		{Name: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Category: "fiction", Stock: 1},
	}
	ids := make([]int64, 0, len(books))
	for _, b := range books {
		created, err := store.CreateBook(ctx, b)
		if err != nil {
			return fmt.Errorf("seed book %q: %w", b.Name, err)
		}
		ids = append(ids, created.ID)
	}

	users := []model.User{
		{Username: "user1", Role: model.RoleUser, ViolationCount: 1},
		{Username: "user2", Role: model.RoleUser, ViolationCount: 3, Disabled: true},
		{Username: "admin", Role: model.RoleAdmin},
	}
	userIDs := make([]int64, 0, len(users))
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Username+"123"), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		created, err := store.CreateUser(ctx, u)
		if err != nil {
			return fmt.Errorf("seed user %q: %w", u.Username, err)
		}
		userIDs = append(userIDs, created.ID)
	}

	// user1 holds one long-overdue loan and one due soon; user2 holds an
	// overdue loan on the suspended account.
	loans := []model.Loan{
		{UserID: userIDs[0], BookID: ids[0], BorrowedAt: now.AddDate(0, 0, -15)},
		{UserID: userIDs[0], BookID: ids[1], BorrowedAt: now.AddDate(0, 0, -5)},
		{UserID: userIDs[1], BookID: ids[2], BorrowedAt: now.AddDate(0, 0, -26)},
	}
	for _, l := range loans {
		if _, err := store.CreateLoan(ctx, l); err != nil {
			return fmt.Errorf("seed loan for book %d: %w", l.BookID, err)
		}
	}
	return nil
}
