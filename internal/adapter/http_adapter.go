package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime/types"

	"library-lending/internal/core"
	"library-lending/internal/core/model"
)

// Handler exposes the lending engine over HTTP. Policy failures come back
// as structured error envelopes; nothing here panics on a denial.
type Handler struct {
	Svc *core.Service
	log *slog.Logger
}

func NewHandler(svc *core.Service, logger *slog.Logger) *Handler {
	return &Handler{Svc: svc, log: logger}
}

type httpError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	e := httpError{}
	e.Error.Code = code
	e.Error.Message = msg
	writeJSON(w, status, e)
}

// writeDomainError maps a policy error kind onto an HTTP status and code.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code := http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, model.ErrDuplicateEntry):
		status, code = http.StatusConflict, "DUPLICATE_ENTRY"
	case errors.Is(err, model.ErrDuplicateLoan):
		status, code = http.StatusConflict, "DUPLICATE_LOAN"
	case errors.Is(err, model.ErrOutOfStock):
		status, code = http.StatusConflict, "OUT_OF_STOCK"
	case errors.Is(err, model.ErrAccountSuspended):
		status, code = http.StatusForbidden, "ACCOUNT_SUSPENDED"
	case errors.Is(err, model.ErrViolationLimit):
		status, code = http.StatusForbidden, "VIOLATION_LIMIT_EXCEEDED"
	case errors.Is(err, model.ErrAlreadyReturned):
		status, code = http.StatusConflict, "ALREADY_RETURNED"
	case errors.Is(err, model.ErrRenewalNotEligible):
		status, code = http.StatusUnprocessableEntity, "RENEWAL_NOT_ELIGIBLE"
	case errors.Is(err, model.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, model.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, model.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, model.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	}
	if status == http.StatusServiceUnavailable {
		h.log.Error("storage failure", "err", err)
	} else {
		h.log.Warn("request denied", "code", code, "err", err)
	}
	writeError(w, status, code, err.Error())
}

// ------------------------------ wire types ------------------------------

type bookJSON struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Author       string  `json:"author"`
	Category     string  `json:"category"`
	Stock        int     `json:"stock"`
	BorrowCount  int     `json:"borrowCount"`
	Description  string  `json:"description,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	CommentCount int     `json:"commentCount,omitempty"`
}

func toBookJSON(b model.Book) bookJSON {
	return bookJSON{
		ID: b.ID, Name: b.Name, Author: b.Author, Category: b.Category,
		Stock: b.Stock, BorrowCount: b.BorrowCount, Description: b.Description,
		Rating: b.Rating, CommentCount: b.CommentCount,
	}
}

// loanJSON carries the stored record plus the derived overdue view. Dates
// are date-only on the wire, same as the persisted form.
type loanJSON struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"userId"`
	BookID        int64       `json:"bookId"`
	BorrowedAt    types.Date  `json:"borrowedAt"`
	ReturnedAt    *types.Date `json:"returnedAt,omitempty"`
	Returned      bool        `json:"returned"`
	RenewalUsed   bool        `json:"renewalUsed"`
	Overdue       bool        `json:"overdue"`
	OverdueDays   int         `json:"overdueDays"`
	RemainingDays int         `json:"remainingDays"`
	Penalty       float64     `json:"penalty"`
	BookName      string      `json:"bookName,omitempty"`
	BookAuthor    string      `json:"bookAuthor,omitempty"`
}

func toLoanJSON(l model.Loan, st model.LoanStatus) loanJSON {
	out := loanJSON{
		ID: l.ID, UserID: l.UserID, BookID: l.BookID,
		BorrowedAt: types.Date{Time: l.BorrowedAt},
		Returned:   l.Returned, RenewalUsed: l.RenewalUsed,
		Overdue: st.Overdue, OverdueDays: st.OverdueDays,
		RemainingDays: st.RemainingDays, Penalty: st.Penalty,
	}
	if l.ReturnedAt != nil {
		out.ReturnedAt = &types.Date{Time: *l.ReturnedAt}
	}
	return out
}

type userJSON struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Role           string `json:"role"`
	ViolationCount int    `json:"violationCount"`
	Disabled       bool   `json:"disabled"`
}

func toUserJSON(u model.User) userJSON {
	return userJSON{
		ID: u.ID, Username: u.Username, Role: string(u.Role),
		ViolationCount: u.ViolationCount, Disabled: u.Disabled,
	}
}

// ------------------------------ routing ------------------------------

type ctxKey int

const userKey ctxKey = 0

func userFrom(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userKey).(model.User)
	return u, ok
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/healthz", h.healthz)
	r.Post("/api/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.withUser)

		r.Post("/api/logout", h.logout)
		r.Get("/api/books", h.listBooks)
		r.Get("/api/books/{id}", h.getBook)
		r.Post("/api/loans", h.borrow)
		r.Post("/api/loans/{id}/return", h.returnLoan)
		r.Post("/api/loans/{id}/renew", h.renewLoan)
		r.Get("/api/users/{id}/loans", h.userLoans)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Post("/api/books", h.addBook)
			r.Put("/api/books/{id}", h.updateBook)
			r.Put("/api/books/{id}/stock", h.updateStock)
			r.Delete("/api/books/{id}", h.deleteBook)
			r.Get("/api/users", h.listUsers)
			r.Post("/api/users", h.addUser)
			r.Put("/api/users/{id}", h.updateUser)
			r.Delete("/api/users/{id}", h.deleteUser)
			r.Post("/api/users/{id}/violations", h.addViolation)
			r.Post("/api/users/{id}/violations/reset", h.resetViolations)
		})
	})

	return r
}

// withUser resolves the bearer token and stashes the user in the context.
func (h *Handler) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		u, err := h.Svc.Authenticate(r.Context(), token)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := userFrom(r.Context())
		if !ok || !u.IsAdmin() {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// ------------------------------ handlers ------------------------------

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	token, user, err := h.Svc.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.log.Info("login", "user", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": toUserJSON(user)})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.Svc.Logout(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	q := model.SearchQuery{
		Keyword:  r.URL.Query().Get("keyword"),
		Category: r.URL.Query().Get("category"),
	}
	books, err := h.Svc.SearchBooks(r.Context(), q)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]bookJSON, 0, len(books))
	for _, b := range books {
		out = append(out, toBookJSON(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid book id")
		return
	}
	b, err := h.Svc.GetBook(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookJSON(b))
}

func (h *Handler) addBook(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Author      string `json:"author"`
		Category    string `json:"category"`
		Stock       int    `json:"stock"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	b, err := h.Svc.AddBook(r.Context(), model.AddBookInput{
		Name: in.Name, Author: in.Author, Category: in.Category,
		Stock: in.Stock, Description: in.Description,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.log.Info("book added", "id", b.ID, "name", b.Name)
	writeJSON(w, http.StatusCreated, toBookJSON(b))
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid book id")
		return
	}
	var in bookJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	b, err := h.Svc.UpdateBook(r.Context(), model.Book{
		ID: id, Name: in.Name, Author: in.Author, Category: in.Category,
		Stock: in.Stock, BorrowCount: in.BorrowCount, Description: in.Description,
		Rating: in.Rating, CommentCount: in.CommentCount,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookJSON(b))
}

func (h *Handler) updateStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid book id")
		return
	}
	var in struct {
		Stock int `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	b, err := h.Svc.UpdateStock(r.Context(), id, in.Stock)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookJSON(b))
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid book id")
		return
	}
	if err := h.Svc.DeleteBook(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) borrow(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFrom(r.Context())
	var in struct {
		BookID int64 `json:"bookId"`
		UserID int64 `json:"userId"` // optional; admins may borrow on behalf of a user
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	borrower := caller.ID
	if in.UserID != 0 && in.UserID != caller.ID {
		if !caller.IsAdmin() {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "cannot borrow for another user")
			return
		}
		borrower = in.UserID
	}

	l, err := h.Svc.BorrowBook(r.Context(), borrower, in.BookID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.log.Info("borrow", "loan", l.ID, "user", borrower, "book", in.BookID)
	writeJSON(w, http.StatusCreated, toLoanJSON(l, core.DeriveStatus(l, h.Svc.Now(), h.Svc.Policy)))
}

func (h *Handler) returnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid loan id")
		return
	}
	l, err := h.Svc.ReturnBook(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.log.Info("return", "loan", l.ID, "user", l.UserID)
	writeJSON(w, http.StatusOK, toLoanJSON(l, core.DeriveStatus(l, h.Svc.Now(), h.Svc.Policy)))
}

func (h *Handler) renewLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid loan id")
		return
	}
	l, err := h.Svc.RenewBook(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.log.Info("renew", "loan", l.ID, "user", l.UserID)
	writeJSON(w, http.StatusOK, toLoanJSON(l, core.DeriveStatus(l, h.Svc.Now(), h.Svc.Policy)))
}

func (h *Handler) userLoans(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id")
		return
	}
	if id != caller.ID && !caller.IsAdmin() {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "cannot view another user's loans")
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	views, err := h.Svc.UserLoans(r.Context(), id, activeOnly)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]loanJSON, 0, len(views))
	for _, v := range views {
		lj := toLoanJSON(v.Loan, v.Status)
		lj.BookName = v.BookName
		lj.BookAuthor = v.BookAuthor
		out = append(out, lj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Svc.ListUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, toUserJSON(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	u, err := h.Svc.AddUser(r.Context(), model.AddUserInput{
		Username: in.Username, Password: in.Password, Role: model.Role(in.Role),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserJSON(u))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id")
		return
	}
	var in userJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
		return
	}
	u, err := h.Svc.UpdateUser(r.Context(), model.User{
		ID: id, Username: in.Username, Role: model.Role(in.Role),
		ViolationCount: in.ViolationCount, Disabled: in.Disabled,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserJSON(u))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id")
		return
	}
	if err := h.Svc.DeleteUser(r.Context(), caller.ID, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addViolation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id")
		return
	}
	u, err := h.Svc.AddViolation(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserJSON(u))
}

func (h *Handler) resetViolations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id")
		return
	}
	u, err := h.Svc.ResetViolations(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserJSON(u))
}
