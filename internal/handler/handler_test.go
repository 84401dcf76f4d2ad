package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lending-system/internal/model"
	"github.com/mmeshcher/lending-system/internal/repository"
)

type stubService struct {
	borrowRes *model.BorrowResult
	returnRes *model.ReturnResult

	overdueResp []model.OverdueLoan
	overdueErr  error

	book    *model.Book
	bookErr error

	unavailableResp []string
	unavailableErr  error
}

func (s *stubService) Borrow(ctx context.Context, userID, title string) *model.BorrowResult {
	return s.borrowRes
}

func (s *stubService) ReturnBook(ctx context.Context, userID, title string) *model.ReturnResult {
	return s.returnRes
}

func (s *stubService) ListOverdue(ctx context.Context) ([]model.OverdueLoan, error) {
	return s.overdueResp, s.overdueErr
}

func (s *stubService) Availability(ctx context.Context, title string) (*model.Book, error) {
	return s.book, s.bookErr
}

func (s *stubService) UnavailableBooks(ctx context.Context) ([]string, error) {
	return s.unavailableResp, s.unavailableErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger)
}

func borrowBody(t *testing.T, userID, title string) *bytes.Reader {
	t.Helper()

	body, err := json.Marshal(loanRequest{UserID: userID, BookTitle: title})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

func TestBorrow_Success(t *testing.T) {
	due := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	svc := &stubService{
		borrowRes: &model.BorrowResult{
			Success: true,
			Message: "Book borrowed successfully! Due date: 2026-08-15",
			DueDate: &due,
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/loans", borrowBody(t, "U1", "Dune"))
	rec := httptest.NewRecorder()

	h.Borrow(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp borrowResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, want true")
	}
	if resp.DueDate != due.Format(time.RFC3339) {
		t.Fatalf("due date = %q, want %q", resp.DueDate, due.Format(time.RFC3339))
	}
}

func TestBorrow_OutOfStockConflict(t *testing.T) {
	svc := &stubService{
		borrowRes: &model.BorrowResult{
			Message: "book is unavailable",
			Failure: model.FailureOutOfStock,
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/loans", borrowBody(t, "U2", "Dune"))
	rec := httptest.NewRecorder()

	h.Borrow(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	var resp borrowResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatalf("success = true, want false")
	}
	if resp.Message != "book is unavailable" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestBorrow_BadRequestOnInvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/loans", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	h.Borrow(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestBorrow_BadRequestOnEmptyUserID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/loans", borrowBody(t, "", "Dune"))
	rec := httptest.NewRecorder()

	h.Borrow(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestReturnBook_LoanNotFound(t *testing.T) {
	svc := &stubService{
		returnRes: &model.ReturnResult{
			Message: "no active loan for this user and book",
			Failure: model.FailureLoanNotFound,
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/loans/return", borrowBody(t, "U1", "Dune"))
	rec := httptest.NewRecorder()

	h.ReturnBook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetOverdue_NoContent(t *testing.T) {
	svc := &stubService{
		overdueResp: []model.OverdueLoan{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/loans/overdue", nil)
	rec := httptest.NewRecorder()

	h.GetOverdue(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetOverdue_JSONResponse(t *testing.T) {
	due := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	svc := &stubService{
		overdueResp: []model.OverdueLoan{
			{
				BookTitle: "Dune",
				UserID:    "U4",
				UserName:  "Dave",
				Email:     "dave@example.com",
				DueDate:   due,
			},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/loans/overdue", nil)
	rec := httptest.NewRecorder()

	h.GetOverdue(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp []overdueResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("len = %d, want 1", len(resp))
	}
	if resp[0].UserName != "Dave" || resp[0].Email != "dave@example.com" {
		t.Fatalf("unexpected row: %+v", resp[0])
	}
	if resp[0].DueDate != due.Format(time.RFC3339) {
		t.Fatalf("due date = %q, want %q", resp[0].DueDate, due.Format(time.RFC3339))
	}
}

func TestGetAvailability_OK(t *testing.T) {
	svc := &stubService{
		book: &model.Book{Title: "Dune", AvailableCopies: 3},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/books/availability?title=Dune", nil)
	rec := httptest.NewRecorder()

	h.GetAvailability(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp availabilityResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BookTitle != "Dune" || resp.AvailableCopies != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetAvailability_NotFound(t *testing.T) {
	svc := &stubService{
		bookErr: repository.ErrBookNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/books/availability?title=Unknown", nil)
	rec := httptest.NewRecorder()

	h.GetAvailability(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetUnavailable_JSONResponse(t *testing.T) {
	svc := &stubService{
		unavailableResp: []string{"Dune", "Solaris"},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/books/unavailable", nil)
	rec := httptest.NewRecorder()

	h.GetUnavailable(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var titles []string
	if err := json.NewDecoder(res.Body).Decode(&titles); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(titles) != 2 || titles[0] != "Dune" {
		t.Fatalf("unexpected titles: %v", titles)
	}
}
