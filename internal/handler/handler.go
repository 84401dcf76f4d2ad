// Package handler содержит HTTP-обработчики API системы библиотечной выдачи.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lending-system/internal/model"
	"github.com/mmeshcher/lending-system/internal/repository"
	"github.com/mmeshcher/lending-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Borrow(ctx context.Context, userID, title string) *model.BorrowResult
	ReturnBook(ctx context.Context, userID, title string) *model.ReturnResult
	ListOverdue(ctx context.Context) ([]model.OverdueLoan, error)
	Availability(ctx context.Context, title string) (*model.Book, error)
	UnavailableBooks(ctx context.Context) ([]string, error)
}

// Handler реализует HTTP-обработчики API системы библиотечной выдачи.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type loanRequest struct {
	UserID    string `json:"user_id"`
	BookTitle string `json:"book_title"`
}

type borrowResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	DueDate string `json:"due_date,omitempty"`
}

type returnResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

func statusForFailure(kind model.FailureKind) int {
	switch kind {
	case model.FailureNone:
		return http.StatusOK
	case model.FailureUserNotFound, model.FailureBookNotFound, model.FailureLoanNotFound:
		return http.StatusNotFound
	case model.FailureUserInactive:
		return http.StatusForbidden
	case model.FailureUserHasOverdue, model.FailureOutOfStock:
		return http.StatusConflict
	case model.FailureStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Borrow обрабатывает запрос на выдачу книги.
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidUserID(req.UserID) || !validation.IsValidTitle(req.BookTitle) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res := h.service.Borrow(r.Context(), req.UserID, req.BookTitle)

	resp := borrowResponse{
		Message: res.Message,
		Success: res.Success,
	}
	if res.DueDate != nil {
		resp.DueDate = res.DueDate.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForFailure(res.Failure))
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode borrow response", zap.Error(err))
	}
}

// ReturnBook обрабатывает запрос на возврат книги.
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidUserID(req.UserID) || !validation.IsValidTitle(req.BookTitle) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res := h.service.ReturnBook(r.Context(), req.UserID, req.BookTitle)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForFailure(res.Failure))
	if err := json.NewEncoder(w).Encode(returnResponse{Message: res.Message, Success: res.Success}); err != nil {
		h.logger.Error("encode return response", zap.Error(err))
	}
}

type overdueResponse struct {
	BookTitle string `json:"book_title"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Email     string `json:"email"`
	DueDate   string `json:"due_date"`
}

// GetOverdue возвращает список просроченных выдач.
func (h *Handler) GetOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListOverdue(r.Context())
	if err != nil {
		h.logger.Error("list overdue error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]overdueResponse, 0, len(loans))
	for _, l := range loans {
		resp = append(resp, overdueResponse{
			BookTitle: l.BookTitle,
			UserID:    l.UserID,
			UserName:  l.UserName,
			Email:     l.Email,
			DueDate:   l.DueDate.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type availabilityResponse struct {
	BookTitle       string `json:"book_title"`
	AvailableCopies int    `json:"available_copies"`
}

// GetAvailability возвращает количество доступных экземпляров книги.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if !validation.IsValidTitle(title) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	book, err := h.service.Availability(r.Context(), title)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("availability error", zap.Error(err), zap.String("title", title))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(availabilityResponse{
		BookTitle:       book.Title,
		AvailableCopies: book.AvailableCopies,
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetUnavailable возвращает названия книг без доступных экземпляров.
func (h *Handler) GetUnavailable(w http.ResponseWriter, r *http.Request) {
	titles, err := h.service.UnavailableBooks(r.Context())
	if err != nil {
		h.logger.Error("unavailable books error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(titles) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(titles); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
