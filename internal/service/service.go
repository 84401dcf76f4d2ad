// Package service реализует бизнес-логику системы библиотечной выдачи.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/lending-system/internal/model"
	"github.com/mmeshcher/lending-system/internal/repository"
)

// loanPeriod — фиксированный срок выдачи книги.
const loanPeriod = 14 * 24 * time.Hour

// UserDirectory описывает контракт справочника читателей.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// BookCatalog описывает контракт каталога книг и учёта экземпляров.
type BookCatalog interface {
	GetBook(ctx context.Context, title string) (*model.Book, error)
	ReserveCopy(ctx context.Context, title string) error
	ReleaseCopy(ctx context.Context, title string) error
	UnavailableTitles(ctx context.Context) ([]string, error)
}

// LendingLedger описывает контракт журнала выдач.
type LendingLedger interface {
	CreateLoan(ctx context.Context, attemptKey, userID, title string, borrowDate, dueDate time.Time) (*model.LendingRecord, error)
	MarkReturned(ctx context.Context, userID, title string, returnedAt time.Time) error
	HasOverdue(ctx context.Context, userID string, asOf time.Time) (bool, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]model.OverdueLoan, error)
}

// Notifier описывает контракт внешнего сервиса уведомлений.
// Уведомления отправляются по принципу fire-and-forget: результат доставки
// на исход рабочего процесса не влияет.
type Notifier interface {
	NotifyDueDate(ctx context.Context, userName, userEmail, bookTitle string, dueDate time.Time) error
}

// Service координирует рабочий процесс выдачи книг между справочником
// читателей, каталогом и журналом выдач.
type Service struct {
	users    UserDirectory
	catalog  BookCatalog
	ledger   LendingLedger
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт новый сервис. Notifier может быть nil — тогда
// уведомления не отправляются.
func NewService(users UserDirectory, catalog BookCatalog, ledger LendingLedger, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		users:    users,
		catalog:  catalog,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func failedBorrow(kind model.FailureKind, message string) *model.BorrowResult {
	return &model.BorrowResult{
		Success: false,
		Message: message,
		Failure: kind,
	}
}

// Borrow выполняет рабочий процесс выдачи книги: проверка читателя,
// резервирование экземпляра, запись в журнал, уведомление. Все отказы
// преобразуются в результат с сообщением для пользователя.
func (s *Service) Borrow(ctx context.Context, userID, title string) *model.BorrowResult {
	log := s.logger.With(zap.String("userID", userID), zap.String("bookTitle", title))
	log.Info("borrow attempt")

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Info("borrow rejected", zap.String("reason", "user not found"))
			return failedBorrow(model.FailureUserNotFound, "user not found")
		}
		log.Error("user lookup error", zap.Error(err))
		return failedBorrow(model.FailureStoreUnavailable, "service temporarily unavailable")
	}

	if user.Status != model.UserStatusActive {
		log.Info("borrow rejected", zap.String("reason", "user not active"), zap.String("status", string(user.Status)))
		return failedBorrow(model.FailureUserInactive, "user is not active")
	}

	overdue, err := s.ledger.HasOverdue(ctx, userID, s.now())
	if err != nil {
		log.Error("overdue check error", zap.Error(err))
		return failedBorrow(model.FailureStoreUnavailable, "service temporarily unavailable")
	}
	if overdue {
		log.Info("borrow rejected", zap.String("reason", "user has overdue books"))
		return failedBorrow(model.FailureUserHasOverdue, "user has overdue books")
	}

	if err := s.catalog.ReserveCopy(ctx, title); err != nil {
		switch {
		case errors.Is(err, repository.ErrBookNotFound):
			log.Info("borrow rejected", zap.String("reason", "book not found"))
			return failedBorrow(model.FailureBookNotFound, "book not found")
		case errors.Is(err, repository.ErrOutOfStock):
			log.Info("borrow rejected", zap.String("reason", "book unavailable"))
			return failedBorrow(model.FailureOutOfStock, "book is unavailable")
		default:
			log.Error("reserve copy error", zap.Error(err))
			return failedBorrow(model.FailureStoreUnavailable, "service temporarily unavailable")
		}
	}

	borrowDate := s.now()
	dueDate := borrowDate.Add(loanPeriod)
	attemptKey := uuid.NewString()

	rec, err := s.ledger.CreateLoan(ctx, attemptKey, userID, title, borrowDate, dueDate)
	if err != nil {
		log.Error("loan record error", zap.Error(err))

		// Экземпляр уже зарезервирован: без компенсирующего возврата каталог
		// навсегда потеряет копию, выданную несостоявшейся выдачей.
		releaseCtx := context.WithoutCancel(ctx)
		if relErr := s.catalog.ReleaseCopy(releaseCtx, title); relErr != nil {
			log.Error("release copy after failed loan record", zap.Error(relErr))
		}

		return failedBorrow(model.FailureLedgerWrite, "failed to record loan")
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyDueDate(ctx, user.Name, user.Email, title, rec.DueDate); err != nil {
			log.Warn("due date notification failed", zap.Error(err))
		}
	}

	log.Info("borrow success", zap.Time("dueDate", rec.DueDate))

	due := rec.DueDate
	return &model.BorrowResult{
		Success: true,
		Message: fmt.Sprintf("Book borrowed successfully! Due date: %s", due.Format("2006-01-02")),
		DueDate: &due,
	}
}

// ReturnBook обрабатывает возврат книги: активная выдача помечается
// возвращённой, экземпляр возвращается в каталог.
func (s *Service) ReturnBook(ctx context.Context, userID, title string) *model.ReturnResult {
	log := s.logger.With(zap.String("userID", userID), zap.String("bookTitle", title))
	log.Info("return attempt")

	err := s.ledger.MarkReturned(ctx, userID, title, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveLoan) {
			log.Info("return rejected", zap.String("reason", "no active loan"))
			return &model.ReturnResult{
				Message: "no active loan for this user and book",
				Failure: model.FailureLoanNotFound,
			}
		}
		log.Error("return error", zap.Error(err))
		return &model.ReturnResult{
			Message: "service temporarily unavailable",
			Failure: model.FailureStoreUnavailable,
		}
	}

	log.Info("return success")
	return &model.ReturnResult{
		Success: true,
		Message: "Book returned successfully",
	}
}

// ListOverdue возвращает просроченные выдачи на текущий момент.
func (s *Service) ListOverdue(ctx context.Context) ([]model.OverdueLoan, error) {
	return s.ledger.ListOverdue(ctx, s.now())
}

// Availability возвращает книгу каталога вместе с количеством доступных экземпляров.
func (s *Service) Availability(ctx context.Context, title string) (*model.Book, error) {
	return s.catalog.GetBook(ctx, title)
}

// UnavailableBooks возвращает названия книг без доступных экземпляров.
func (s *Service) UnavailableBooks(ctx context.Context) ([]string, error) {
	return s.catalog.UnavailableTitles(ctx)
}

// StartOverdueSweeps запускает фоновый процесс уведомления читателей
// о просроченных выдачах.
func (s *Service) StartOverdueSweeps(ctx context.Context, interval time.Duration) {
	if s.notifier == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOverdue(ctx)
			}
		}
	}()
}

func (s *Service) sweepOverdue(ctx context.Context) {
	loans, err := s.ledger.ListOverdue(ctx, s.now())
	if err != nil {
		s.logger.Error("overdue sweep error", zap.Error(err))
		return
	}

	for _, l := range loans {
		if err := s.notifier.NotifyDueDate(ctx, l.UserName, l.Email, l.BookTitle, l.DueDate); err != nil {
			s.logger.Warn("overdue notification failed",
				zap.Error(err),
				zap.String("userID", l.UserID),
				zap.String("bookTitle", l.BookTitle),
			)
		}
	}
}
