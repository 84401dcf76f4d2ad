// Package model содержит доменные сущности системы библиотечной выдачи.
package model

import "time"

// UserStatus описывает статус читателя в системе.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// User представляет читателя библиотеки. Записи создаются внешним
// административным процессом и доступны ядру только на чтение.
type User struct {
	UserID string
	Name   string
	Email  string
	Status UserStatus
}

// Book описывает книгу каталога и количество доступных экземпляров.
// AvailableCopies изменяется только операциями резервирования и возврата каталога.
type Book struct {
	Title           string
	Author          string
	Genres          []string
	AvailableCopies int
	Details         string
	CoverImageURI   string
}

// LendingRecord описывает факт выдачи книги читателю.
type LendingRecord struct {
	UserID     string
	BookTitle  string
	BorrowDate time.Time
	DueDate    time.Time
	Returned   bool
	ReturnDate *time.Time
}

// OverdueLoan описывает просроченную выдачу вместе с данными читателя для отображения.
type OverdueLoan struct {
	BookTitle string
	UserID    string
	UserName  string
	Email     string
	DueDate   time.Time
}

// FailureKind классифицирует причину отказа рабочего процесса выдачи или возврата.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureUserNotFound     FailureKind = "UserNotFound"
	FailureUserInactive     FailureKind = "UserInactive"
	FailureUserHasOverdue   FailureKind = "UserHasOverdue"
	FailureBookNotFound     FailureKind = "BookNotFound"
	FailureOutOfStock       FailureKind = "OutOfStock"
	FailureLedgerWrite      FailureKind = "LedgerWriteFailed"
	FailureLoanNotFound     FailureKind = "LoanNotFound"
	FailureStoreUnavailable FailureKind = "StoreUnavailable"
)

// BorrowResult содержит результат попытки выдачи книги.
type BorrowResult struct {
	Success bool
	Message string
	DueDate *time.Time
	Failure FailureKind
}

// ReturnResult содержит результат обработки возврата книги.
type ReturnResult struct {
	Success bool
	Message string
	Failure FailureKind
}
