// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/lending-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// storeCallTimeout ограничивает длительность каждого обращения к хранилищу.
const storeCallTimeout = 10 * time.Second

// ErrUserNotFound возвращается, если читатель не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrBookNotFound возвращается, если книга отсутствует в каталоге.
	ErrBookNotFound = errors.New("book not found")
	// ErrOutOfStock возвращается, если доступных экземпляров книги не осталось.
	ErrOutOfStock = errors.New("no available copies")
	// ErrNoActiveLoan возвращается при попытке вернуть книгу без активной выдачи.
	ErrNoActiveLoan = errors.New("no active loan")
	// ErrSchema возвращается, если запись хранилища не проходит проверку схемы.
	ErrSchema = errors.New("invalid stored record")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks,
		// с переподключением pgxpool справляется сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetUserByID возвращает читателя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT user_id, name, email, status FROM users WHERE user_id = $1`,
		userID,
	)

	var u model.User
	var status string
	err := row.Scan(&u.UserID, &u.Name, &u.Email, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	// Статус проверяется на границе хранилища: неизвестное значение — ошибка
	// схемы, а не поломка бизнес-логики дальше по цепочке.
	switch model.UserStatus(status) {
	case model.UserStatusActive, model.UserStatusInactive, model.UserStatusSuspended:
		u.Status = model.UserStatus(status)
	default:
		return nil, fmt.Errorf("%w: unknown user status %q", ErrSchema, status)
	}

	return &u, nil
}

// GetBook возвращает книгу каталога по названию.
func (r *PostgresRepository) GetBook(ctx context.Context, title string) (*model.Book, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT book_title, author, genres, available_copies, book_details, cover_image_uri
		 FROM books
		 WHERE book_title = $1`,
		title,
	)

	var b model.Book
	err := row.Scan(&b.Title, &b.Author, &b.Genres, &b.AvailableCopies, &b.Details, &b.CoverImageURI)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	if b.AvailableCopies < 0 {
		return nil, fmt.Errorf("%w: negative available_copies for %q", ErrSchema, title)
	}

	return &b, nil
}

// ReserveCopy уменьшает количество доступных экземпляров книги на один.
// Декремент выполняется одним условным запросом: два конкурентных заёмщика
// не могут одновременно получить последний экземпляр.
func (r *PostgresRepository) ReserveCopy(ctx context.Context, title string) error {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE books
			 SET available_copies = available_copies - 1
			 WHERE book_title = $1 AND available_copies > 0`,
			title,
		)
		if err != nil {
			return fmt.Errorf("reserve copy: %w", err)
		}

		if cmdTag.RowsAffected() == 1 {
			return nil
		}

		var exists bool
		err = r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM books WHERE book_title = $1)`,
			title,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check book: %w", err)
		}

		if !exists {
			return ErrBookNotFound
		}
		return ErrOutOfStock
	})
}

// ReleaseCopy увеличивает количество доступных экземпляров книги на один.
func (r *PostgresRepository) ReleaseCopy(ctx context.Context, title string) error {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE books SET available_copies = available_copies + 1 WHERE book_title = $1`,
			title,
		)
		if err != nil {
			return fmt.Errorf("release copy: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrBookNotFound
		}
		return nil
	})
}

// UnavailableTitles возвращает названия книг без доступных экземпляров.
func (r *PostgresRepository) UnavailableTitles(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT book_title FROM books WHERE available_copies = 0 ORDER BY book_title`,
	)
	if err != nil {
		return nil, fmt.Errorf("select unavailable books: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, title)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return titles, nil
}

// CreateLoan сохраняет запись о выдаче книги. Ключ попытки уникален, поэтому
// повтор вставки после неоднозначного исхода не создаёт дубликат записи.
func (r *PostgresRepository) CreateLoan(ctx context.Context, attemptKey, userID, title string, borrowDate, dueDate time.Time) (*model.LendingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	var rec *model.LendingRecord

	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO borrow_transactions (attempt_key, user_id, book_title, borrow_date, due_date, returned)
			 VALUES ($1, $2, $3, $4, $5, FALSE)
			 ON CONFLICT (attempt_key) DO NOTHING`,
			attemptKey, userID, title, borrowDate, dueDate,
		)
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}

		row := r.pool.QueryRow(ctx,
			`SELECT user_id, book_title, borrow_date, due_date, returned, return_date
			 FROM borrow_transactions
			 WHERE attempt_key = $1`,
			attemptKey,
		)

		var lr model.LendingRecord
		if err := row.Scan(&lr.UserID, &lr.BookTitle, &lr.BorrowDate, &lr.DueDate, &lr.Returned, &lr.ReturnDate); err != nil {
			return fmt.Errorf("select loan: %w", err)
		}

		rec = &lr
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// MarkReturned помечает самую раннюю активную выдачу пары (читатель, книга)
// возвращённой и восстанавливает количество экземпляров в одной транзакции.
func (r *PostgresRepository) MarkReturned(ctx context.Context, userID, title string, returnedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE borrow_transactions
		 SET returned = TRUE, return_date = $3
		 WHERE id = (
			SELECT id FROM borrow_transactions
			WHERE user_id = $1 AND book_title = $2 AND returned = FALSE
			ORDER BY borrow_date
			LIMIT 1
			FOR UPDATE
		 )`,
		userID, title, returnedAt,
	)
	if err != nil {
		return fmt.Errorf("mark returned: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrNoActiveLoan
	}

	_, err = tx.Exec(ctx,
		`UPDATE books SET available_copies = available_copies + 1 WHERE book_title = $1`,
		title,
	)
	if err != nil {
		return fmt.Errorf("restore copy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// HasOverdue сообщает, есть ли у читателя просроченные выдачи на указанный момент.
func (r *PostgresRepository) HasOverdue(ctx context.Context, userID string, asOf time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	var overdue bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM borrow_transactions
			WHERE user_id = $1 AND returned = FALSE AND due_date < $2
		 )`,
		userID, asOf,
	).Scan(&overdue)
	if err != nil {
		return false, fmt.Errorf("check overdue: %w", err)
	}
	return overdue, nil
}

// ListOverdue возвращает просроченные выдачи на указанный момент вместе
// с именем и почтой читателя.
func (r *PostgresRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]model.OverdueLoan, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT t.book_title, t.user_id, u.name, u.email, t.due_date
		 FROM borrow_transactions t
		 JOIN users u ON u.user_id = t.user_id
		 WHERE t.returned = FALSE AND t.due_date < $1
		 ORDER BY t.due_date`,
		asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue: %w", err)
	}
	defer rows.Close()

	var res []model.OverdueLoan
	for rows.Next() {
		var l model.OverdueLoan
		if err := rows.Scan(&l.BookTitle, &l.UserID, &l.UserName, &l.Email, &l.DueDate); err != nil {
			return nil, fmt.Errorf("scan overdue loan: %w", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
