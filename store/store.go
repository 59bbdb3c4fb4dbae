// Package store persists users and todos with gorm.
//
// Every error leaving this package is an *apperrors.Error: missing rows become
// NotFound, unique index violations become UniqueConstraint and everything
// else is Internal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/logging"
)

// pgUniqueViolation is the SQLSTATE of a unique index violation
const pgUniqueViolation = "23505"

type Store struct {
	db *gorm.DB
}

// Config returns the gorm settings shared by every dialect
func Config() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(gormWriter{}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// Open connects to postgres, sizes the pool and migrates the schema
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), Config())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	s, err := New(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open gorm handle and migrates the schema
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&User{}, &Todo{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the connection without touching any table
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SQLDB exposes the pool, for the stats collector
func (s *Store) SQLDB() (*sql.DB, error) {
	return s.db.DB()
}

// Close closes the pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return translate(err, "user")
	}
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &u, nil
}

// ListTodos returns the user's todos, oldest first
func (s *Store) ListTodos(ctx context.Context, userID uint) ([]Todo, error) {
	todos := make([]Todo, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&todos).Error
	if err != nil {
		return nil, translate(err, "todo")
	}
	return todos, nil
}

func (s *Store) CreateTodo(ctx context.Context, t *Todo) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return translate(err, "todo")
	}
	return nil
}

// UpdateTodo applies upd to the user's todo id. Another user's todo is NotFound.
func (s *Store) UpdateTodo(ctx context.Context, userID, id uint, upd TodoUpdate) (*Todo, error) {
	var t Todo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&t).Error; err != nil {
			return err
		}
		if upd.Title != nil {
			t.Title = *upd.Title
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.Completed != nil {
			t.Completed = *upd.Completed
		}
		return tx.Save(&t).Error
	})
	if err != nil {
		return nil, translate(err, "todo")
	}
	return &t, nil
}

// DeleteTodo removes the user's todo id. Another user's todo is NotFound.
func (s *Store) DeleteTodo(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Todo{})
	if res.Error != nil {
		return translate(res.Error, "todo")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("todo", gorm.ErrRecordNotFound)
	}
	return nil
}

func translate(err error, resource string) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.NotFound(resource, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperrors.UniqueConstraint(err)
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		return apperrors.UniqueConstraint(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.DependencyUnavailable("database", err)
	}
	return apperrors.Internal(resource+" query failed", err)
}

// gormWriter sends gorm's slow-query and error lines to the app log
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	logging.Warn("gorm", "detail", logging.Sanitize(fmt.Sprintf(format, args...), 0))
}
