package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/fixhub/pkg/errors"
)

// Errors returned by the conversation services. They are AppErrors, so handlers can
// render them directly and callers can match them with errors.Is.
var (
	ErrUnauthenticated      = apperrors.ErrUnauthorized
	ErrForbidden            = apperrors.ErrForbidden
	ErrNotFound             = apperrors.ErrNotFound
	ErrBadRequest           = apperrors.ErrBadRequest
	ErrConflict             = apperrors.ErrConflict
	ErrStorage              = apperrors.ErrStorage
	ErrTimeout              = apperrors.ErrTimeout
	ErrMediaAccess          = apperrors.ErrMediaAccess
	ErrNotificationDelivery = apperrors.ErrNotificationDelivery

	ErrInvalidCallTransition = apperrors.New("INVALID_CALL_TRANSITION", "Call cannot move to the requested state", http.StatusConflict)
	ErrConversationClosed    = apperrors.New("CONVERSATION_CLOSED", "Conversation no longer accepts new activity", http.StatusConflict)
)

// storageError classifies a backing store failure for op ("message service: send").
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout.WithInternal(err))
	}
	return fmt.Errorf("%s: %w", op, ErrStorage.WithInternal(err))
}

// notFoundOr maps gorm.ErrRecordNotFound to ErrNotFound and anything else to a storage error.
func notFoundOr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return storageError(op, err)
}

func badRequest(message string) error {
	return apperrors.NewBadRequest(message)
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") || strings.Contains(lower, "duplicate")
}
