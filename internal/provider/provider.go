package provider

import (
	"context"
	"errors"
	"time"

	"github.com/psegsync/psegsync/pkg/models"
)

// Source fetches usage readings from a utility portal. The request and
// response shapes are provider-specific; implementations hide them so the
// session manager and statistics writer never see provider JSON.
type Source interface {
	// FetchDay returns all finalized readings for one calendar day,
	// sorted by timestamp. An expired or rejected cookie yields an
	// *AuthError.
	FetchDay(ctx context.Context, cookie string, day time.Time) ([]models.UsageReading, error)
}

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// IsAuthError reports whether err is (or wraps) an authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
