package apierr

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/maraichr/docflow/internal/item"
)

// IsNotFound reports whether err is a missing item or row.
func IsNotFound(err error) bool {
	return errors.Is(err, item.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
