package otp

import (
	"errors"

	"github.com/fleetrent/authcore/internal/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
