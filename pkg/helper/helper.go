package helper

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New()

// Validate shortcuts
func ValidateStruct(s interface{}) error              { return validate.Struct(s) }
func ValidateVar(field interface{}, tag string) error { return validate.Var(field, tag) }

func IsValidationError(err error) bool {
	var verr validator.ValidationErrors

	return errors.As(err, &verr)
}

// UTCNow current time, UTC, truncated to seconds; certificate validity
// windows never need finer resolution
func UTCNow() time.Time { return time.Now().UTC().Truncate(time.Second) }

func AfterNow(years int, months int, days int) time.Time {
	return UTCNow().AddDate(years, months, days)
}
