package services

import (
	"errors"

	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

func asFault(err error, target **fault.Fault) bool {
	return errors.As(err, target)
}

func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}
