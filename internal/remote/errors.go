package remote

import (
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// ErrPermanent marks a remote failure that retrying cannot fix: a malformed
// row, a constraint violation, a payload that does not encode.
var ErrPermanent = errors.New("permanent remote error")

// PostgreSQL error classes that indicate a problem with the request itself.
var permanentClasses = map[pq.ErrorClass]bool{
	"22": true, // data exception
	"23": true, // integrity constraint violation
	"42": true, // syntax error or access rule violation
}

// IsPermanent reports whether err should be surfaced without automatic
// retry. Everything not recognised as permanent (network, timeout, closed
// connection) is treated as transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return permanentClasses[pqErr.Code.Class()]
	}

	var (
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		unsupportedErr *json.UnsupportedTypeError
		valueErr       *json.UnsupportedValueError
		marshalerErr   *json.MarshalerError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &unsupportedErr) ||
		errors.As(err, &valueErr) ||
		errors.As(err, &marshalerErr)
}
