// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
)

// ErrorRule maps a domain error to a problem response.
type ErrorRule struct {
	Err    error
	Status int
	Title  string
}

var defaultRules = []ErrorRule{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// RespondError writes an RFC7807 response for err. Rules are checked in
// order before the defaults; unmatched errors become a detail-less 500.
func RespondError(w http.ResponseWriter, err error, rules ...ErrorRule) {
	for _, set := range [][]ErrorRule{rules, defaultRules} {
		for _, rule := range set {
			if errors.Is(err, rule.Err) {
				Problem(w, rule.Status, rule.Title, err.Error())
				return
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
