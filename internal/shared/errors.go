package shared

import "errors"

// ErrForbidden indicates the operator lacks a required permission.
var ErrForbidden = errors.New("forbidden")
