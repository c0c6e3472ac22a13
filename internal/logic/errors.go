package logic

import "errors"

// ErrNotFound marks a lookup for an unknown symbol or series.
var ErrNotFound = errors.New("not found")
