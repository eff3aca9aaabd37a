package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrFormatViolation   = errors.New("format violation")
	ErrDivisionUndefined = errors.New("division undefined")
	ErrPriceUnavailable  = errors.New("price unavailable")
)
