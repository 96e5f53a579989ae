package server

import "errors"

var (
	errInvalidAmount   = errors.New("amount must be a decimal number")
	errSubCentAmount   = errors.New("amount has sub-cent precision")
	errInvalidQueryInt = errors.New("invalid query parameter")
)
