package domain

import "errors"

var (
	// ErrInsufficientHistory is returned when a calculation needs more months than are available.
	ErrInsufficientHistory = errors.New("insufficient demand history")
	// ErrInvalidMonth is returned for malformed target months.
	ErrInvalidMonth = errors.New("invalid month")
	// ErrUnknownClassification is returned for ABC/XYZ/growth-status codes outside the known set.
	ErrUnknownClassification = errors.New("unknown classification code")
	// ErrMonthNotClosed is returned when reconciling a month that has no real sales data yet.
	ErrMonthNotClosed = errors.New("month is not closed")
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for request values outside their allowed range.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists is returned when creating a row whose key is taken.
	ErrAlreadyExists = errors.New("already exists")
)
