package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("entity already exists")

	// ErrDriverAssignment is returned when a ride's driver does not match its status.
	ErrDriverAssignment = errors.New("ride driver does not match its status")
)
