package tenant

import "errors"

var (
	// ErrCompanyNotFound is returned when a company ID does not exist.
	ErrCompanyNotFound = errors.New("company not found")

	// ErrStoreNotFound is returned when a store ID does not exist.
	ErrStoreNotFound = errors.New("store not found")

	// ErrCompanyHasUsers is returned when trying to remove a company
	// that still has user accounts attached.
	ErrCompanyHasUsers = errors.New("company has users: reassign or delete them first")

	// ErrInvalidName is returned when a company or store name fails validation.
	ErrInvalidName = errors.New("invalid name")
)
