package domain

import "errors"

var (
	ErrMalformedEntry  = errors.New("malformed store entry")
	ErrInvalidRecord   = errors.New("invalid inventory record")
	ErrRecordNotFound  = errors.New("inventory record not found")
	ErrDuplicateRecord = errors.New("inventory record already exists")
	ErrOptimisticLock  = errors.New("optimistic lock conflict")
)
