package service

import "errors"

var (
	ErrStoreUnavailable = errors.New("record store unavailable")
	ErrCodeCollision    = errors.New("scan code collision limit reached")
	ErrQueueClosed      = errors.New("persistence queue closed")
)
