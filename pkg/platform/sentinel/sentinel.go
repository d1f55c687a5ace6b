package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and transport layers
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: aggregate or cached session does not exist in the store
// - ErrExpired: cached session token has passed its local expiry
// - ErrUnavailable: backing store or provider temporarily unreachable
// - ErrInvalidState: entity in the wrong state for the requested operation
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
