package models

import "errors"

// Error taxonomy. Callers classify failures with errors.Is and recover
// according to the propagation policy: provider and deadline errors are
// absorbed where they occur, policy errors abort only the offending
// mutation, and only a config error at startup ends the process.
var (
	ErrConfig    = errors.New("configuration error")
	ErrStore     = errors.New("store error")
	ErrProvider  = errors.New("provider error")
	ErrDeadline  = errors.New("deadline exceeded")
	ErrPolicy    = errors.New("policy violation")
	ErrCancelled = errors.New("cancelled")
)
