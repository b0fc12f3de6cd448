package planner

import "errors"

var (
	// ErrValidationFailed marks a model answer that broke the plan contract.
	ErrValidationFailed = errors.New("plan validation failed")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrInvalidRequest   = errors.New("invalid plan request")
	// ErrConcurrentUpdate is returned when a plan changed between read and write.
	ErrConcurrentUpdate = errors.New("plan was modified concurrently")
)
