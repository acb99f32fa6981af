package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across packages.
var (
	// ErrValidation is the base error for all parameter validation failures.
	// Specific failures wrap it so callers can match with errors.Is.
	ErrValidation = errors.New("validation error")

	// ErrUnknownTaskType is returned when decoding parameters whose task_type
	// tag names no known variant. The union is closed; new variants require
	// a code change, not a config change.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrUnknownEventType is returned when decoding an event whose event_type
	// tag names no known variant.
	ErrUnknownEventType = errors.New("unknown event type")

	// Specific validation errors

	// ErrEmptyPrompt indicates a generation request without a prompt.
	ErrEmptyPrompt = fmt.Errorf("%w: prompt is required", ErrValidation)

	// ErrEmptyModel indicates a generation request without a model reference.
	ErrEmptyModel = fmt.Errorf("%w: model is required", ErrValidation)

	// ErrInvalidSteps indicates a non-positive sampling step count.
	ErrInvalidSteps = fmt.Errorf("%w: steps must be positive", ErrValidation)

	// ErrInvalidScheduler indicates a scheduler outside the supported set.
	ErrInvalidScheduler = fmt.Errorf("%w: unsupported scheduler", ErrValidation)

	// ErrMissingSourceImage indicates an img2img or inpaint request without
	// the required source-image locator(s).
	ErrMissingSourceImage = fmt.Errorf("%w: source image is required", ErrValidation)
)
