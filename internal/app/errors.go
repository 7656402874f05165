package service

import "errors"

// Fatal loop failures. Each wraps the underlying cause.
var (
	ErrFrameSource        = errors.New("frame source failed")
	ErrDetector           = errors.New("detector failed")
	ErrIdleQuery          = errors.New("idle query failed")
	ErrRegionOutsideFrame = errors.New("analysis region outside frame")
	ErrMissingDependency  = errors.New("missing dependency")
)
