package detector

import "errors"

var (
	// ErrUnexpectedStatus is returned for a non-2xx inference response.
	ErrUnexpectedStatus = errors.New("unexpected status from detector")
	// ErrEncodeFrame is returned when the frame cannot be JPEG encoded.
	ErrEncodeFrame = errors.New("encode frame failed")
)
