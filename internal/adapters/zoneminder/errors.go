package zoneminder

import "errors"

// Sentinel kinds for host API errors.
var (
	ErrUnexpectedStatus = errors.New("unexpected status from host")
	ErrLogin            = errors.New("host login failed")
	ErrNoEventID        = errors.New("host did not report an event id")
	ErrZoneNotFound     = errors.New("zone not found")
	ErrNoAnalysisFPS    = errors.New("monitor has no analysis fps limit")
	ErrDecodeFrame      = errors.New("decode frame failed")
)
