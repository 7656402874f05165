package detector

import (
	"time"

	"github.com/okian/aidect/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithThreshold sets the minimum confidence kept.
func WithThreshold(threshold float64) Option {
	return func(c *Client) {
		c.threshold = threshold
	}
}

// WithInputSize sets the edge length the service resizes frames to.
func WithInputSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.inputSize = size
		}
	}
}

// WithJPEGQuality sets the quality frames are encoded with.
func WithJPEGQuality(quality int) Option {
	return func(c *Client) {
		if quality > 0 && quality <= 100 {
			c.quality = quality
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
