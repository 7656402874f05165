package zoneminder

import (
	"time"

	"github.com/okian/aidect/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithCredentials enables token login with user and password.
func WithCredentials(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
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

// WithIdleState sets the monitor state number that means "not recording".
func WithIdleState(state int) Option {
	return func(c *Client) {
		c.idleState = state
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
