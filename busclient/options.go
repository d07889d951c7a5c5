package busclient

import (
	"fmt"
	"log/slog"
	"time"
)

// ClientOption configures a Client during construction.
type ClientOption func(*Client) error

// WithName sets the client connection name reported to the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithLogger sets the structured logger used for connection events.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTimeout sets the connection dial timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithRequestTimeout sets the default timeout applied to Request calls whose
// context has no deadline.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("request timeout must be positive, got %v", timeout)
		}
		c.requestTimeout = timeout
		return nil
	}
}

// WithDrainTimeout sets the maximum time spent draining on Close.
func WithDrainTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", timeout)
		}
		c.drainTimeout = timeout
		return nil
	}
}

// WithReconnect configures automatic reconnection. maxReconnects of -1 means
// reconnect forever.
func WithReconnect(maxReconnects int, wait time.Duration) ClientOption {
	return func(c *Client) error {
		if maxReconnects < -1 {
			return fmt.Errorf("max reconnects must be >= -1, got %d", maxReconnects)
		}
		if wait <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", wait)
		}
		c.maxReconnects = maxReconnects
		c.reconnectWait = wait
		return nil
	}
}

// WithCircuitBreaker tunes the failure threshold and maximum backoff of the
// connection circuit breaker.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold <= 0 {
			return fmt.Errorf("circuit threshold must be positive, got %d", threshold)
		}
		if maxBackoff <= 0 {
			return fmt.Errorf("max backoff must be positive, got %v", maxBackoff)
		}
		c.circuitThreshold = threshold
		c.maxBackoff = maxBackoff
		return nil
	}
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" || password == "" {
			return fmt.Errorf("username and password must both be set")
		}
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		if token == "" {
			return fmt.Errorf("token cannot be empty")
		}
		c.token = token
		return nil
	}
}

// WithTLS configures TLS client certificates and an optional CA file.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("cert and key files must be set together")
		}
		c.tlsCertFile = certFile
		c.tlsKeyFile = keyFile
		c.tlsCAFile = caFile
		return nil
	}
}
