package upsdk

import "time"

const (
	DefaultRetryCount    = 3
	DefaultRetryInterval = 1 * time.Second
)

// Config is the configuration for the upload SDK client.
type Config struct {
	BaseURL       string        // BaseURL is required
	RetryCount    int           // RetryCount is optional, defaults to DefaultRetryCount
	RetryInterval time.Duration // RetryInterval is optional, defaults to DefaultRetryInterval
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}

	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}

	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}

	return nil
}
