package upsdk

import (
	"github.com/boxkite/boxkite/internal/version"
	"github.com/imroc/req/v3"
)

// Client talks to the upload endpoints: session negotiation, chunk relay and
// session abort. Chunk bytes for direct-policy items bypass this client and go
// straight to the pre-authorized endpoint (see directTransport).
type Client struct {
	http    *req.Client
	baseURL string
}

// New creates a new upload SDK client.
func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	http := req.C().
		SetBaseURL(cfg.BaseURL).
		SetCommonRetryCount(cfg.RetryCount).
		SetCommonRetryFixedInterval(cfg.RetryInterval).
		SetUserAgent(BoxkiteUserAgent).
		SetCommonHeader(HeaderClientVersion, version.Version).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Client{
		http:    http,
		baseURL: cfg.BaseURL,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}
