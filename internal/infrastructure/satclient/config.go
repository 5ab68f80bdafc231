package satclient

import (
	"errors"
	"time"
)

// SATConfig holds configuration for the tax authority bulk download API
type SATConfig struct {
	// BaseURL is the root of the bulk download service
	BaseURL string
	// UserAgent identifies this client in authority access logs
	UserAgent string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// IsSandbox indicates the authority's test environment
	IsSandbox bool
}

const (
	// SATProductionBaseURL is the production bulk download endpoint
	SATProductionBaseURL = "https://srvsolicituddescarga.clouda.sat.gob.mx"
	// SATSandboxBaseURL is the test bulk download endpoint
	SATSandboxBaseURL = "https://pruebacfdiconsultaqr.clouda.sat.gob.mx"
)

// ErrSATConfigMissingBaseURL indicates missing endpoint configuration
var ErrSATConfigMissingBaseURL = errors.New("satclient: base URL is required")

// NewSATConfig creates a production configuration
func NewSATConfig() *SATConfig {
	return &SATConfig{
		BaseURL:   SATProductionBaseURL,
		UserAgent: "fiscaldesk/1.0",
		Timeout:   2 * time.Minute,
	}
}

// NewSandboxSATConfig creates a sandbox configuration
func NewSandboxSATConfig() *SATConfig {
	return &SATConfig{
		BaseURL:   SATSandboxBaseURL,
		UserAgent: "fiscaldesk/1.0",
		Timeout:   2 * time.Minute,
		IsSandbox: true,
	}
}

// Validate checks the configuration
func (c *SATConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrSATConfigMissingBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return nil
}
