package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fiscaldesk/backend/internal/domain/download"
)

// maxResponseSize caps vault responses (1MB is plenty for a cert pair)
const maxResponseSize = 1 * 1024 * 1024

// VaultConfig holds configuration for the signing-credential service
type VaultConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ErrVaultConfigMissingBaseURL indicates missing endpoint configuration
var ErrVaultConfigMissingBaseURL = errors.New("credentials: vault base URL is required")

// Validate checks the configuration
func (c *VaultConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrVaultConfigMissingBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// credentialResponse is the vault's wire format; key material travels base64
type credentialResponse struct {
	RFC          string `json:"rfc"`
	Certificate  string `json:"certificate"`
	PrivateKey   string `json:"private_key"`
	SerialNumber string `json:"serial_number"`
}

// VaultProvider implements download.CredentialProvider against the credential
// vault HTTP service. Key material is fetched per taxpayer and never persisted
// by this process; pair with the Redis cache to bound vault traffic.
type VaultProvider struct {
	config     *VaultConfig
	httpClient *http.Client
}

// NewVaultProvider creates a vault-backed credential provider
func NewVaultProvider(config *VaultConfig) (*VaultProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &VaultProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

var _ download.CredentialProvider = (*VaultProvider)(nil)

// GetCredential fetches the signing credential for a taxpayer
func (p *VaultProvider) GetCredential(ctx context.Context, taxpayerRFC string) (download.Credential, error) {
	url := p.config.BaseURL + "/api/v1/credentials/" + taxpayerRFC
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return download.Credential{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return download.Credential{}, fmt.Errorf("calling credential vault: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return download.Credential{}, download.ErrCredentialNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return download.Credential{}, fmt.Errorf("credential vault returned %d for %s", resp.StatusCode, taxpayerRFC)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return download.Credential{}, fmt.Errorf("reading vault response: %w", err)
	}

	var body credentialResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return download.Credential{}, fmt.Errorf("decoding vault response: %w", err)
	}

	cert, err := base64.StdEncoding.DecodeString(body.Certificate)
	if err != nil {
		return download.Credential{}, fmt.Errorf("decoding certificate for %s: %w", taxpayerRFC, err)
	}
	key, err := base64.StdEncoding.DecodeString(body.PrivateKey)
	if err != nil {
		return download.Credential{}, fmt.Errorf("decoding private key for %s: %w", taxpayerRFC, err)
	}

	cred := download.Credential{
		RFC:          body.RFC,
		Certificate:  cert,
		PrivateKey:   key,
		SerialNumber: body.SerialNumber,
	}
	if cred.IsZero() {
		return download.Credential{}, download.ErrCredentialNotFound
	}
	return cred, nil
}
