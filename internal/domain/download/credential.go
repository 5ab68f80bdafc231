package download

import (
	"context"

	"github.com/fiscaldesk/backend/internal/domain/shared"
)

// ErrCredentialNotFound indicates the vault holds no signing identity for the RFC
var ErrCredentialNotFound = shared.NewDomainError("CREDENTIAL_NOT_FOUND", "No signing credential registered for taxpayer")

// Credential is the signing identity the authority requires per taxpayer.
// Storage and rotation live in an external vault; this is only the shape the
// transport needs to sign requests.
type Credential struct {
	RFC          string `json:"rfc"`
	Certificate  []byte `json:"certificate"`
	PrivateKey   []byte `json:"private_key"`
	SerialNumber string `json:"serial_number"`
}

// IsZero reports whether the credential is unpopulated
func (c Credential) IsZero() bool {
	return c.RFC == "" && len(c.Certificate) == 0 && len(c.PrivateKey) == 0
}

// CredentialProvider yields a signing credential per taxpayer on request
type CredentialProvider interface {
	GetCredential(ctx context.Context, taxpayerRFC string) (Credential, error)
}
