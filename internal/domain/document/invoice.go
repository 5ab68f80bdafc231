package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// SettlementMethod drives reconciliation bucketing
type SettlementMethod string

const (
	// MethodUpfront is PUE: paid in full at issuance
	MethodUpfront SettlementMethod = "upfront"
	// MethodInstallment is PPD: paid over time via tracked partial payments
	MethodInstallment SettlementMethod = "installment"
	// MethodComplement marks a payment-confirmation document (tipo P), itself a
	// payment event rather than an invoice awaiting payment
	MethodComplement SettlementMethod = "complement"
)

// IsValid checks if the settlement method is valid
func (m SettlementMethod) IsValid() bool {
	switch m {
	case MethodUpfront, MethodInstallment, MethodComplement:
		return true
	}
	return false
}

// String returns the string representation of SettlementMethod
func (m SettlementMethod) String() string {
	return string(m)
}

// Invoice is one ingested tax document. It is owned by the bulk request that
// downloaded it but globally unique by its fiscal folio: re-ingestion of the
// same UUID from another request upserts rather than duplicates.
type Invoice struct {
	UUID        string                `json:"uuid"` // folio fiscal, globally unique
	RequestID   string                `json:"request_id"`
	TaxpayerRFC string                `json:"taxpayer_rfc"`
	Direction   download.DocumentKind `json:"direction"`

	IssuerRFC   string `json:"issuer_rfc"`
	ReceiverRFC string `json:"receiver_rfc"`

	IssuedAt time.Time        `json:"issued_at"`
	Method   SettlementMethod `json:"method"`

	Subtotal decimal.Decimal `json:"subtotal"`
	IVA      decimal.Decimal `json:"iva"`
	Total    decimal.Decimal `json:"total"`

	Canceled  bool      `json:"canceled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInvoice creates an ingested invoice
func NewInvoice(uuid, requestID, taxpayerRFC string, direction download.DocumentKind, method SettlementMethod,
	issuerRFC, receiverRFC string, issuedAt time.Time, subtotal, iva, total decimal.Decimal) (*Invoice, error) {
	uuid = strings.ToUpper(strings.TrimSpace(uuid))
	if uuid == "" {
		return nil, shared.NewDomainError("INVALID_UUID", "Invoice UUID cannot be empty")
	}
	if requestID == "" {
		return nil, shared.NewDomainError("INVALID_REQUEST_ID", "Owning request ID cannot be empty")
	}
	if !direction.IsValid() {
		return nil, shared.NewDomainError("INVALID_DIRECTION", fmt.Sprintf("Invalid direction: %s", direction))
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_METHOD", fmt.Sprintf("Invalid settlement method: %s", method))
	}
	if total.IsNegative() || subtotal.IsNegative() || iva.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Invoice amounts cannot be negative")
	}

	now := time.Now()
	return &Invoice{
		UUID:        uuid,
		RequestID:   requestID,
		TaxpayerRFC: taxpayerRFC,
		Direction:   direction,
		IssuerRFC:   issuerRFC,
		ReceiverRFC: receiverRFC,
		IssuedAt:    issuedAt,
		Method:      method,
		Subtotal:    subtotal,
		IVA:         iva,
		Total:       total,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// InPeriod reports whether the invoice was issued inside [start, end]
func (i *Invoice) InPeriod(start, end time.Time) bool {
	return !i.IssuedAt.Before(start) && !i.IssuedAt.After(end)
}
