package document

import (
	"strconv"
	"strings"
	"time"

	"github.com/fiscaldesk/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentComplement is one payment-allocation record from a pago complement:
// the paying document applied an amount against a related (paid-off) invoice
// at a given installment number. The triple (payment uuid, related uuid,
// installment) is the natural dedup key for re-ingestion. The reference to the
// related invoice is a lookup-only back-reference: deleting the invoice does
// not remove historical payment rows.
type PaymentComplement struct {
	ID          uuid.UUID `json:"id"`
	RequestID   string    `json:"request_id"`
	TaxpayerRFC string    `json:"taxpayer_rfc"`

	PaymentUUID string `json:"payment_uuid"` // the paying document (tipo P)
	RelatedUUID string `json:"related_uuid"` // the invoice being paid off
	Installment int    `json:"installment"`  // parcialidad number, 1-based

	AmountPaid       decimal.Decimal `json:"amount_paid"`
	PriorBalance     decimal.Decimal `json:"prior_balance"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaymentDate      time.Time       `json:"payment_date"`

	CreatedAt time.Time `json:"created_at"`
}

// NewPaymentComplement creates a payment-allocation record
func NewPaymentComplement(requestID, taxpayerRFC, paymentUUID, relatedUUID string, installment int,
	amountPaid, priorBalance, remainingBalance decimal.Decimal, paymentDate time.Time) (*PaymentComplement, error) {
	paymentUUID = strings.ToUpper(strings.TrimSpace(paymentUUID))
	relatedUUID = strings.ToUpper(strings.TrimSpace(relatedUUID))
	if paymentUUID == "" || relatedUUID == "" {
		return nil, shared.NewDomainError("INVALID_UUID", "Payment and related document UUIDs are required")
	}
	if installment < 1 {
		return nil, shared.NewDomainError("INVALID_INSTALLMENT", "Installment number must be at least 1")
	}
	if amountPaid.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Paid amount cannot be negative")
	}
	if paymentDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_DATE", "Payment date is required")
	}

	return &PaymentComplement{
		ID:               uuid.New(),
		RequestID:        requestID,
		TaxpayerRFC:      taxpayerRFC,
		PaymentUUID:      paymentUUID,
		RelatedUUID:      relatedUUID,
		Installment:      installment,
		AmountPaid:       amountPaid,
		PriorBalance:     priorBalance,
		RemainingBalance: remainingBalance,
		PaymentDate:      paymentDate,
		CreatedAt:        time.Now(),
	}, nil
}

// DedupKey returns the natural uniqueness key for re-ingestion
func (p *PaymentComplement) DedupKey() string {
	return p.PaymentUUID + "|" + p.RelatedUUID + "|" + strconv.Itoa(p.Installment)
}
