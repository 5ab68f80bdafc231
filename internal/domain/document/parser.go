package document

import (
	"time"

	"github.com/fiscaldesk/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ErrMalformedDocument indicates bytes that cannot be parsed as a tax document
var ErrMalformedDocument = shared.NewDomainError("MALFORMED_DOCUMENT", "Document bytes could not be parsed")

// InvoiceFields are the normalized invoice attributes a parser extracts
type InvoiceFields struct {
	UUID        string
	IssuerRFC   string
	ReceiverRFC string
	IssuedAt    time.Time
	Method      SettlementMethod
	Subtotal    decimal.Decimal
	IVA         decimal.Decimal
	Total       decimal.Decimal
	Canceled    bool
}

// PaymentFields are the normalized attributes of one payment allocation
type PaymentFields struct {
	PaymentUUID      string
	RelatedUUID      string
	Installment      int
	AmountPaid       decimal.Decimal
	PriorBalance     decimal.Decimal
	RemainingBalance decimal.Decimal
	PaymentDate      time.Time
}

// ParsedDocument is the result of parsing one raw document. An invoice
// document yields Invoice; a pago complement yields Invoice (the tipo P
// wrapper) plus one Payments entry per allocation.
type ParsedDocument struct {
	Invoice  *InvoiceFields
	Payments []PaymentFields
}

// Parser turns raw document bytes into normalized fields. XML handling is an
// external collaborator; the core only sees this port. Implementations return
// ErrMalformedDocument (possibly wrapped) for undecodable input.
type Parser interface {
	Parse(data []byte) (ParsedDocument, error)
}
