package document

import (
	"context"
	"time"

	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/shopspring/decimal"
)

// InvoiceRepository persists ingested invoices
type InvoiceRepository interface {
	// Upsert inserts the invoice or, when the UUID already exists, refreshes
	// its mutable attributes (owning request, canceled flag, amounts)
	Upsert(ctx context.Context, invoice *Invoice) error
	// FindByUUID returns the invoice or shared.ErrNotFound
	FindByUUID(ctx context.Context, uuid string) (*Invoice, error)
	// FindForPeriod returns one direction's invoices issued inside
	// [start, end] for the taxpayer, every settlement method included
	FindForPeriod(ctx context.Context, taxpayerRFC string, direction download.DocumentKind, start, end time.Time) ([]Invoice, error)
	// CountByRequest counts invoices owned by a bulk request
	CountByRequest(ctx context.Context, requestID string) (int64, error)
}

// Snapshot runs fn against a single consistent read view of the document
// store, so invoices and their payment trail describe the same moment even
// while a package is being ingested.
type Snapshot interface {
	View(ctx context.Context, fn func(invoices InvoiceRepository, payments PaymentComplementRepository) error) error
}

// PaymentComplementRepository persists payment allocations
type PaymentComplementRepository interface {
	// InsertIfAbsent stores the allocation unless its dedup key
	// (payment uuid, related uuid, installment) already exists.
	// Returns true when a row was inserted.
	InsertIfAbsent(ctx context.Context, payment *PaymentComplement) (bool, error)
	// SumPaidByInvoice returns, for each related invoice UUID, the total amount
	// paid on or before cutoff
	SumPaidByInvoice(ctx context.Context, relatedUUIDs []string, cutoff time.Time) (map[string]decimal.Decimal, error)
	// FindByRelated returns all allocations against one invoice, oldest first
	FindByRelated(ctx context.Context, relatedUUID string) ([]PaymentComplement, error)
}
