package persistence

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/fiscaldesk/backend/internal/domain/document"
)

// GormDocumentSnapshot implements document.Snapshot with one read-only
// transaction, so reports see invoices and payment allocations from the same
// point in time even while ingestion is writing.
type GormDocumentSnapshot struct {
	db *gorm.DB
}

// NewGormDocumentSnapshot creates a new GormDocumentSnapshot
func NewGormDocumentSnapshot(db *gorm.DB) *GormDocumentSnapshot {
	return &GormDocumentSnapshot{db: db}
}

var _ document.Snapshot = (*GormDocumentSnapshot)(nil)

// View runs fn against repositories bound to a single read transaction
func (s *GormDocumentSnapshot) View(ctx context.Context, fn func(invoices document.InvoiceRepository, payments document.PaymentComplementRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormInvoiceRepository(tx), NewGormPaymentComplementRepository(tx))
	}, &sql.TxOptions{ReadOnly: true})
}
