package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fiscaldesk/backend/internal/domain/document"
	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/domain/shared"
	"github.com/fiscaldesk/backend/internal/infrastructure/persistence/models"
)

// GormInvoiceRepository implements InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

var _ document.InvoiceRepository = (*GormInvoiceRepository)(nil)

// Upsert inserts the invoice or refreshes its mutable attributes when the
// fiscal folio already exists, so overlapping downloads converge.
func (r *GormInvoiceRepository) Upsert(ctx context.Context, invoice *document.Invoice) error {
	var model models.InvoiceModel
	model.FromDomain(invoice)

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"request_id", "method", "subtotal", "iva", "total", "canceled", "updated_at",
			}),
		}).
		Create(&model).Error
}

// FindByUUID finds an invoice by its fiscal folio
func (r *GormInvoiceRepository) FindByUUID(ctx context.Context, uuid string) (*document.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).First(&model, "uuid = ?", uuid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindForPeriod returns one direction's invoices issued inside [start, end]
// for the taxpayer. Complement-method rows ride along: the reconciliation
// engine buckets them as direct payment events.
func (r *GormInvoiceRepository) FindForPeriod(ctx context.Context, taxpayerRFC string, direction download.DocumentKind, start, end time.Time) ([]document.Invoice, error) {
	var rows []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("taxpayer_rfc = ? AND direction = ?", taxpayerRFC, direction).
		Where("issued_at >= ? AND issued_at <= ?", start, end).
		Order("issued_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	invoices := make([]document.Invoice, len(rows))
	for i := range rows {
		invoices[i] = *rows[i].ToDomain()
	}
	return invoices, nil
}

// CountByRequest counts invoices owned by a bulk request
func (r *GormInvoiceRepository) CountByRequest(ctx context.Context, requestID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("request_id = ?", requestID).
		Count(&count).Error
	return count, err
}
