package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fiscaldesk/backend/internal/domain/document"
	"github.com/fiscaldesk/backend/internal/infrastructure/persistence/models"
)

// GormPaymentComplementRepository implements PaymentComplementRepository using GORM
type GormPaymentComplementRepository struct {
	db *gorm.DB
}

// NewGormPaymentComplementRepository creates a new GormPaymentComplementRepository
func NewGormPaymentComplementRepository(db *gorm.DB) *GormPaymentComplementRepository {
	return &GormPaymentComplementRepository{db: db}
}

var _ document.PaymentComplementRepository = (*GormPaymentComplementRepository)(nil)

// InsertIfAbsent stores the allocation unless its dedup key already exists.
// ON CONFLICT DO NOTHING makes re-ingestion a no-op; RowsAffected tells the
// caller whether a row actually landed.
func (r *GormPaymentComplementRepository) InsertIfAbsent(ctx context.Context, payment *document.PaymentComplement) (bool, error) {
	var model models.PaymentComplementModel
	model.FromDomain(payment)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "payment_uuid"}, {Name: "related_uuid"}, {Name: "installment"},
			},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SumPaidByInvoice returns, for each related invoice UUID, the total amount
// paid on or before cutoff
func (r *GormPaymentComplementRepository) SumPaidByInvoice(ctx context.Context, relatedUUIDs []string, cutoff time.Time) (map[string]decimal.Decimal, error) {
	sums := make(map[string]decimal.Decimal, len(relatedUUIDs))
	if len(relatedUUIDs) == 0 {
		return sums, nil
	}

	var rows []struct {
		RelatedUUID string
		Paid        decimal.Decimal
	}
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentComplementModel{}).
		Select("related_uuid, SUM(amount_paid) AS paid").
		Where("related_uuid IN ?", relatedUUIDs).
		Where("payment_date <= ?", cutoff).
		Group("related_uuid").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		sums[row.RelatedUUID] = row.Paid
	}
	return sums, nil
}

// FindByRelated returns all allocations against one invoice, oldest first
func (r *GormPaymentComplementRepository) FindByRelated(ctx context.Context, relatedUUID string) ([]document.PaymentComplement, error) {
	var rows []models.PaymentComplementModel
	if err := r.db.WithContext(ctx).
		Where("related_uuid = ?", relatedUUID).
		Order("payment_date ASC, installment ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	payments := make([]document.PaymentComplement, len(rows))
	for i := range rows {
		payments[i] = *rows[i].ToDomain()
	}
	return payments, nil
}
