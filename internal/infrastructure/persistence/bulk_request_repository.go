package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/domain/shared"
	"github.com/fiscaldesk/backend/internal/infrastructure/persistence/models"
)

// GormBulkRequestRepository implements BulkRequestRepository using GORM
type GormBulkRequestRepository struct {
	db *gorm.DB
}

// NewGormBulkRequestRepository creates a new GormBulkRequestRepository
func NewGormBulkRequestRepository(db *gorm.DB) *GormBulkRequestRepository {
	return &GormBulkRequestRepository{db: db}
}

var _ download.BulkRequestRepository = (*GormBulkRequestRepository)(nil)

// Save creates or unconditionally updates a request. A violation of the
// active-window unique index surfaces as shared.ErrAlreadyExists; a violation
// of the active-overlap exclusion constraint surfaces as
// download.ErrDuplicateActiveRequest.
func (r *GormBulkRequestRepository) Save(ctx context.Context, request *download.BulkRequest) error {
	var model models.BulkRequestModel
	model.FromDomain(request)

	err := r.db.WithContext(ctx).Save(&model).Error
	switch {
	case err == nil:
		return nil
	case isExclusionViolation(err):
		return download.ErrDuplicateActiveRequest
	case isUniqueViolation(err):
		return shared.ErrAlreadyExists
	}
	return err
}

// SaveIfStatus persists the request only when its stored status still equals
// expected. Zero rows affected means another writer moved the request first.
func (r *GormBulkRequestRepository) SaveIfStatus(ctx context.Context, request *download.BulkRequest, expected download.RequestStatus) error {
	var model models.BulkRequestModel
	model.FromDomain(request)

	result := r.db.WithContext(ctx).
		Model(&models.BulkRequestModel{}).
		Where("id = ? AND status = ?", request.ID, expected).
		Select("*").Omit("id", "created_at").
		Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Row gone or status moved underneath us
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.BulkRequestModel{}).
			Where("id = ?", request.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByID finds a request by its caller-assigned ID
func (r *GormBulkRequestRepository) FindByID(ctx context.Context, id string) (*download.BulkRequest, error) {
	var model models.BulkRequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ClaimDue atomically selects up to limit due requests, oldest first, and
// leases them until now+lease. SKIP LOCKED keeps two concurrent claimers from
// blocking on or double-claiming the same rows.
func (r *GormBulkRequestRepository) ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*download.BulkRequest, error) {
	var claimed []*download.BulkRequest

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.BulkRequestModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ?", []download.RequestStatus{
				download.StatusCreated, download.StatusPolling, download.StatusDownloading,
			}).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until <= ?)", now).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		deadline := now.Add(lease)
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		if err := tx.Model(&models.BulkRequestModel{}).
			Where("id IN ?", ids).
			Update("locked_until", deadline).Error; err != nil {
			return err
		}

		claimed = make([]*download.BulkRequest, len(rows))
		for i := range rows {
			rows[i].LockedUntil = &deadline
			claimed[i] = rows[i].ToDomain()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseLease clears the advancement lease on a request
func (r *GormBulkRequestRepository) ReleaseLease(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.BulkRequestModel{}).
		Where("id = ?", id).
		Update("locked_until", nil).Error
}

// HasActiveOverlapping reports whether a non-terminal request of the same
// taxpayer and kind covers any day of [start, end]
func (r *GormBulkRequestRepository) HasActiveOverlapping(ctx context.Context, taxpayerRFC string, kind download.DocumentKind, start, end time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BulkRequestModel{}).
		Where("taxpayer_rfc = ? AND kind = ?", taxpayerRFC, kind).
		Where("status IN ?", []download.RequestStatus{
			download.StatusCreated, download.StatusPolling, download.StatusDownloading,
		}).
		Where("period_start <= ? AND period_end >= ?", end, start).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindAll returns requests matching the filter with total count
func (r *GormBulkRequestRepository) FindAll(ctx context.Context, filter download.RequestFilter) ([]download.BulkRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.BulkRequestModel{})
	if filter.TaxpayerRFC != nil {
		query = query.Where("taxpayer_rfc = ?", *filter.TaxpayerRFC)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var rows []models.BulkRequestModel
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	requests := make([]download.BulkRequest, len(rows))
	for i := range rows {
		requests[i] = *rows[i].ToDomain()
	}
	return requests, total, nil
}

// Delete removes a request by ID
func (r *GormBulkRequestRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.BulkRequestModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// isUniqueViolation detects postgres unique constraint errors without
// importing the driver error types into every call site
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key")
}

// isExclusionViolation detects the postgres exclusion constraint that guards
// overlapping active windows
func isExclusionViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23P01") || strings.Contains(msg, "exclusion constraint")
}
