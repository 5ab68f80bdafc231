package models

import (
	"time"

	"github.com/fiscaldesk/backend/internal/domain/download"
)

// BulkRequestModel is the persistence model for the BulkRequest aggregate.
// The caller-assigned ID is the primary key; the partial unique index on
// active requests backs the no-overlapping-window invariant at the
// database level (see migrations).
type BulkRequestModel struct {
	ID          string                 `gorm:"type:varchar(64);primary_key"`
	TaxpayerRFC string                 `gorm:"type:varchar(13);not null;index"`
	PeriodStart time.Time              `gorm:"not null"`
	PeriodEnd   time.Time              `gorm:"not null"`
	Kind        download.DocumentKind  `gorm:"type:varchar(10);not null"`
	Status      download.RequestStatus `gorm:"type:varchar(20);not null;index"`

	RemoteRequestID string `gorm:"type:varchar(100)"`
	RemoteStatus    string `gorm:"type:varchar(20)"`

	PackageIDs      download.StringList `gorm:"type:jsonb;default:'[]'"`
	FetchedPackages download.StringList `gorm:"type:jsonb;default:'[]'"`
	PackageCount    int                 `gorm:"not null;default:0"`
	DocumentCount   int                 `gorm:"not null;default:0"`

	Attempts    int    `gorm:"not null;default:0"`
	LastError   string `gorm:"type:text"`
	NextRetryAt *time.Time
	LockedUntil *time.Time

	CompletedAt  *time.Time
	FailedAt     *time.Time
	CanceledAt   *time.Time
	CancelReason string `gorm:"type:varchar(500)"`

	Version   int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BulkRequestModel) TableName() string {
	return "bulk_requests"
}

// ToDomain converts the persistence model to the domain aggregate.
func (m *BulkRequestModel) ToDomain() *download.BulkRequest {
	return &download.BulkRequest{
		ID:              m.ID,
		TaxpayerRFC:     m.TaxpayerRFC,
		PeriodStart:     m.PeriodStart,
		PeriodEnd:       m.PeriodEnd,
		Kind:            m.Kind,
		Status:          m.Status,
		RemoteRequestID: m.RemoteRequestID,
		RemoteStatus:    m.RemoteStatus,
		PackageIDs:      m.PackageIDs,
		FetchedPackages: m.FetchedPackages,
		PackageCount:    m.PackageCount,
		DocumentCount:   m.DocumentCount,
		Attempts:        m.Attempts,
		LastError:       m.LastError,
		NextRetryAt:     m.NextRetryAt,
		LockedUntil:     m.LockedUntil,
		CompletedAt:     m.CompletedAt,
		FailedAt:        m.FailedAt,
		CanceledAt:      m.CanceledAt,
		CancelReason:    m.CancelReason,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from the domain aggregate.
func (m *BulkRequestModel) FromDomain(r *download.BulkRequest) {
	m.ID = r.ID
	m.TaxpayerRFC = r.TaxpayerRFC
	m.PeriodStart = r.PeriodStart
	m.PeriodEnd = r.PeriodEnd
	m.Kind = r.Kind
	m.Status = r.Status
	m.RemoteRequestID = r.RemoteRequestID
	m.RemoteStatus = r.RemoteStatus
	m.PackageIDs = r.PackageIDs
	m.FetchedPackages = r.FetchedPackages
	m.PackageCount = r.PackageCount
	m.DocumentCount = r.DocumentCount
	m.Attempts = r.Attempts
	m.LastError = r.LastError
	m.NextRetryAt = r.NextRetryAt
	m.LockedUntil = r.LockedUntil
	m.CompletedAt = r.CompletedAt
	m.FailedAt = r.FailedAt
	m.CanceledAt = r.CanceledAt
	m.CancelReason = r.CancelReason
	m.Version = r.Version
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}
