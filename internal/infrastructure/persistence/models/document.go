package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiscaldesk/backend/internal/domain/document"
	"github.com/fiscaldesk/backend/internal/domain/download"
)

// InvoiceModel is the persistence model for ingested invoices. The fiscal
// folio is the primary key so re-ingestion from overlapping ranges upserts.
type InvoiceModel struct {
	UUID        string                    `gorm:"type:varchar(36);primary_key"`
	RequestID   string                    `gorm:"type:varchar(64);not null;index"`
	TaxpayerRFC string                    `gorm:"type:varchar(13);not null;index:idx_invoices_period,priority:1"`
	Direction   download.DocumentKind     `gorm:"type:varchar(10);not null;index:idx_invoices_period,priority:2"`
	IssuerRFC   string                    `gorm:"type:varchar(13);not null"`
	ReceiverRFC string                    `gorm:"type:varchar(13);not null"`
	IssuedAt    time.Time                 `gorm:"not null;index:idx_invoices_period,priority:3"`
	Method      document.SettlementMethod `gorm:"type:varchar(15);not null"`
	Subtotal    decimal.Decimal           `gorm:"type:decimal(18,6);not null"`
	IVA         decimal.Decimal           `gorm:"type:decimal(18,6);not null"`
	Total       decimal.Decimal           `gorm:"type:decimal(18,6);not null"`
	Canceled    bool                      `gorm:"not null;default:false"`
	CreatedAt   time.Time                 `gorm:"not null"`
	UpdatedAt   time.Time                 `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice.
func (m *InvoiceModel) ToDomain() *document.Invoice {
	return &document.Invoice{
		UUID:        m.UUID,
		RequestID:   m.RequestID,
		TaxpayerRFC: m.TaxpayerRFC,
		Direction:   m.Direction,
		IssuerRFC:   m.IssuerRFC,
		ReceiverRFC: m.ReceiverRFC,
		IssuedAt:    m.IssuedAt,
		Method:      m.Method,
		Subtotal:    m.Subtotal,
		IVA:         m.IVA,
		Total:       m.Total,
		Canceled:    m.Canceled,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Invoice.
func (m *InvoiceModel) FromDomain(inv *document.Invoice) {
	m.UUID = inv.UUID
	m.RequestID = inv.RequestID
	m.TaxpayerRFC = inv.TaxpayerRFC
	m.Direction = inv.Direction
	m.IssuerRFC = inv.IssuerRFC
	m.ReceiverRFC = inv.ReceiverRFC
	m.IssuedAt = inv.IssuedAt
	m.Method = inv.Method
	m.Subtotal = inv.Subtotal
	m.IVA = inv.IVA
	m.Total = inv.Total
	m.Canceled = inv.Canceled
	m.CreatedAt = inv.CreatedAt
	m.UpdatedAt = inv.UpdatedAt
}

// PaymentComplementModel is the persistence model for payment allocations.
// The unique index on (payment_uuid, related_uuid, installment) is the dedup
// key insert-if-absent relies on.
type PaymentComplementModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	RequestID   string    `gorm:"type:varchar(64);not null;index"`
	TaxpayerRFC string    `gorm:"type:varchar(13);not null;index"`

	PaymentUUID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_payment_dedup,priority:1"`
	RelatedUUID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_payment_dedup,priority:2;index"`
	Installment int    `gorm:"not null;uniqueIndex:idx_payment_dedup,priority:3"`

	AmountPaid       decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	PriorBalance     decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	RemainingBalance decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	PaymentDate      time.Time       `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentComplementModel) TableName() string {
	return "payment_complements"
}

// ToDomain converts the persistence model to a domain PaymentComplement.
func (m *PaymentComplementModel) ToDomain() *document.PaymentComplement {
	return &document.PaymentComplement{
		ID:               m.ID,
		RequestID:        m.RequestID,
		TaxpayerRFC:      m.TaxpayerRFC,
		PaymentUUID:      m.PaymentUUID,
		RelatedUUID:      m.RelatedUUID,
		Installment:      m.Installment,
		AmountPaid:       m.AmountPaid,
		PriorBalance:     m.PriorBalance,
		RemainingBalance: m.RemainingBalance,
		PaymentDate:      m.PaymentDate,
		CreatedAt:        m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain PaymentComplement.
func (m *PaymentComplementModel) FromDomain(p *document.PaymentComplement) {
	m.ID = p.ID
	m.RequestID = p.RequestID
	m.TaxpayerRFC = p.TaxpayerRFC
	m.PaymentUUID = p.PaymentUUID
	m.RelatedUUID = p.RelatedUUID
	m.Installment = p.Installment
	m.AmountPaid = p.AmountPaid
	m.PriorBalance = p.PriorBalance
	m.RemainingBalance = p.RemainingBalance
	m.PaymentDate = p.PaymentDate
	m.CreatedAt = p.CreatedAt
}
