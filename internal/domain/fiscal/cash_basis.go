package fiscal

import (
	"time"

	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/shopspring/decimal"
)

// BucketTotals carries one bucket's subtotal, tax and grand total
type BucketTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	IVA      decimal.Decimal `json:"iva"`
	Total    decimal.Decimal `json:"total"`
}

// ZeroBucket returns an explicitly zeroed bucket
func ZeroBucket() BucketTotals {
	return BucketTotals{Subtotal: decimal.Zero, IVA: decimal.Zero, Total: decimal.Zero}
}

// Add returns the sum of both buckets
func (b BucketTotals) Add(other BucketTotals) BucketTotals {
	return BucketTotals{
		Subtotal: b.Subtotal.Add(other.Subtotal),
		IVA:      b.IVA.Add(other.IVA),
		Total:    b.Total.Add(other.Total),
	}
}

// Round returns the bucket rounded to 2 decimal places for presentation
func (b BucketTotals) Round() BucketTotals {
	return BucketTotals{
		Subtotal: b.Subtotal.Round(2),
		IVA:      b.IVA.Round(2),
		Total:    b.Total.Round(2),
	}
}

// DirectionTotals is the cash-basis breakdown for one flow direction
type DirectionTotals struct {
	Direction download.DocumentKind `json:"direction"`

	// Per settlement-method buckets
	Upfront              BucketTotals `json:"upfront"`
	InstallmentEffective BucketTotals `json:"installment_effective"`
	InstallmentPending   BucketTotals `json:"installment_pending"`
	Complement           BucketTotals `json:"complement"`

	// Rollups
	Effective BucketTotals `json:"effective"` // upfront + installment effective + complement
	Pending   BucketTotals `json:"pending"`   // installment pending

	InvoiceCount int `json:"invoice_count"`
}

// CashBasisReport is the period report for provisional tax estimation. The net
// IVA differential is an estimate for planning, not a legal filing.
type CashBasisReport struct {
	TaxpayerRFC string    `json:"taxpayer_rfc"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Cutoff      time.Time `json:"cutoff"`

	Received DirectionTotals `json:"received"`
	Issued   DirectionTotals `json:"issued"`

	NetOperativeBalance decimal.Decimal `json:"net_operative_balance"` // received effective total - issued effective total
	NetIVA              decimal.Decimal `json:"net_iva"`               // IVA collected minus IVA paid, by cutoff
}
