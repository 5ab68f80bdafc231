package fiscal

import (
	"time"

	"github.com/fiscaldesk/backend/internal/domain/document"
	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the rounding tolerance below which an installment balance
// counts as fully settled: 0.05 currency units guards against float noise in
// upstream payment records without hiding a real missing payment.
var DefaultEpsilon = decimal.NewFromFloat(0.05)

// Engine computes cash-basis period totals. It is pure: callers load a
// consistent snapshot of invoices and paid-by-cutoff sums and the engine only
// does arithmetic, so the allocation policy is testable without a database.
type Engine struct {
	epsilon decimal.Decimal
}

// NewEngine creates a reconciliation engine with the given settlement tolerance
func NewEngine(epsilon decimal.Decimal) *Engine {
	if epsilon.IsNegative() {
		epsilon = DefaultEpsilon
	}
	return &Engine{epsilon: epsilon}
}

// NewDefaultEngine creates an engine with the default tolerance
func NewDefaultEngine() *Engine {
	return &Engine{epsilon: DefaultEpsilon}
}

// ComputeDirection buckets one direction's invoices.
//
// Installment invoices allocate partial payments pro-rata: a payment is assumed
// to pay down subtotal and IVA proportionally, not principal-first or
// tax-first. ratio = outstanding balance / total; the pending contribution is
// base * ratio and the effective contribution is the exact complement
// (base - pending), so pending + effective always reproduces the original base.
func (e *Engine) ComputeDirection(direction download.DocumentKind, invoices []document.Invoice,
	paidByInvoice map[string]decimal.Decimal, cutoff time.Time) DirectionTotals {

	totals := DirectionTotals{
		Direction:            direction,
		Upfront:              ZeroBucket(),
		InstallmentEffective: ZeroBucket(),
		InstallmentPending:   ZeroBucket(),
		Complement:           ZeroBucket(),
		Effective:            ZeroBucket(),
		Pending:              ZeroBucket(),
	}

	for i := range invoices {
		inv := &invoices[i]
		if inv.Canceled || inv.Direction != direction {
			continue
		}
		totals.InvoiceCount++

		base := BucketTotals{Subtotal: inv.Subtotal, IVA: inv.IVA, Total: inv.Total}

		switch inv.Method {
		case document.MethodUpfront:
			// Paid in full at issuance: effective immediately.
			totals.Upfront = totals.Upfront.Add(base)

		case document.MethodComplement:
			// Itself a payment event, not an invoice awaiting payment.
			totals.Complement = totals.Complement.Add(base)

		case document.MethodInstallment:
			paid := paidByInvoice[inv.UUID]
			balance := inv.Total.Sub(paid)
			if balance.IsNegative() {
				balance = decimal.Zero
			}
			if balance.LessThanOrEqual(e.epsilon) {
				totals.InstallmentEffective = totals.InstallmentEffective.Add(base)
				break
			}

			ratio := decimal.Zero
			if !inv.Total.IsZero() {
				// Full division precision here; rounding happens only at
				// presentation so many small installments don't compound error.
				ratio = balance.Div(inv.Total)
			}
			pending := BucketTotals{
				Subtotal: inv.Subtotal.Mul(ratio),
				IVA:      inv.IVA.Mul(ratio),
				Total:    balance,
			}
			effective := BucketTotals{
				Subtotal: inv.Subtotal.Sub(pending.Subtotal),
				IVA:      inv.IVA.Sub(pending.IVA),
				Total:    inv.Total.Sub(balance),
			}
			totals.InstallmentPending = totals.InstallmentPending.Add(pending)
			totals.InstallmentEffective = totals.InstallmentEffective.Add(effective)
		}
	}

	totals.Effective = totals.Upfront.Add(totals.InstallmentEffective).Add(totals.Complement)
	totals.Pending = totals.InstallmentPending
	return totals
}

// BuildReport assembles the two-direction report with net figures
func (e *Engine) BuildReport(taxpayerRFC string, periodStart, periodEnd, cutoff time.Time,
	received, issued DirectionTotals) *CashBasisReport {
	return &CashBasisReport{
		TaxpayerRFC:         taxpayerRFC,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Cutoff:              cutoff,
		Received:            received,
		Issued:              issued,
		NetOperativeBalance: received.Effective.Total.Sub(issued.Effective.Total),
		NetIVA:              received.Effective.IVA.Sub(issued.Effective.IVA),
	}
}

// RoundForPresentation rounds every bucket in the report to 2 decimal places
func RoundForPresentation(r *CashBasisReport) *CashBasisReport {
	out := *r
	out.Received = roundDirection(r.Received)
	out.Issued = roundDirection(r.Issued)
	out.NetOperativeBalance = r.NetOperativeBalance.Round(2)
	out.NetIVA = r.NetIVA.Round(2)
	return &out
}

func roundDirection(d DirectionTotals) DirectionTotals {
	d.Upfront = d.Upfront.Round()
	d.InstallmentEffective = d.InstallmentEffective.Round()
	d.InstallmentPending = d.InstallmentPending.Round()
	d.Complement = d.Complement.Round()
	d.Effective = d.Effective.Round()
	d.Pending = d.Pending.Round()
	return d
}
