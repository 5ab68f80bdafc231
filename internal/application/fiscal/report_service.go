package fiscal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fiscaldesk/backend/internal/domain/document"
	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/domain/fiscal"
	"github.com/fiscaldesk/backend/internal/domain/shared"
)

// ReportQuery selects the period and payment cutoff of one report run
type ReportQuery struct {
	TaxpayerRFC string
	PeriodStart time.Time
	PeriodEnd   time.Time
	// Cutoff bounds which payments count as received; zero means end of period
	Cutoff time.Time
}

// Validate validates the query
func (q *ReportQuery) Validate() error {
	if len(q.TaxpayerRFC) < 12 || len(q.TaxpayerRFC) > 13 {
		return shared.NewDomainError("INVALID_TAXPAYER_RFC", fmt.Sprintf("RFC must be 12 or 13 characters, got %q", q.TaxpayerRFC))
	}
	if q.PeriodStart.IsZero() || q.PeriodEnd.IsZero() {
		return shared.NewDomainError("INVALID_PERIOD", "Period bounds cannot be zero")
	}
	if q.PeriodEnd.Before(q.PeriodStart) {
		return shared.NewDomainError("INVALID_PERIOD", "Period end cannot precede period start")
	}
	return nil
}

// ReportService assembles cash-basis reports from ingested documents. All
// reads of one run happen inside a single document-store snapshot and the
// allocation arithmetic is delegated to the reconciliation engine.
type ReportService struct {
	documents document.Snapshot
	engine    *fiscal.Engine
	logger    *zap.Logger
}

// NewReportService creates the cash-basis report service
func NewReportService(
	documents document.Snapshot,
	engine *fiscal.Engine,
	logger *zap.Logger,
) *ReportService {
	if engine == nil {
		engine = fiscal.NewDefaultEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		documents: documents,
		engine:    engine,
		logger:    logger,
	}
}

// Compute builds the cash-basis report for one taxpayer and period. Both
// directions are computed against the same cutoff so received and issued
// figures describe the same point in time.
func (s *ReportService) Compute(ctx context.Context, query ReportQuery) (*fiscal.CashBasisReport, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	cutoff := query.Cutoff
	if cutoff.IsZero() {
		cutoff = query.PeriodEnd
	}

	// Both directions read the same snapshot: a package ingested mid-report
	// is either fully visible or not at all.
	var received, issued fiscal.DirectionTotals
	err := s.documents.View(ctx, func(invoices document.InvoiceRepository, payments document.PaymentComplementRepository) error {
		var err error
		if received, err = s.computeDirection(ctx, invoices, payments, query, download.KindReceived, cutoff); err != nil {
			return err
		}
		issued, err = s.computeDirection(ctx, invoices, payments, query, download.KindIssued, cutoff)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := s.engine.BuildReport(query.TaxpayerRFC, query.PeriodStart, query.PeriodEnd, cutoff, received, issued)

	s.logger.Info("Cash-basis report computed",
		zap.String("taxpayer_rfc", query.TaxpayerRFC),
		zap.Time("period_start", query.PeriodStart),
		zap.Time("period_end", query.PeriodEnd),
		zap.Time("cutoff", cutoff),
		zap.Int("received_invoices", received.InvoiceCount),
		zap.Int("issued_invoices", issued.InvoiceCount),
	)
	return fiscal.RoundForPresentation(report), nil
}

func (s *ReportService) computeDirection(ctx context.Context,
	invoiceRepo document.InvoiceRepository, paymentRepo document.PaymentComplementRepository,
	query ReportQuery, direction download.DocumentKind, cutoff time.Time) (fiscal.DirectionTotals, error) {

	invoices, err := invoiceRepo.FindForPeriod(ctx, query.TaxpayerRFC, direction, query.PeriodStart, query.PeriodEnd)
	if err != nil {
		return fiscal.DirectionTotals{}, fmt.Errorf("loading %s invoices: %w", direction, err)
	}

	// Only installment invoices need their payment trail
	var installmentUUIDs []string
	for _, inv := range invoices {
		if inv.Method == document.MethodInstallment && !inv.Canceled {
			installmentUUIDs = append(installmentUUIDs, inv.UUID)
		}
	}

	sums, err := paymentRepo.SumPaidByInvoice(ctx, installmentUUIDs, cutoff)
	if err != nil {
		return fiscal.DirectionTotals{}, fmt.Errorf("loading payment allocations: %w", err)
	}

	return s.engine.ComputeDirection(direction, invoices, sums, cutoff), nil
}
