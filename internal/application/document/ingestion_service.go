package document

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fiscaldesk/backend/internal/domain/document"
	"github.com/fiscaldesk/backend/internal/domain/download"
)

// IngestionService unpacks downloaded packages and lands their documents in
// the store. One package is a zip archive of XML entries; each entry is either
// an invoice or a payment complement carrying allocation rows.
type IngestionService struct {
	invoices document.InvoiceRepository
	payments document.PaymentComplementRepository
	parser   document.Parser
	logger   *zap.Logger
}

// NewIngestionService creates the package ingestion service
func NewIngestionService(
	invoices document.InvoiceRepository,
	payments document.PaymentComplementRepository,
	parser document.Parser,
	logger *zap.Logger,
) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{
		invoices: invoices,
		payments: payments,
		parser:   parser,
		logger:   logger,
	}
}

// IngestPackage parses every entry of a downloaded package and persists the
// result. Returns the number of documents ingested. Malformed entries inside
// an otherwise readable package are logged and skipped; a package that cannot
// be opened, or whose every entry is malformed, returns ErrMalformedDocument
// so the caller retries the package as a whole.
func (s *IngestionService) IngestPackage(ctx context.Context, request *download.BulkRequest, packageID string, data []byte) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("opening package %s: %w: %v", packageID, document.ErrMalformedDocument, err)
	}

	ingested := 0
	entries := 0
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !isDocumentEntry(file.Name) {
			continue
		}
		entries++

		raw, err := readEntry(file)
		if err != nil {
			s.logger.Warn("Skipping unreadable package entry",
				zap.String("request_id", request.ID),
				zap.String("package_id", packageID),
				zap.String("entry", file.Name),
				zap.Error(err),
			)
			continue
		}

		parsed, err := s.parser.Parse(raw)
		if err != nil {
			s.logger.Warn("Skipping malformed package entry",
				zap.String("request_id", request.ID),
				zap.String("package_id", packageID),
				zap.String("entry", file.Name),
				zap.Error(err),
			)
			continue
		}

		if err := s.persistParsed(ctx, request, parsed); err != nil {
			return ingested, fmt.Errorf("persisting entry %s of package %s: %w", file.Name, packageID, err)
		}
		ingested++
	}

	if entries > 0 && ingested == 0 {
		return 0, fmt.Errorf("package %s: all %d entries malformed: %w", packageID, entries, document.ErrMalformedDocument)
	}

	s.logger.Info("Package ingested",
		zap.String("request_id", request.ID),
		zap.String("package_id", packageID),
		zap.Int("documents", ingested),
		zap.Int("skipped", entries-ingested),
	)
	return ingested, nil
}

func (s *IngestionService) persistParsed(ctx context.Context, request *download.BulkRequest, parsed document.ParsedDocument) error {
	if parsed.Invoice != nil {
		inv, err := document.NewInvoice(
			parsed.Invoice.UUID,
			request.ID,
			request.TaxpayerRFC,
			request.Kind,
			parsed.Invoice.Method,
			parsed.Invoice.IssuerRFC,
			parsed.Invoice.ReceiverRFC,
			parsed.Invoice.IssuedAt,
			parsed.Invoice.Subtotal,
			parsed.Invoice.IVA,
			parsed.Invoice.Total,
		)
		if err != nil {
			return err
		}
		inv.Canceled = parsed.Invoice.Canceled
		// Re-ingestion of an overlapping range must converge, not duplicate
		if err := s.invoices.Upsert(ctx, inv); err != nil {
			return err
		}
	}

	for _, fields := range parsed.Payments {
		payment, err := document.NewPaymentComplement(
			request.ID,
			request.TaxpayerRFC,
			fields.PaymentUUID,
			fields.RelatedUUID,
			fields.Installment,
			fields.AmountPaid,
			fields.PriorBalance,
			fields.RemainingBalance,
			fields.PaymentDate,
		)
		if err != nil {
			return err
		}
		inserted, err := s.payments.InsertIfAbsent(ctx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.Debug("Payment allocation already ingested",
				zap.String("dedup_key", payment.DedupKey()),
			)
		}
	}
	return nil
}

func isDocumentEntry(name string) bool {
	return strings.EqualFold(path.Ext(name), ".xml")
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
