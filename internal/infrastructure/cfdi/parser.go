package cfdi

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscaldesk/backend/internal/domain/document"
)

// XMLParser decodes CFDI 4.0 comprobante XML into normalized document fields.
// It implements document.Parser. Namespace prefixes vary between issuers, so
// decoding matches on local element names only.
type XMLParser struct{}

var _ document.Parser = (*XMLParser)(nil)

// NewXMLParser creates the CFDI XML parser
func NewXMLParser() *XMLParser {
	return &XMLParser{}
}

// comprobante mirrors the subset of cfdi:Comprobante the dashboard needs
type comprobante struct {
	XMLName           xml.Name    `xml:"Comprobante"`
	Fecha             string      `xml:"Fecha,attr"`
	SubTotal          string      `xml:"SubTotal,attr"`
	Total             string      `xml:"Total,attr"`
	TipoDeComprobante string      `xml:"TipoDeComprobante,attr"`
	MetodoPago        string      `xml:"MetodoPago,attr"`
	Emisor            rfcHolder   `xml:"Emisor"`
	Receptor          rfcHolder   `xml:"Receptor"`
	Impuestos         impuestos   `xml:"Impuestos"`
	Complemento       complemento `xml:"Complemento"`
}

type rfcHolder struct {
	RFC string `xml:"Rfc,attr"`
}

type impuestos struct {
	TotalTrasladados string `xml:"TotalImpuestosTrasladados,attr"`
}

type complemento struct {
	Timbre timbre `xml:"TimbreFiscalDigital"`
	Pagos  pagos  `xml:"Pagos"`
}

type timbre struct {
	UUID string `xml:"UUID,attr"`
}

type pagos struct {
	Pagos []pago `xml:"Pago"`
}

type pago struct {
	FechaPago string        `xml:"FechaPago,attr"`
	Doctos    []doctoRelado `xml:"DoctoRelacionado"`
}

type doctoRelado struct {
	IDDocumento      string `xml:"IdDocumento,attr"`
	NumParcialidad   string `xml:"NumParcialidad,attr"`
	ImpSaldoAnt      string `xml:"ImpSaldoAnt,attr"`
	ImpPagado        string `xml:"ImpPagado,attr"`
	ImpSaldoInsoluto string `xml:"ImpSaldoInsoluto,attr"`
}

// Parse decodes one CFDI document. Tipo I and E comprobantes yield an invoice
// whose settlement method follows MetodoPago (PUE upfront, PPD installment);
// tipo P yields a complement invoice plus one payment row per allocation.
func (p *XMLParser) Parse(data []byte) (document.ParsedDocument, error) {
	var comp comprobante
	if err := xml.Unmarshal(data, &comp); err != nil {
		return document.ParsedDocument{}, fmt.Errorf("%w: %v", document.ErrMalformedDocument, err)
	}

	uuid := strings.ToUpper(strings.TrimSpace(comp.Complemento.Timbre.UUID))
	if uuid == "" {
		return document.ParsedDocument{}, fmt.Errorf("%w: missing fiscal folio", document.ErrMalformedDocument)
	}

	issuedAt, err := parseCFDITime(comp.Fecha)
	if err != nil {
		return document.ParsedDocument{}, fmt.Errorf("%w: issue date %q", document.ErrMalformedDocument, comp.Fecha)
	}

	tipo := strings.ToUpper(strings.TrimSpace(comp.TipoDeComprobante))
	method, err := settlementMethod(tipo, comp.MetodoPago)
	if err != nil {
		return document.ParsedDocument{}, err
	}

	subtotal, err := parseAmount(comp.SubTotal)
	if err != nil {
		return document.ParsedDocument{}, fmt.Errorf("%w: subtotal %q", document.ErrMalformedDocument, comp.SubTotal)
	}
	total, err := parseAmount(comp.Total)
	if err != nil {
		return document.ParsedDocument{}, fmt.Errorf("%w: total %q", document.ErrMalformedDocument, comp.Total)
	}
	iva, err := parseAmount(comp.Impuestos.TotalTrasladados)
	if err != nil {
		return document.ParsedDocument{}, fmt.Errorf("%w: transferred tax %q", document.ErrMalformedDocument, comp.Impuestos.TotalTrasladados)
	}

	parsed := document.ParsedDocument{
		Invoice: &document.InvoiceFields{
			UUID:        uuid,
			IssuerRFC:   strings.ToUpper(strings.TrimSpace(comp.Emisor.RFC)),
			ReceiverRFC: strings.ToUpper(strings.TrimSpace(comp.Receptor.RFC)),
			IssuedAt:    issuedAt,
			Method:      method,
			Subtotal:    subtotal,
			IVA:         iva,
			Total:       total,
		},
	}

	if method == document.MethodComplement {
		payments, err := extractPayments(comp.Complemento.Pagos, uuid)
		if err != nil {
			return document.ParsedDocument{}, err
		}
		parsed.Payments = payments
	}

	return parsed, nil
}

func settlementMethod(tipo, metodoPago string) (document.SettlementMethod, error) {
	switch tipo {
	case "P":
		return document.MethodComplement, nil
	case "I", "E":
		switch strings.ToUpper(strings.TrimSpace(metodoPago)) {
		case "PPD":
			return document.MethodInstallment, nil
		case "PUE", "":
			// MetodoPago is optional on some vouchers; single settlement is
			// the authority's stated default
			return document.MethodUpfront, nil
		default:
			return "", fmt.Errorf("%w: payment method %q", document.ErrMalformedDocument, metodoPago)
		}
	default:
		return "", fmt.Errorf("%w: voucher type %q", document.ErrMalformedDocument, tipo)
	}
}

func extractPayments(p pagos, paymentUUID string) ([]document.PaymentFields, error) {
	var out []document.PaymentFields
	for _, pago := range p.Pagos {
		paidAt, err := parseCFDITime(pago.FechaPago)
		if err != nil {
			return nil, fmt.Errorf("%w: payment date %q", document.ErrMalformedDocument, pago.FechaPago)
		}
		for _, docto := range pago.Doctos {
			relatedUUID := strings.ToUpper(strings.TrimSpace(docto.IDDocumento))
			if relatedUUID == "" {
				return nil, fmt.Errorf("%w: allocation missing related document", document.ErrMalformedDocument)
			}
			installment := 1
			if s := strings.TrimSpace(docto.NumParcialidad); s != "" {
				if _, err := fmt.Sscanf(s, "%d", &installment); err != nil || installment < 1 {
					return nil, fmt.Errorf("%w: installment number %q", document.ErrMalformedDocument, s)
				}
			}
			paid, err := parseAmount(docto.ImpPagado)
			if err != nil {
				return nil, fmt.Errorf("%w: amount paid %q", document.ErrMalformedDocument, docto.ImpPagado)
			}
			prior, err := parseAmount(docto.ImpSaldoAnt)
			if err != nil {
				return nil, fmt.Errorf("%w: prior balance %q", document.ErrMalformedDocument, docto.ImpSaldoAnt)
			}
			remaining, err := parseAmount(docto.ImpSaldoInsoluto)
			if err != nil {
				return nil, fmt.Errorf("%w: remaining balance %q", document.ErrMalformedDocument, docto.ImpSaldoInsoluto)
			}
			out = append(out, document.PaymentFields{
				PaymentUUID:      paymentUUID,
				RelatedUUID:      relatedUUID,
				Installment:      installment,
				AmountPaid:       paid,
				PriorBalance:     prior,
				RemainingBalance: remaining,
				PaymentDate:      paidAt,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: pago complement carries no allocations", document.ErrMalformedDocument)
	}
	return out, nil
}

// parseCFDITime accepts the ISO form CFDI uses (no zone designator) and the
// RFC3339 form some PAC stampings emit
func parseCFDITime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseAmount treats an absent attribute as zero; negative amounts are
// rejected upstream by the domain constructors
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
