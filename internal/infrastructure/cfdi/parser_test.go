package cfdi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscaldesk/backend/internal/domain/document"
)

const incomeInvoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0"
  Fecha="2026-01-15T10:30:00" SubTotal="1000.00" Total="1160.00"
  TipoDeComprobante="I" MetodoPago="PPD">
  <cfdi:Emisor Rfc="AAA010101AAA" Nombre="Proveedor SA"/>
  <cfdi:Receptor Rfc="XAXX010101000" Nombre="Cliente SA"/>
  <cfdi:Impuestos TotalImpuestosTrasladados="160.00"/>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital"
      UUID="aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"/>
  </cfdi:Complemento>
</cfdi:Comprobante>`

const paymentComplementXML = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0"
  Fecha="2026-02-01T09:00:00" SubTotal="0" Total="0" TipoDeComprobante="P">
  <cfdi:Emisor Rfc="XAXX010101000"/>
  <cfdi:Receptor Rfc="AAA010101AAA"/>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital"
      UUID="11111111-2222-3333-4444-555555555555"/>
    <pago20:Pagos xmlns:pago20="http://www.sat.gob.mx/Pagos20" Version="2.0">
      <pago20:Pago FechaPago="2026-02-01T08:00:00" Monto="580.00">
        <pago20:DoctoRelacionado IdDocumento="aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
          NumParcialidad="1" ImpSaldoAnt="1160.00" ImpPagado="580.00" ImpSaldoInsoluto="580.00"/>
      </pago20:Pago>
    </pago20:Pagos>
  </cfdi:Complemento>
</cfdi:Comprobante>`

func TestXMLParser_ParseInvoice(t *testing.T) {
	parser := NewXMLParser()

	parsed, err := parser.Parse([]byte(incomeInvoiceXML))
	require.NoError(t, err)
	require.NotNil(t, parsed.Invoice)

	inv := parsed.Invoice
	assert.Equal(t, "AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE", inv.UUID)
	assert.Equal(t, "AAA010101AAA", inv.IssuerRFC)
	assert.Equal(t, "XAXX010101000", inv.ReceiverRFC)
	assert.Equal(t, document.MethodInstallment, inv.Method)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), inv.IssuedAt)
	assert.Equal(t, "1000", inv.Subtotal.String())
	assert.Equal(t, "160", inv.IVA.String())
	assert.Equal(t, "1160", inv.Total.String())
	assert.Empty(t, parsed.Payments)
}

func TestXMLParser_ParsePaymentComplement(t *testing.T) {
	parser := NewXMLParser()

	parsed, err := parser.Parse([]byte(paymentComplementXML))
	require.NoError(t, err)
	require.NotNil(t, parsed.Invoice)
	assert.Equal(t, document.MethodComplement, parsed.Invoice.Method)

	require.Len(t, parsed.Payments, 1)
	payment := parsed.Payments[0]
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", payment.PaymentUUID)
	assert.Equal(t, "AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE", payment.RelatedUUID)
	assert.Equal(t, 1, payment.Installment)
	assert.Equal(t, "580", payment.AmountPaid.String())
	assert.Equal(t, "1160", payment.PriorBalance.String())
	assert.Equal(t, "580", payment.RemainingBalance.String())
	assert.Equal(t, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), payment.PaymentDate)
}

func TestXMLParser_SettlementMethodMapping(t *testing.T) {
	tests := []struct {
		name       string
		tipo       string
		metodoPago string
		want       document.SettlementMethod
		wantErr    bool
	}{
		{name: "PUE income maps to upfront", tipo: "I", metodoPago: "PUE", want: document.MethodUpfront},
		{name: "PPD income maps to installment", tipo: "I", metodoPago: "PPD", want: document.MethodInstallment},
		{name: "missing method defaults to upfront", tipo: "E", metodoPago: "", want: document.MethodUpfront},
		{name: "pago complement ignores method", tipo: "P", metodoPago: "", want: document.MethodComplement},
		{name: "unknown voucher type rejected", tipo: "T", wantErr: true},
		{name: "unknown payment method rejected", tipo: "I", metodoPago: "XYZ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settlementMethod(tt.tipo, tt.metodoPago)
			if tt.wantErr {
				assert.ErrorIs(t, err, document.ErrMalformedDocument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestXMLParser_MalformedInput(t *testing.T) {
	parser := NewXMLParser()

	tests := []struct {
		name string
		data string
	}{
		{name: "not XML", data: "this is not xml"},
		{name: "missing fiscal folio", data: `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Fecha="2026-01-15T10:30:00" TipoDeComprobante="I"/>`},
		{name: "bad issue date", data: `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Fecha="yesterday" TipoDeComprobante="I"><cfdi:Complemento><tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" UUID="aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"/></cfdi:Complemento></cfdi:Comprobante>`},
		{name: "bad amount", data: `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Fecha="2026-01-15T10:30:00" Total="lots" TipoDeComprobante="I"><cfdi:Complemento><tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" UUID="aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"/></cfdi:Complemento></cfdi:Comprobante>`},
		{name: "pago without allocations", data: `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Fecha="2026-02-01T09:00:00" TipoDeComprobante="P"><cfdi:Complemento><tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" UUID="11111111-2222-3333-4444-555555555555"/></cfdi:Complemento></cfdi:Comprobante>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.data))
			assert.ErrorIs(t, err, document.ErrMalformedDocument)
		})
	}
}

func TestXMLParser_RFC3339Timestamp(t *testing.T) {
	ts, err := parseCFDITime("2026-01-15T10:30:00-06:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 16, 30, 0, 0, time.UTC), ts)
}
