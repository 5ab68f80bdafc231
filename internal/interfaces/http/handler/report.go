package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	fiscalapp "github.com/fiscaldesk/backend/internal/application/fiscal"
)

// ReportHandler exposes the cash-basis reconciliation report
type ReportHandler struct {
	BaseHandler
	reports *fiscalapp.ReportService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reports *fiscalapp.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// CashBasisReportFilter selects the period to reconcile. Dates are
// YYYY-MM-DD; the period end day is included in full.
type CashBasisReportFilter struct {
	TaxpayerRFC string `form:"taxpayer_rfc" binding:"required,min=12,max=13"`
	PeriodStart string `form:"period_start" binding:"required"`
	PeriodEnd   string `form:"period_end" binding:"required"`
	Cutoff      string `form:"cutoff"`
}

const dateLayout = "2006-01-02"

// endOfDay pushes a date to the last instant the report should include
func endOfDay(t time.Time) time.Time {
	return t.Add(24*time.Hour - time.Nanosecond)
}

// CashBasis computes effective and pending totals for a period
func (h *ReportHandler) CashBasis(c *gin.Context) {
	var filter CashBasisReportFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	start, err := time.Parse(dateLayout, filter.PeriodStart)
	if err != nil {
		h.BadRequest(c, "period_start must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateLayout, filter.PeriodEnd)
	if err != nil {
		h.BadRequest(c, "period_end must be YYYY-MM-DD")
		return
	}

	query := fiscalapp.ReportQuery{
		TaxpayerRFC: filter.TaxpayerRFC,
		PeriodStart: start,
		PeriodEnd:   endOfDay(end),
	}
	if filter.Cutoff != "" {
		cutoff, err := time.Parse(dateLayout, filter.Cutoff)
		if err != nil {
			h.BadRequest(c, "cutoff must be YYYY-MM-DD")
			return
		}
		query.Cutoff = endOfDay(cutoff)
	}

	report, err := h.reports.Compute(c.Request.Context(), query)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// RegisterRoutes registers report routes
func (h *ReportHandler) RegisterRoutes(rg *gin.RouterGroup) {
	reports := rg.Group("/reports")
	{
		reports.GET("/cash-basis", h.CashBasis)
	}
}
