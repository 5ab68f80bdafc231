package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	downloadapp "github.com/fiscaldesk/backend/internal/application/download"
	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/interfaces/http/dto"
)

// DownloadHandler exposes the bulk download request lifecycle
type DownloadHandler struct {
	BaseHandler
	lifecycle *downloadapp.LifecycleService
	requests  download.BulkRequestRepository
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(lifecycle *downloadapp.LifecycleService, requests download.BulkRequestRepository) *DownloadHandler {
	return &DownloadHandler{
		lifecycle: lifecycle,
		requests:  requests,
	}
}

// ===================== Request/Response DTOs =====================

// EnqueueBulkRequestRequest registers one export window
type EnqueueBulkRequestRequest struct {
	RequestID   string    `json:"request_id" binding:"required,max=64"`
	TaxpayerRFC string    `json:"taxpayer_rfc" binding:"required,min=12,max=13"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	Kind        string    `json:"kind" binding:"required,oneof=received issued"`
}

// CancelBulkRequestRequest carries the operator's cancel reason
type CancelBulkRequestRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// BulkRequestListFilter narrows the request listing
type BulkRequestListFilter struct {
	TaxpayerRFC string `form:"taxpayer_rfc"`
	Status      string `form:"status" binding:"omitempty,oneof=created polling downloading completed failed canceled"`
	Kind        string `form:"kind" binding:"omitempty,oneof=received issued"`
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// BulkRequestResponse is the API shape of a bulk request
type BulkRequestResponse struct {
	ID          string    `json:"id"`
	TaxpayerRFC string    `json:"taxpayer_rfc"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`

	RemoteRequestID string `json:"remote_request_id,omitempty"`
	RemoteStatus    string `json:"remote_status,omitempty"`

	PackageCount    int      `json:"package_count"`
	FetchedPackages []string `json:"fetched_packages,omitempty"`
	DocumentCount   int      `json:"document_count"`

	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdvanceResponse reports one manual advancement pass
type AdvanceResponse struct {
	Advanced int `json:"advanced"`
}

func toBulkRequestResponse(r *download.BulkRequest) BulkRequestResponse {
	return BulkRequestResponse{
		ID:              r.ID,
		TaxpayerRFC:     r.TaxpayerRFC,
		PeriodStart:     r.PeriodStart,
		PeriodEnd:       r.PeriodEnd,
		Kind:            string(r.Kind),
		Status:          string(r.Status),
		RemoteRequestID: r.RemoteRequestID,
		RemoteStatus:    r.RemoteStatus,
		PackageCount:    r.PackageCount,
		FetchedPackages: r.FetchedPackages,
		DocumentCount:   r.DocumentCount,
		Attempts:        r.Attempts,
		LastError:       r.LastError,
		NextRetryAt:     r.NextRetryAt,
		CompletedAt:     r.CompletedAt,
		FailedAt:        r.FailedAt,
		CanceledAt:      r.CanceledAt,
		CancelReason:    r.CancelReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// ===================== Handlers =====================

// Enqueue registers a new bulk download request. Resubmitting the same
// request id with identical parameters returns the existing request.
func (h *DownloadHandler) Enqueue(c *gin.Context) {
	var req EnqueueBulkRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	request, err := h.lifecycle.Enqueue(c.Request.Context(), downloadapp.EnqueueCommand{
		RequestID:   req.RequestID,
		TaxpayerRFC: req.TaxpayerRFC,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Kind:        download.DocumentKind(req.Kind),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toBulkRequestResponse(request))
}

// Get returns one bulk request by id
func (h *DownloadHandler) Get(c *gin.Context) {
	request, err := h.requests.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toBulkRequestResponse(request))
}

// List returns the request audit trail, newest first
func (h *DownloadHandler) List(c *gin.Context) {
	var filter BulkRequestListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	domainFilter := download.RequestFilter{
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	if filter.TaxpayerRFC != "" {
		domainFilter.TaxpayerRFC = &filter.TaxpayerRFC
	}
	if filter.Status != "" {
		status := download.RequestStatus(filter.Status)
		domainFilter.Status = &status
	}
	if filter.Kind != "" {
		kind := download.DocumentKind(filter.Kind)
		domainFilter.Kind = &kind
	}

	requests, total, err := h.requests.FindAll(c.Request.Context(), domainFilter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	responses := make([]BulkRequestResponse, len(requests))
	for i := range requests {
		responses[i] = toBulkRequestResponse(&requests[i])
	}
	h.SuccessWithMeta(c, responses, total, filter.Page, filter.PageSize)
}

// Cancel stops a request. A cancel wins over any result still in flight for
// the same request.
func (h *DownloadHandler) Cancel(c *gin.Context) {
	var req CancelBulkRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	request, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toBulkRequestResponse(request))
}

// Advance runs one advancement pass immediately instead of waiting for the
// scheduler tick. Useful for operators chasing a stuck request.
func (h *DownloadHandler) Advance(c *gin.Context) {
	advanced, err := h.lifecycle.AdvanceDueRequests(c.Request.Context(), 50, time.Now())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, AdvanceResponse{Advanced: advanced})
}

// Delete removes a terminal request from the audit trail
func (h *DownloadHandler) Delete(c *gin.Context) {
	if err := h.lifecycle.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// RegisterRoutes registers bulk request routes
func (h *DownloadHandler) RegisterRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/bulk-requests")
	{
		requests.POST("", h.Enqueue)
		requests.GET("", h.List)
		requests.GET("/:id", h.Get)
		requests.POST("/:id/cancel", h.Cancel)
		requests.DELETE("/:id", h.Delete)
		requests.POST("/advance", h.Advance)
	}
}
