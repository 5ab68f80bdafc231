package download

import (
	"context"
	"time"

	"github.com/fiscaldesk/backend/internal/domain/shared"
)

// ErrDuplicateActiveRequest indicates an active request already covers an
// overlapping range for the same taxpayer and kind
var ErrDuplicateActiveRequest = shared.NewDomainError("DUPLICATE_ACTIVE_REQUEST", "An active request already covers an overlapping range for this taxpayer")

// ErrRequestNotTerminal indicates a delete attempt on a request that is still
// in flight
var ErrRequestNotTerminal = shared.NewDomainError("REQUEST_NOT_TERMINAL", "Only completed, failed, or canceled requests can be deleted")

// RequestFilter narrows audit-trail listings
type RequestFilter struct {
	TaxpayerRFC *string
	Status      *RequestStatus
	Kind        *DocumentKind
	Page        int
	PageSize    int
}

// BulkRequestRepository persists bulk requests. Implementations must provide
// row-level conditional updates: ClaimDue and SaveIfStatus are what keep two
// concurrent advancers from double-driving the same request.
type BulkRequestRepository interface {
	// Save creates or unconditionally updates a request
	Save(ctx context.Context, request *BulkRequest) error
	// SaveIfStatus persists request only while the stored row is still in
	// expected status; shared.ErrConcurrencyConflict otherwise. Used to discard
	// stale in-flight results after an operator cancel.
	SaveIfStatus(ctx context.Context, request *BulkRequest, expected RequestStatus) error
	// FindByID returns the request or shared.ErrNotFound
	FindByID(ctx context.Context, id string) (*BulkRequest, error)
	// ClaimDue atomically selects up to limit due requests (due state, retry
	// deadline reached, claim lease free), oldest first, stamps their lease to
	// now+lease and returns them. A row claimed by one caller must not be
	// returned to a concurrent caller.
	ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*BulkRequest, error)
	// ReleaseLease clears the claim lease without other changes
	ReleaseLease(ctx context.Context, id string) error
	// HasActiveOverlapping reports whether a non-terminal request overlaps the
	// given range for taxpayer and kind
	HasActiveOverlapping(ctx context.Context, taxpayerRFC string, kind DocumentKind, start, end time.Time) (bool, error)
	// FindAll lists requests for the audit trail
	FindAll(ctx context.Context, filter RequestFilter) ([]BulkRequest, int64, error)
	// Delete removes a terminal request; explicit operator action only
	Delete(ctx context.Context, id string) error
}
