package download

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fiscaldesk/backend/internal/domain/shared"
)

// DocumentKind represents the flow direction of the documents covered by a request
type DocumentKind string

const (
	KindReceived DocumentKind = "received" // documents issued to the taxpayer
	KindIssued   DocumentKind = "issued"   // documents issued by the taxpayer
)

// IsValid checks if the kind is a valid DocumentKind
func (k DocumentKind) IsValid() bool {
	return k == KindReceived || k == KindIssued
}

// String returns the string representation of DocumentKind
func (k DocumentKind) String() string {
	return string(k)
}

// RequestStatus represents the lifecycle state of a bulk download request
type RequestStatus string

const (
	StatusCreated     RequestStatus = "created"     // accepted locally, not yet submitted upstream
	StatusPolling     RequestStatus = "polling"     // submitted, waiting for the authority to prepare packages
	StatusDownloading RequestStatus = "downloading" // packages announced, fetching outstanding ones
	StatusCompleted   RequestStatus = "completed"   // every package fetched and ingested
	StatusFailed      RequestStatus = "failed"      // retries exhausted or permanent rejection
	StatusCanceled    RequestStatus = "canceled"    // stopped by explicit operator action
)

// IsValid checks if the status is a valid RequestStatus
func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusPolling, StatusDownloading,
		StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// String returns the string representation of RequestStatus
func (s RequestStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the request can never advance again
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsDue returns true if the status is one the lifecycle engine acts on
func (s RequestStatus) IsDue() bool {
	return s == StatusCreated || s == StatusPolling || s == StatusDownloading
}

// StringList is a string slice stored as JSONB
type StringList []string

// Value implements driver.Valuer for JSONB storage
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan StringList: unsupported type")
	}
	if len(bytes) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Contains reports whether the list contains s
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// BulkRequest is the aggregate driving one export job against the tax authority.
// The ID is caller-assigned so a client can resubmit the same logical request
// idempotently after a crash without creating a second job.
type BulkRequest struct {
	ID          string       `json:"id"`
	TaxpayerRFC string       `json:"taxpayer_rfc"`
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
	Kind        DocumentKind `json:"kind"`

	Status          RequestStatus `json:"status"`
	RemoteRequestID string        `json:"remote_request_id"` // assigned by the authority on accept
	RemoteStatus    string        `json:"remote_status"`     // last raw status code reported upstream

	PackageIDs      StringList `json:"package_ids"`
	FetchedPackages StringList `json:"fetched_packages"`
	PackageCount    int        `json:"package_count"`
	DocumentCount   int        `json:"document_count"`

	Attempts    int        `json:"attempts"` // monotonic within the current state only
	LastError   string     `json:"last_error"`
	NextRetryAt *time.Time `json:"next_retry_at"` // nil means act immediately
	LockedUntil *time.Time `json:"locked_until"`  // advancement claim lease

	CompletedAt  *time.Time `json:"completed_at"`
	FailedAt     *time.Time `json:"failed_at"`
	CanceledAt   *time.Time `json:"canceled_at"`
	CancelReason string     `json:"cancel_reason"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBulkRequest creates a new request in the created state
func NewBulkRequest(id, taxpayerRFC string, periodStart, periodEnd time.Time, kind DocumentKind) (*BulkRequest, error) {
	if id == "" {
		return nil, shared.NewDomainError("INVALID_REQUEST_ID", "Request ID cannot be empty")
	}
	if len(id) > 64 {
		return nil, shared.NewDomainError("INVALID_REQUEST_ID", "Request ID cannot exceed 64 characters")
	}
	if len(taxpayerRFC) < 12 || len(taxpayerRFC) > 13 {
		return nil, shared.NewDomainError("INVALID_TAXPAYER_RFC", fmt.Sprintf("RFC must be 12 or 13 characters, got %q", taxpayerRFC))
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_DOCUMENT_KIND", fmt.Sprintf("Invalid document kind: %s", kind))
	}
	if periodStart.IsZero() || periodEnd.IsZero() {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period bounds cannot be zero")
	}
	if periodEnd.Before(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end cannot precede period start")
	}

	now := time.Now()
	return &BulkRequest{
		ID:              id,
		TaxpayerRFC:     taxpayerRFC,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		Kind:            kind,
		Status:          StatusCreated,
		PackageIDs:      StringList{},
		FetchedPackages: StringList{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsDue returns true if the lifecycle engine should advance this request at now
func (r *BulkRequest) IsDue(now time.Time) bool {
	if !r.Status.IsDue() {
		return false
	}
	return r.NextRetryAt == nil || !r.NextRetryAt.After(now)
}

// OutstandingPackages returns the package IDs announced but not yet fetched
func (r *BulkRequest) OutstandingPackages() []string {
	outstanding := make([]string, 0, len(r.PackageIDs))
	for _, id := range r.PackageIDs {
		if !r.FetchedPackages.Contains(id) {
			outstanding = append(outstanding, id)
		}
	}
	return outstanding
}

// MarkSubmitted records acceptance by the authority and moves to polling.
// Attempts reset because a state transition is a success.
func (r *BulkRequest) MarkSubmitted(remoteRequestID string, now time.Time) error {
	if r.Status != StatusCreated {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot submit request in %s status", r.Status))
	}
	if remoteRequestID == "" {
		return shared.NewDomainError("INVALID_REMOTE_ID", "Remote request ID cannot be empty")
	}
	r.RemoteRequestID = remoteRequestID
	r.Status = StatusPolling
	r.Attempts = 0
	r.NextRetryAt = nil
	r.LastError = ""
	r.touch(now)
	return nil
}

// RearmPoll keeps the request in polling while the authority is still preparing
// packages. Expected latency, not a failure: attempts are not incremented.
func (r *BulkRequest) RearmPoll(remoteStatus string, now time.Time, pollInterval time.Duration) error {
	if r.Status != StatusPolling {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot re-arm poll in %s status", r.Status))
	}
	next := now.Add(pollInterval)
	r.RemoteStatus = remoteStatus
	r.NextRetryAt = &next
	r.LastError = ""
	r.touch(now)
	return nil
}

// MarkReady records the announced package list and moves to downloading
func (r *BulkRequest) MarkReady(remoteStatus string, packageIDs []string, now time.Time) error {
	if r.Status != StatusPolling {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot mark ready in %s status", r.Status))
	}
	if len(packageIDs) == 0 {
		// A ready verdict with zero packages means the range matched nothing.
		r.RemoteStatus = remoteStatus
		r.complete(now)
		return nil
	}
	r.RemoteStatus = remoteStatus
	r.PackageIDs = append(StringList{}, packageIDs...)
	r.PackageCount = len(packageIDs)
	r.Status = StatusDownloading
	r.Attempts = 0
	r.NextRetryAt = nil
	r.LastError = ""
	r.touch(now)
	return nil
}

// MarkPackageFetched records one fetched package and the documents it produced.
// When the last outstanding package lands the request completes.
func (r *BulkRequest) MarkPackageFetched(packageID string, documentCount int, now time.Time) error {
	if r.Status != StatusDownloading {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot record package in %s status", r.Status))
	}
	if !r.PackageIDs.Contains(packageID) {
		return shared.NewDomainError("UNKNOWN_PACKAGE", fmt.Sprintf("Package %s was never announced for request %s", packageID, r.ID))
	}
	if r.FetchedPackages.Contains(packageID) {
		return nil // re-fetch of an already recorded package is a no-op
	}
	r.FetchedPackages = append(r.FetchedPackages, packageID)
	r.DocumentCount += documentCount
	if len(r.OutstandingPackages()) == 0 {
		r.complete(now)
		return nil
	}
	r.touch(now)
	return nil
}

// RecordTransientFailure increments attempts and either schedules a retry or,
// when the ceiling is exceeded, fails the request. Returns true when terminal.
func (r *BulkRequest) RecordTransientFailure(cause string, now time.Time, policy BackoffPolicy, maxAttempts int) bool {
	r.Attempts++
	r.LastError = cause
	if r.Attempts > maxAttempts {
		r.fail(cause, now)
		return true
	}
	next := now.Add(policy.Delay(r.Attempts))
	r.NextRetryAt = &next
	r.touch(now)
	return false
}

// FailPermanent moves the request to failed without retry
func (r *BulkRequest) FailPermanent(cause string, now time.Time) error {
	if r.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail request in %s status", r.Status))
	}
	r.fail(cause, now)
	return nil
}

// Cancel stops a non-terminal request by operator action
func (r *BulkRequest) Cancel(reason string, now time.Time) error {
	if r.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel request in %s status", r.Status))
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancel reason is required")
	}
	r.Status = StatusCanceled
	r.CanceledAt = &now
	r.CancelReason = reason
	r.NextRetryAt = nil
	r.LockedUntil = nil
	r.touch(now)
	return nil
}

func (r *BulkRequest) complete(now time.Time) {
	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.Attempts = 0
	r.NextRetryAt = nil
	r.LastError = ""
	r.touch(now)
}

func (r *BulkRequest) fail(cause string, now time.Time) {
	r.Status = StatusFailed
	r.FailedAt = &now
	r.LastError = cause
	r.NextRetryAt = nil
	r.touch(now)
}

func (r *BulkRequest) touch(now time.Time) {
	r.UpdatedAt = now
	r.Version++
}

// Overlaps reports whether the request covers any day of the given range for
// the same taxpayer and kind
func (r *BulkRequest) Overlaps(taxpayerRFC string, kind DocumentKind, start, end time.Time) bool {
	if r.TaxpayerRFC != taxpayerRFC || r.Kind != kind {
		return false
	}
	return !r.PeriodStart.After(end) && !r.PeriodEnd.Before(start)
}
