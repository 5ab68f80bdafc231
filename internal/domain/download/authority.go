package download

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a remote operation failure. The lifecycle engine
// depends only on this classification, never on raw protocol status codes.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient" // network/5xx, back off and retry
	ErrorKindPermanent ErrorKind = "permanent" // business rejection, never retry
)

// RemoteError wraps a failure from the tax authority with its classification
type RemoteError struct {
	Kind ErrorKind
	Op   string // submit, verify, fetch
	Err  error
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("authority %s: %s failure: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable remote failure
func NewTransientError(op string, err error) *RemoteError {
	return &RemoteError{Kind: ErrorKindTransient, Op: op, Err: err}
}

// NewPermanentError wraps err as a non-retryable remote failure
func NewPermanentError(op string, err error) *RemoteError {
	return &RemoteError{Kind: ErrorKindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable remote failure. Unclassified
// errors (including context deadline) are treated as transient so an unknown
// failure mode never burns a request permanently.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind == ErrorKindTransient
	}
	return true
}

// IsPermanent reports whether err is a classified non-retryable remote failure
func IsPermanent(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind == ErrorKindPermanent
	}
	return false
}

// VerifyState is the closed set of verdicts a status check can produce
type VerifyState string

const (
	VerifyStateReady    VerifyState = "ready"    // packages prepared, ids announced
	VerifyStatePending  VerifyState = "pending"  // still being prepared upstream
	VerifyStateRejected VerifyState = "rejected" // authority refused the query
	VerifyStateExpired  VerifyState = "expired"  // prepared packages lapsed before fetch
)

// VerifyResult is the outcome of a verify-status call
type VerifyResult struct {
	State        VerifyState
	RemoteStatus string // raw authority status code, for the audit trail only
	PackageIDs   []string
}

// Query describes one bulk export to request upstream
type Query struct {
	TaxpayerRFC string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Kind        DocumentKind
}

// AuthorityClient is the transport port to the tax authority's bulk export
// service. Implementations must classify every failure as transient or
// permanent via RemoteError and must honor ctx cancellation; the protocol
// behind the three operations is deliberately opaque so it can change without
// touching the state machine.
type AuthorityClient interface {
	// SubmitQuery registers a bulk export and returns the remote request id
	SubmitQuery(ctx context.Context, cred Credential, query Query) (string, error)
	// VerifyStatus reports preparation progress for a submitted request
	VerifyStatus(ctx context.Context, cred Credential, remoteRequestID string) (VerifyResult, error)
	// FetchPackage downloads one prepared package
	FetchPackage(ctx context.Context, cred Credential, packageID string) ([]byte, error)
}
