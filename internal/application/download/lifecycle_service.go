package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/domain/shared"
)

// PackageIngester hands a fetched package to document ingestion and reports
// how many documents it produced
type PackageIngester interface {
	IngestPackage(ctx context.Context, request *download.BulkRequest, packageID string, data []byte) (int, error)
}

// PackageArchiver stores the raw bytes of a fetched package before parsing
type PackageArchiver interface {
	StorePackage(ctx context.Context, requestID, packageID string, data []byte) error
}

// LifecycleConfig tunes the request lifecycle engine
type LifecycleConfig struct {
	// MaxAttempts is the per-state transient retry ceiling
	MaxAttempts int
	// PollInterval re-arms polling while the authority is still preparing
	PollInterval time.Duration
	// CallTimeout bounds every individual remote call
	CallTimeout time.Duration
	// MaxConcurrent bounds parallel request advancement within one batch
	MaxConcurrent int
	// ClaimLease is how long a claimed row stays invisible to other advancers
	ClaimLease time.Duration
}

// DefaultLifecycleConfig returns the engine defaults
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		MaxAttempts:   5,
		PollInterval:  5 * time.Minute,
		CallTimeout:   2 * time.Minute,
		MaxConcurrent: 4,
		ClaimLease:    5 * time.Minute,
	}
}

// Validate validates the configuration
func (c *LifecycleConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return shared.NewDomainError("INVALID_CONFIG", "MaxAttempts must be positive")
	}
	if c.PollInterval <= 0 || c.CallTimeout <= 0 || c.ClaimLease <= 0 {
		return shared.NewDomainError("INVALID_CONFIG", "Lifecycle intervals must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return shared.NewDomainError("INVALID_CONFIG", "MaxConcurrent must be positive")
	}
	return nil
}

// LifecycleService owns the bulk request state machine: it decides when a
// request is due, talks to the authority through the transport port, persists
// every transition, and fans out fetched packages to ingestion. It is the only
// component that calls the AuthorityClient.
type LifecycleService struct {
	requests download.BulkRequestRepository
	client   download.AuthorityClient
	creds    download.CredentialProvider
	ingester PackageIngester
	archiver PackageArchiver // optional
	backoff  download.BackoffPolicy
	config   LifecycleConfig
	logger   *zap.Logger
}

// NewLifecycleService creates the request lifecycle engine
func NewLifecycleService(
	requests download.BulkRequestRepository,
	client download.AuthorityClient,
	creds download.CredentialProvider,
	ingester PackageIngester,
	archiver PackageArchiver,
	backoff download.BackoffPolicy,
	config LifecycleConfig,
	logger *zap.Logger,
) (*LifecycleService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		requests: requests,
		client:   client,
		creds:    creds,
		ingester: ingester,
		archiver: archiver,
		backoff:  backoff,
		config:   config,
		logger:   logger,
	}, nil
}

// EnqueueCommand describes one export to register
type EnqueueCommand struct {
	RequestID   string
	TaxpayerRFC string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Kind        download.DocumentKind
}

// Enqueue registers a new bulk request in the created state. Resubmitting the
// same caller-assigned id for the same parameters returns the existing request
// unchanged; an active request covering an overlapping range is rejected with
// ErrDuplicateActiveRequest.
func (s *LifecycleService) Enqueue(ctx context.Context, cmd EnqueueCommand) (*download.BulkRequest, error) {
	existing, err := s.requests.FindByID(ctx, cmd.RequestID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("looking up request %s: %w", cmd.RequestID, err)
	}
	if existing != nil {
		if existing.TaxpayerRFC == cmd.TaxpayerRFC && existing.Kind == cmd.Kind &&
			existing.PeriodStart.Equal(cmd.PeriodStart) && existing.PeriodEnd.Equal(cmd.PeriodEnd) {
			return existing, nil // idempotent resubmission
		}
		return nil, shared.ErrAlreadyExists
	}

	overlap, err := s.requests.HasActiveOverlapping(ctx, cmd.TaxpayerRFC, cmd.Kind, cmd.PeriodStart, cmd.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("checking overlapping requests: %w", err)
	}
	if overlap {
		return nil, download.ErrDuplicateActiveRequest
	}

	request, err := download.NewBulkRequest(cmd.RequestID, cmd.TaxpayerRFC, cmd.PeriodStart, cmd.PeriodEnd, cmd.Kind)
	if err != nil {
		return nil, err
	}
	if err := s.requests.Save(ctx, request); err != nil {
		// The unique index and the overlap exclusion constraint catch the
		// race between two concurrent enqueues the lookup above cannot see.
		if errors.Is(err, shared.ErrAlreadyExists) || errors.Is(err, download.ErrDuplicateActiveRequest) {
			return nil, download.ErrDuplicateActiveRequest
		}
		return nil, fmt.Errorf("persisting request %s: %w", cmd.RequestID, err)
	}

	s.logger.Info("Bulk request enqueued",
		zap.String("request_id", request.ID),
		zap.String("taxpayer_rfc", request.TaxpayerRFC),
		zap.String("kind", request.Kind.String()),
		zap.Time("period_start", request.PeriodStart),
		zap.Time("period_end", request.PeriodEnd),
	)
	return request, nil
}

// Cancel stops a non-terminal request by operator action
func (s *LifecycleService) Cancel(ctx context.Context, requestID, reason string) (*download.BulkRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	prev := request.Status
	if err := request.Cancel(reason, time.Now()); err != nil {
		return nil, err
	}
	if err := s.requests.SaveIfStatus(ctx, request, prev); err != nil {
		return nil, err
	}
	s.logger.Info("Bulk request canceled",
		zap.String("request_id", request.ID),
		zap.String("reason", reason),
	)
	return request, nil
}

// Delete removes a terminal request from the audit trail by operator action.
// Requests still in flight must be canceled first.
func (s *LifecycleService) Delete(ctx context.Context, requestID string) error {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if !request.Status.IsTerminal() {
		return download.ErrRequestNotTerminal
	}
	if err := s.requests.Delete(ctx, requestID); err != nil {
		return err
	}
	s.logger.Info("Bulk request deleted",
		zap.String("request_id", requestID),
		zap.String("status", request.Status.String()),
	)
	return nil
}

// AdvanceDueRequests claims up to limit due requests (oldest first) and
// advances each exactly once, in parallel up to the configured concurrency.
// Returns the number of requests advanced. Safe to call concurrently with
// itself: claiming is a conditional update, so two racing callers never
// both drive the same request.
func (s *LifecycleService) AdvanceDueRequests(ctx context.Context, limit int, now time.Time) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	claimed, err := s.requests.ClaimDue(ctx, limit, now, s.config.ClaimLease)
	if err != nil {
		return 0, fmt.Errorf("claiming due requests: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup
	for _, request := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(request *download.BulkRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			s.advanceOne(ctx, request, now)
		}(request)
	}
	wg.Wait()
	return len(claimed), nil
}

// advanceOne drives a single claimed request through exactly one transition.
// Every outcome, success or failure, ends in a persisted state: the request is
// never left in limbo.
func (s *LifecycleService) advanceOne(ctx context.Context, request *download.BulkRequest, now time.Time) {
	claimedStatus := request.Status

	cred, err := s.creds.GetCredential(ctx, request.TaxpayerRFC)
	if err != nil {
		if errors.Is(err, download.ErrCredentialNotFound) {
			_ = request.FailPermanent("no signing credential registered for "+request.TaxpayerRFC, now)
		} else {
			request.RecordTransientFailure("credential vault: "+err.Error(), now, s.backoff, s.config.MaxAttempts)
		}
		s.persist(ctx, request, claimedStatus)
		return
	}

	switch claimedStatus {
	case download.StatusCreated:
		s.advanceCreated(ctx, cred, request, now)
	case download.StatusPolling:
		s.advancePolling(ctx, cred, request, now)
	case download.StatusDownloading:
		s.advanceDownloading(ctx, cred, request, now)
	default:
		s.logger.Warn("Claimed request in non-due state",
			zap.String("request_id", request.ID),
			zap.String("status", claimedStatus.String()),
		)
		// No transition to persist, so hand the row back instead of letting
		// the lease run out.
		if err := s.requests.ReleaseLease(ctx, request.ID); err != nil {
			s.logger.Error("Failed to release claim lease",
				zap.String("request_id", request.ID),
				zap.Error(err),
			)
		}
		return
	}

	s.persist(ctx, request, claimedStatus)
}

func (s *LifecycleService) advanceCreated(ctx context.Context, cred download.Credential, request *download.BulkRequest, now time.Time) {
	cctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()

	remoteID, err := s.client.SubmitQuery(cctx, cred, download.Query{
		TaxpayerRFC: request.TaxpayerRFC,
		PeriodStart: request.PeriodStart,
		PeriodEnd:   request.PeriodEnd,
		Kind:        request.Kind,
	})
	if err != nil {
		s.recordRemoteFailure(request, "submit", err, now)
		return
	}

	if err := request.MarkSubmitted(remoteID, now); err != nil {
		s.logger.Error("Submit transition rejected",
			zap.String("request_id", request.ID), zap.Error(err))
		return
	}
	s.logger.Info("Bulk request submitted",
		zap.String("request_id", request.ID),
		zap.String("remote_request_id", remoteID),
	)
}

func (s *LifecycleService) advancePolling(ctx context.Context, cred download.Credential, request *download.BulkRequest, now time.Time) {
	cctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()

	result, err := s.client.VerifyStatus(cctx, cred, request.RemoteRequestID)
	if err != nil {
		s.recordRemoteFailure(request, "verify", err, now)
		return
	}

	switch result.State {
	case download.VerifyStateReady:
		if err := request.MarkReady(result.RemoteStatus, result.PackageIDs, now); err != nil {
			s.logger.Error("Ready transition rejected",
				zap.String("request_id", request.ID), zap.Error(err))
			return
		}
		s.logger.Info("Bulk request ready",
			zap.String("request_id", request.ID),
			zap.Int("package_count", len(result.PackageIDs)),
		)
	case download.VerifyStatePending:
		_ = request.RearmPoll(result.RemoteStatus, now, s.config.PollInterval)
		s.logger.Debug("Bulk request still preparing",
			zap.String("request_id", request.ID),
			zap.String("remote_status", result.RemoteStatus),
		)
	case download.VerifyStateRejected, download.VerifyStateExpired:
		_ = request.FailPermanent(
			fmt.Sprintf("authority reported %s (status %s)", result.State, result.RemoteStatus), now)
		s.logger.Warn("Bulk request rejected upstream",
			zap.String("request_id", request.ID),
			zap.String("verdict", string(result.State)),
			zap.String("remote_status", result.RemoteStatus),
		)
	default:
		s.recordRemoteFailure(request, "verify",
			download.NewTransientError("verify", fmt.Errorf("unknown verify state %q", result.State)), now)
	}
}

func (s *LifecycleService) advanceDownloading(ctx context.Context, cred download.Credential, request *download.BulkRequest, now time.Time) {
	outstanding := request.OutstandingPackages()
	var lastErr error
	var permanent bool

	for _, packageID := range outstanding {
		data, err := s.fetchOne(ctx, cred, packageID)
		if err != nil {
			lastErr = err
			if download.IsPermanent(err) {
				permanent = true
				break
			}
			s.logger.Warn("Package fetch failed",
				zap.String("request_id", request.ID),
				zap.String("package_id", packageID),
				zap.Error(err),
			)
			continue // keep fetching the other outstanding packages
		}

		if s.archiver != nil {
			// Archival is best effort: a storage hiccup must not stall ingestion.
			if err := s.archiver.StorePackage(ctx, request.ID, packageID, data); err != nil {
				s.logger.Warn("Package archive failed",
					zap.String("request_id", request.ID),
					zap.String("package_id", packageID),
					zap.Error(err),
				)
			}
		}

		count, err := s.ingester.IngestPackage(ctx, request, packageID, data)
		if err != nil {
			// Malformed package: retried individually next advance, the
			// request itself stays downloading.
			lastErr = err
			s.logger.Warn("Package ingestion failed",
				zap.String("request_id", request.ID),
				zap.String("package_id", packageID),
				zap.Error(err),
			)
			continue
		}

		if err := request.MarkPackageFetched(packageID, count, now); err != nil {
			s.logger.Error("Package transition rejected",
				zap.String("request_id", request.ID),
				zap.String("package_id", packageID),
				zap.Error(err),
			)
			return
		}
	}

	if request.Status == download.StatusCompleted {
		s.logger.Info("Bulk request completed",
			zap.String("request_id", request.ID),
			zap.Int("package_count", request.PackageCount),
			zap.Int("document_count", request.DocumentCount),
		)
		return
	}
	if permanent {
		_ = request.FailPermanent("fetch: "+lastErr.Error(), now)
		return
	}
	if lastErr != nil {
		// Some packages are still missing; back off before the next pass.
		request.RecordTransientFailure(lastErr.Error(), now, s.backoff, s.config.MaxAttempts)
	}
}

func (s *LifecycleService) fetchOne(ctx context.Context, cred download.Credential, packageID string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()
	return s.client.FetchPackage(cctx, cred, packageID)
}

// recordRemoteFailure applies the classified-error policy: permanent failures
// are terminal, everything else follows backoff-and-ceiling.
func (s *LifecycleService) recordRemoteFailure(request *download.BulkRequest, op string, err error, now time.Time) {
	if download.IsPermanent(err) {
		_ = request.FailPermanent(op+": "+err.Error(), now)
		return
	}
	if request.RecordTransientFailure(op+": "+err.Error(), now, s.backoff, s.config.MaxAttempts) {
		s.logger.Warn("Bulk request failed after exhausting retries",
			zap.String("request_id", request.ID),
			zap.String("op", op),
			zap.Int("attempts", request.Attempts),
		)
	}
}

// persist writes the advanced aggregate guarded by the status it was claimed
// in, so a concurrent operator cancel wins over the in-flight result.
func (s *LifecycleService) persist(ctx context.Context, request *download.BulkRequest, claimedStatus download.RequestStatus) {
	request.LockedUntil = nil
	if err := s.requests.SaveIfStatus(ctx, request, claimedStatus); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			s.logger.Info("Discarding stale transition, request changed concurrently",
				zap.String("request_id", request.ID),
				zap.String("claimed_status", claimedStatus.String()),
			)
			return
		}
		s.logger.Error("Failed to persist request transition",
			zap.String("request_id", request.ID),
			zap.Error(err),
		)
	}
}
