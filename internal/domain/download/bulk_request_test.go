package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T) *BulkRequest {
	t.Helper()
	r, err := NewBulkRequest(
		"req-2025-01",
		"XAXX010101000",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		KindReceived,
	)
	require.NoError(t, err)
	return r
}

func TestRequestStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status RequestStatus
		want   bool
	}{
		{"created", StatusCreated, true},
		{"polling", StatusPolling, true},
		{"downloading", StatusDownloading, true},
		{"completed", StatusCompleted, true},
		{"failed", StatusFailed, true},
		{"canceled", StatusCanceled, true},
		{"invalid", RequestStatus("queued"), false},
		{"empty", RequestStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status RequestStatus
		want   bool
	}{
		{"created", StatusCreated, false},
		{"polling", StatusPolling, false},
		{"downloading", StatusDownloading, false},
		{"completed", StatusCompleted, true},
		{"failed", StatusFailed, true},
		{"canceled", StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestNewBulkRequest_Validation(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		id      string
		rfc     string
		start   time.Time
		end     time.Time
		kind    DocumentKind
		wantErr bool
	}{
		{"valid person rfc", "r1", "XAXX010101000", start, end, KindReceived, false},
		{"valid company rfc", "r2", "AAA010101AAA", start, end, KindIssued, false},
		{"empty id", "", "XAXX010101000", start, end, KindReceived, true},
		{"short rfc", "r3", "XAXX", start, end, KindReceived, true},
		{"bad kind", "r4", "XAXX010101000", start, end, DocumentKind("both"), true},
		{"inverted range", "r5", "XAXX010101000", end, start, KindReceived, true},
		{"zero start", "r6", "XAXX010101000", time.Time{}, end, KindReceived, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewBulkRequest(tt.id, tt.rfc, tt.start, tt.end, tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCreated, r.Status)
			assert.Equal(t, 0, r.Attempts)
			assert.Nil(t, r.NextRetryAt)
		})
	}
}

func TestBulkRequest_FullLifecycle(t *testing.T) {
	r := newTestRequest(t)
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	// created -> polling
	require.NoError(t, r.MarkSubmitted("SAT-REQ-42", now))
	assert.Equal(t, StatusPolling, r.Status)
	assert.Equal(t, "SAT-REQ-42", r.RemoteRequestID)
	assert.Equal(t, 0, r.Attempts)
	assert.Nil(t, r.NextRetryAt)

	// polling, authority still preparing
	require.NoError(t, r.RearmPoll("1", now, 5*time.Minute))
	assert.Equal(t, StatusPolling, r.Status)
	require.NotNil(t, r.NextRetryAt)
	assert.True(t, r.NextRetryAt.After(now))
	assert.Equal(t, 0, r.Attempts)

	// polling -> downloading with two packages
	require.NoError(t, r.MarkReady("3", []string{"pkg-a", "pkg-b"}, now))
	assert.Equal(t, StatusDownloading, r.Status)
	assert.Equal(t, 2, r.PackageCount)
	assert.Nil(t, r.NextRetryAt)
	assert.ElementsMatch(t, []string{"pkg-a", "pkg-b"}, r.OutstandingPackages())

	// first package
	require.NoError(t, r.MarkPackageFetched("pkg-a", 10, now))
	assert.Equal(t, StatusDownloading, r.Status)
	assert.Equal(t, 10, r.DocumentCount)
	assert.Equal(t, []string{"pkg-b"}, r.OutstandingPackages())

	// second package completes the request
	require.NoError(t, r.MarkPackageFetched("pkg-b", 7, now))
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, 17, r.DocumentCount)
	assert.Equal(t, 2, r.PackageCount)
	require.NotNil(t, r.CompletedAt)
	assert.Empty(t, r.OutstandingPackages())
}

func TestBulkRequest_MarkReady_NoPackagesCompletes(t *testing.T) {
	r := newTestRequest(t)
	now := time.Now()
	require.NoError(t, r.MarkSubmitted("SAT-REQ-1", now))

	require.NoError(t, r.MarkReady("3", nil, now))
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, 0, r.PackageCount)
}

func TestBulkRequest_MarkPackageFetched_Idempotent(t *testing.T) {
	r := newTestRequest(t)
	now := time.Now()
	require.NoError(t, r.MarkSubmitted("SAT-REQ-1", now))
	require.NoError(t, r.MarkReady("3", []string{"pkg-a", "pkg-b"}, now))

	require.NoError(t, r.MarkPackageFetched("pkg-a", 4, now))
	require.NoError(t, r.MarkPackageFetched("pkg-a", 4, now))
	assert.Equal(t, 4, r.DocumentCount, "re-recording the same package must not double count")
	assert.Equal(t, StatusDownloading, r.Status)

	err := r.MarkPackageFetched("pkg-z", 1, now)
	assert.Error(t, err, "unannounced package must be rejected")
}

func TestBulkRequest_AttemptsResetOnEveryTransition(t *testing.T) {
	r := newTestRequest(t)
	now := time.Now()
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute, ExponentCap: 4, Jitter: func(time.Duration) time.Duration { return 0 }}

	terminal := r.RecordTransientFailure("dial tcp: timeout", now, policy, 5)
	assert.False(t, terminal)
	terminal = r.RecordTransientFailure("dial tcp: timeout", now, policy, 5)
	assert.False(t, terminal)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, "dial tcp: timeout", r.LastError)

	r.NextRetryAt = nil
	require.NoError(t, r.MarkSubmitted("SAT-REQ-1", now))
	assert.Equal(t, 0, r.Attempts, "attempts must reset after a successful transition")
	assert.Empty(t, r.LastError)

	terminal = r.RecordTransientFailure("verify: 502", now, policy, 5)
	assert.False(t, terminal)
	assert.Equal(t, 1, r.Attempts, "attempts are tracked per state")

	require.NoError(t, r.MarkReady("3", []string{"p1"}, now))
	assert.Equal(t, 0, r.Attempts)
}

func TestBulkRequest_RetryCeilingFailsRequest(t *testing.T) {
	r := newTestRequest(t)
	now := time.Now()
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute, ExponentCap: 4, Jitter: func(time.Duration) time.Duration { return 0 }}

	var terminal bool
	for i := 0; i < 4; i++ {
		terminal = r.RecordTransientFailure("connection refused", now, policy, 3)
	}
	assert.True(t, terminal)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "connection refused", r.LastError)
	require.NotNil(t, r.FailedAt)
	assert.Nil(t, r.NextRetryAt)
}

func TestBulkRequest_FailPermanent(t *testing.T) {
	r := newTestRequest(t)
	now := time.Now()

	require.NoError(t, r.FailPermanent("authority rejected: range too large", now))
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "authority rejected: range too large", r.LastError)

	assert.Error(t, r.FailPermanent("again", now), "terminal request cannot fail twice")
}

func TestBulkRequest_Cancel(t *testing.T) {
	r := newTestRequest(t)
	now := time.Now()

	assert.Error(t, r.Cancel("", now), "reason required")
	require.NoError(t, r.Cancel("operator abort", now))
	assert.Equal(t, StatusCanceled, r.Status)
	assert.Equal(t, "operator abort", r.CancelReason)
	require.NotNil(t, r.CanceledAt)
	assert.False(t, r.IsDue(now))

	assert.Error(t, r.Cancel("twice", now))
}

func TestBulkRequest_IsDue(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name    string
		status  RequestStatus
		nextTry *time.Time
		want    bool
	}{
		{"created no deadline", StatusCreated, nil, true},
		{"polling past deadline", StatusPolling, &past, true},
		{"polling at future deadline", StatusPolling, &future, false},
		{"downloading no deadline", StatusDownloading, nil, true},
		{"completed", StatusCompleted, nil, false},
		{"failed", StatusFailed, nil, false},
		{"canceled", StatusCanceled, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRequest(t)
			r.Status = tt.status
			r.NextRetryAt = tt.nextTry
			assert.Equal(t, tt.want, r.IsDue(now))
		})
	}
}

func TestBulkRequest_Overlaps(t *testing.T) {
	r := newTestRequest(t) // XAXX010101000, received, 2025-01-01..2025-01-31
	jan15 := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	feb28 := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)

	assert.True(t, r.Overlaps("XAXX010101000", KindReceived, jan15, feb28))
	assert.True(t, r.Overlaps("XAXX010101000", KindReceived, r.PeriodEnd, feb28), "shared boundary day overlaps")
	assert.False(t, r.Overlaps("XAXX010101000", KindReceived, feb1, feb28))
	assert.False(t, r.Overlaps("XAXX010101000", KindIssued, jan15, feb28), "different kind never overlaps")
	assert.False(t, r.Overlaps("AAA010101AAA", KindReceived, jan15, feb28), "different taxpayer never overlaps")
}
