package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("load: %w", WrapError("student", "Load", ErrServiceUnavailable, "records unavailable", cause))

	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.True(t, IsExternalService(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "load: student.Load: records unavailable: connection reset", err.Error())

	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Load", de.Op)
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, IsNotFound(ErrAlertNotFound))
	assert.True(t, IsStateTransition(ErrAlertAlreadyResolved))
	assert.True(t, IsValidation(ErrInvalidPriority))
	assert.True(t, IsValidation(fmt.Errorf("%w: bad yaml", ErrInvalidFormat)))
	assert.True(t, IsRetryable(ErrLockNotAcquired))
	assert.False(t, IsRetryable(ErrIntegrity))
	assert.Equal(t, "dashboard.Find: dashboard metrics not computed yet", ErrMetricsNotFound.Error())
}

func TestNewStudentID(t *testing.T) {
	id, err := NewStudentID("  ST001 ")
	require.NoError(t, err)
	assert.Equal(t, "ST001", id.String())

	for _, bad := range []string{"", "-ST", "ST 01", string(make([]byte, 70))} {
		_, err := NewStudentID(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, "%q", bad)
	}
}

func TestNumericHelpers(t *testing.T) {
	assert.Equal(t, 4, CeilSteps(0.8, 0.2))
	assert.Equal(t, 3, CeilSteps(0.5, 0.2))
	assert.Zero(t, CeilSteps(-1, 0.2))
	assert.Equal(t, 10, ClampInt(42, 1, 10))
	assert.Equal(t, 1, ClampInt(-3, 1, 10))
	assert.InDelta(t, 65.0, Ratio(13, 20), 1e-9)
	assert.Zero(t, Ratio(1, 0))
	assert.Equal(t, 33.33, Round2(100.0/3))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, Pagination{Page: 1, PageSize: DefaultPageSize}, p)
	assert.Zero(t, p.Offset())

	p = Pagination{Page: 3, PageSize: 1000}
	assert.Equal(t, MaxPageSize, p.Limit())
	assert.Equal(t, 2*MaxPageSize, p.Offset())
}

func TestDaysBefore(t *testing.T) {
	asOf := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	w := DaysBefore(asOf, 30)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, asOf, w.To)
}

func TestEventConstructors(t *testing.T) {
	up := NewRiskChangedEvent("ST001", "low", "high", true)
	assert.Equal(t, EventRiskEscalated, up.EventType())
	assert.Equal(t, "ST001", up.AggregateID())
	assert.False(t, up.OccurredAt().IsZero())

	down := NewRiskChangedEvent("ST001", "high", "medium", false)
	assert.Equal(t, EventRiskDeescalated, down.EventType())

	done := NewEvaluationCompletedEvent("cycle-1", 10, 1, 2, 3, time.Second)
	assert.Equal(t, "cycle-1", done.AggregateID())
}
