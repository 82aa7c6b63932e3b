package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

var day = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func event(start time.Time, minutes int32) *domain.ScheduleEvent {
	return &domain.ScheduleEvent{
		ID:                       uuid.New(),
		EventType:                domain.EventTypeBreak,
		ScheduledStart:           start,
		ScheduledDurationMinutes: minutes,
	}
}

func located(start time.Time, minutes int32, lng, lat float64) *domain.ScheduleEvent {
	e := event(start, minutes)
	e.LocationPoint = &domain.GeoPoint{Lng: lng, Lat: lat}
	return e
}

// fixedEstimator 对任意两点都返回相同的时长
type fixedEstimator struct {
	minutes float64
	err     error
	calls   int
}

func (f *fixedEstimator) EstimateTravelMinutes(_ context.Context, _, _ domain.GeoPoint) (float64, error) {
	f.calls++
	return f.minutes, f.err
}

func TestDetectTimeOverlaps_OverlappingPair(t *testing.T) {
	a := event(at(9, 0), 60)
	b := event(at(9, 30), 60)

	conflicts := New(nil).DetectTimeOverlaps([]*domain.ScheduleEvent{a, b})

	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictTimeOverlap, conflicts[0].Kind)
	assert.Equal(t, [2]uuid.UUID{a.ID, b.ID}, conflicts[0].EventIDs)
	assert.InDelta(t, 30, conflicts[0].OverlapMinutes, 1e-9)
}

func TestDetectTimeOverlaps_TouchingEndpoints(t *testing.T) {
	a := event(at(9, 0), 60)
	c := event(at(10, 0), 60)

	conflicts := New(nil).DetectTimeOverlaps([]*domain.ScheduleEvent{a, c})

	assert.Empty(t, conflicts)
}

func TestDetectTimeOverlaps_ZeroDurationMarker(t *testing.T) {
	a := event(at(9, 0), 60)
	marker := event(at(9, 30), 0)

	conflicts := New(nil).DetectTimeOverlaps([]*domain.ScheduleEvent{a, marker})

	assert.Empty(t, conflicts)
}

func TestDetectTimeOverlaps_AllPairs(t *testing.T) {
	// 同一时段的三个事件两两冲突
	a := event(at(13, 0), 60)
	b := event(at(13, 15), 30)
	c := event(at(13, 45), 60)

	conflicts := New(nil).DetectTimeOverlaps([]*domain.ScheduleEvent{a, b, c})

	require.Len(t, conflicts, 2)
	assert.Equal(t, [2]uuid.UUID{a.ID, b.ID}, conflicts[0].EventIDs)
	assert.Equal(t, [2]uuid.UUID{a.ID, c.ID}, conflicts[1].EventIDs)
}

func TestDetectTimeOverlaps_PastMidnight(t *testing.T) {
	late := event(at(23, 0), 120)
	early := event(at(24, 30), 30)

	conflicts := New(nil).DetectTimeOverlaps([]*domain.ScheduleEvent{late, early})

	require.Len(t, conflicts, 1)
}

func TestDetectTimeOverlaps_SkipsEventsWithoutStart(t *testing.T) {
	a := event(at(9, 0), 60)
	broken := event(time.Time{}, 600)

	conflicts := New(nil).DetectTimeOverlaps([]*domain.ScheduleEvent{a, broken, nil})

	assert.Empty(t, conflicts)
}

func TestDetectTravelTimeConflicts_InsufficientGap(t *testing.T) {
	est := &fixedEstimator{minutes: 25}
	a := located(at(9, 0), 60, -104.99, 39.74)
	b := located(at(10, 10), 60, -105.27, 40.01)

	conflicts := New(est).DetectTravelTimeConflicts(context.Background(), []*domain.ScheduleEvent{b, a})

	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, ConflictTravelTime, c.Kind)
	assert.Equal(t, [2]uuid.UUID{a.ID, b.ID}, c.EventIDs)
	assert.InDelta(t, 10, c.AvailableMinutes, 1e-9)
	assert.InDelta(t, 25, c.RequiredMinutes, 1e-9)
	assert.Contains(t, c.Message, "路程时间不足")
}

func TestDetectTravelTimeConflicts_EnoughGap(t *testing.T) {
	est := &fixedEstimator{minutes: 25}
	a := located(at(9, 0), 60, -104.99, 39.74)
	b := located(at(10, 30), 60, -105.27, 40.01)

	conflicts := New(est).DetectTravelTimeConflicts(context.Background(), []*domain.ScheduleEvent{a, b})

	assert.Empty(t, conflicts)
}

func TestDetectTravelTimeConflicts_IgnoresUnlocatedEvents(t *testing.T) {
	est := &fixedEstimator{minutes: 25}
	a := located(at(9, 0), 60, -104.99, 39.74)
	drive := event(at(10, 0), 10)
	b := located(at(10, 10), 60, -105.27, 40.01)

	conflicts := New(est).DetectTravelTimeConflicts(context.Background(), []*domain.ScheduleEvent{a, drive, b})

	require.Len(t, conflicts, 1)
	assert.Equal(t, [2]uuid.UUID{a.ID, b.ID}, conflicts[0].EventIDs)
	assert.Equal(t, 1, est.calls)
}

func TestDetectTravelTimeConflicts_EstimatorFailureSkipsPair(t *testing.T) {
	est := &fixedEstimator{err: errors.New("routing down")}
	a := located(at(9, 0), 60, -104.99, 39.74)
	b := located(at(10, 0), 60, -105.27, 40.01)

	conflicts := New(est).DetectTravelTimeConflicts(context.Background(), []*domain.ScheduleEvent{a, b})

	assert.Empty(t, conflicts)
}

func TestDetectTravelTimeConflicts_SamePlace(t *testing.T) {
	a := located(at(9, 0), 60, -104.99, 39.74)
	b := located(at(10, 0), 60, -104.99, 39.74)

	conflicts := New(nil).DetectTravelTimeConflicts(context.Background(), []*domain.ScheduleEvent{a, b})

	assert.Empty(t, conflicts)
}

func TestAnalyze_ReportsSkippedEvents(t *testing.T) {
	a := event(at(9, 0), 60)
	b := event(at(9, 30), 60)
	broken := event(time.Time{}, 30)

	report := New(nil).Analyze(context.Background(), []*domain.ScheduleEvent{a, b, broken})

	assert.True(t, report.HasConflicts())
	assert.Len(t, report.Overlaps, 1)
	assert.Empty(t, report.TravelConflicts)
	assert.Equal(t, []uuid.UUID{broken.ID}, report.Skipped)
}

func TestAnalyze_Empty(t *testing.T) {
	report := New(nil).Analyze(context.Background(), nil)

	assert.False(t, report.HasConflicts())
	assert.NotNil(t, report.Overlaps)
	assert.NotNil(t, report.TravelConflicts)
	assert.NotNil(t, report.Skipped)
}
