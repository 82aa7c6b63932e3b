package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

// testStore 验证所有 Store 实现都必须具备的行为
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"CreateDayPlanDefaults", testCreateDayPlanDefaults},
		{"DayPlanUniqueness", testDayPlanUniqueness},
		{"ListDayPlans", testListDayPlans},
		{"UpdateDayPlan", testUpdateDayPlan},
		{"UpdateDayPlanConcurrentPublish", testUpdateDayPlanConcurrentPublish},
		{"DeleteDayPlanCascades", testDeleteDayPlanCascades},
		{"TenantIsolation", testTenantIsolation},
		{"JobCeilingSequential", testJobCeilingSequential},
		{"JobCeilingConcurrent", testJobCeilingConcurrent},
		{"NonJobEventsUnlimited", testNonJobEventsUnlimited},
		{"EventValidation", testEventValidation},
		{"EventRoundTrip", testEventRoundTrip},
		{"EventOrdering", testEventOrdering},
		{"UpdateEventToJob", testUpdateEventToJob},
		{"UpdateEventStaleVersion", testUpdateEventStaleVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var planDate = domain.NewDate(2026, time.October, 17)

func mustCreatePlan(t *testing.T, s Store, tenantID, userID uuid.UUID, date domain.Date) *domain.DayPlan {
	t.Helper()
	plan := &domain.DayPlan{TenantID: tenantID, UserID: userID, PlanDate: date}
	require.NoError(t, s.CreateDayPlan(context.Background(), plan))
	return plan
}

func newJob(plan *domain.DayPlan, start time.Time) *domain.ScheduleEvent {
	jobID := uuid.New()
	return &domain.ScheduleEvent{
		TenantID:                 plan.TenantID,
		DayPlanID:                plan.ID,
		EventType:                domain.EventTypeJob,
		JobID:                    &jobID,
		ScheduledStart:           start,
		ScheduledDurationMinutes: 30,
	}
}

func newBreak(plan *domain.DayPlan, start time.Time) *domain.ScheduleEvent {
	return &domain.ScheduleEvent{
		TenantID:                 plan.TenantID,
		DayPlanID:                plan.ID,
		EventType:                domain.EventTypeBreak,
		ScheduledStart:           start,
		ScheduledDurationMinutes: 15,
	}
}

func hour(h int) time.Time {
	return time.Date(2026, 10, 17, h, 0, 0, 0, time.UTC)
}

func testCreateDayPlanDefaults(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	assert.NotEqual(t, uuid.Nil, plan.ID)
	assert.Equal(t, domain.DayPlanStatusDraft, plan.Status)
	assert.EqualValues(t, 1, plan.Version)
	assert.False(t, plan.CreatedAt.IsZero())

	got, err := s.GetDayPlanByID(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanDate.String(), got.PlanDate.String())
	assert.Nil(t, got.TotalDistanceKm)
	assert.Nil(t, got.RouteData)

	bad := &domain.DayPlan{TenantID: uuid.New(), UserID: uuid.New(), PlanDate: planDate, Status: "archived"}
	assert.ErrorIs(t, s.CreateDayPlan(ctx, bad), domain.ErrValidation)
}

func testDayPlanUniqueness(t *testing.T, s Store) {
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()
	mustCreatePlan(t, s, tenantID, userID, planDate)

	dup := &domain.DayPlan{TenantID: tenantID, UserID: userID, PlanDate: planDate}
	err := s.CreateDayPlan(ctx, dup)
	require.ErrorIs(t, err, domain.ErrConstraintViolation)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "planDate", derr.Field)

	// 其他坐标可以不同
	mustCreatePlan(t, s, tenantID, userID, planDate.AddDays(1))
	mustCreatePlan(t, s, tenantID, uuid.New(), planDate)
	mustCreatePlan(t, s, uuid.New(), userID, planDate)
}

func testListDayPlans(t *testing.T, s Store) {
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()
	for _, offset := range []int{2, 0, 1, 3} {
		mustCreatePlan(t, s, tenantID, userID, planDate.AddDays(offset))
	}
	mustCreatePlan(t, s, tenantID, uuid.New(), planDate)
	mustCreatePlan(t, s, uuid.New(), userID, planDate)

	plans, total, err := s.ListDayPlans(ctx, tenantID, domain.DayPlanFilter{UserID: &userID, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, plans, 3)
	for i, p := range plans {
		assert.Equal(t, planDate.AddDays(i).String(), p.PlanDate.String())
	}

	plans, _, err = s.ListDayPlans(ctx, tenantID, domain.DayPlanFilter{UserID: &userID, Limit: 3, Page: 2})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, planDate.AddDays(3).String(), plans[0].PlanDate.String())

	from, to := planDate.AddDays(1), planDate.AddDays(2)
	_, total, err = s.ListDayPlans(ctx, tenantID, domain.DayPlanFilter{DateFrom: &from, DateTo: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	plans, total, err = s.ListDayPlans(ctx, uuid.New(), domain.DayPlanFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, plans)
}

func testUpdateDayPlan(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	published := domain.DayPlanStatusPublished
	distance := 18.5
	updated, previous, err := s.UpdateDayPlan(ctx, plan.TenantID, plan.ID, &domain.DayPlanPatch{Status: &published, TotalDistanceKm: &distance})
	require.NoError(t, err)
	assert.Equal(t, domain.DayPlanStatusDraft, previous)
	assert.Equal(t, published, updated.Status)
	require.NotNil(t, updated.TotalDistanceKm)
	assert.Equal(t, distance, *updated.TotalDistanceKm)
	assert.EqualValues(t, 2, updated.Version)

	// 第二次更新不会影响未修改的字段
	minutes := int32(420)
	updated, previous, err = s.UpdateDayPlan(ctx, plan.TenantID, plan.ID, &domain.DayPlanPatch{EstimatedDurationMinutes: &minutes})
	require.NoError(t, err)
	assert.Equal(t, published, previous)
	assert.Equal(t, published, updated.Status)
	assert.Equal(t, distance, *updated.TotalDistanceKm)

	stale := int32(1)
	_, _, err = s.UpdateDayPlan(ctx, plan.TenantID, plan.ID, &domain.DayPlanPatch{Status: &published, Version: &stale})
	assert.ErrorIs(t, err, domain.ErrStaleVersion)

	bogus := domain.DayPlanStatus("archived")
	_, _, err = s.UpdateDayPlan(ctx, plan.TenantID, plan.ID, &domain.DayPlanPatch{Status: &bogus})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = s.UpdateDayPlan(ctx, plan.TenantID, uuid.New(), &domain.DayPlanPatch{Status: &published})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// 并发发布同一个计划时，只有一个调用方看到 draft -> published
func testUpdateDayPlanConcurrentPublish(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)
	published := domain.DayPlanStatusPublished

	const writers = 8
	previous := make(chan domain.DayPlanStatus, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, prev, err := s.UpdateDayPlan(ctx, plan.TenantID, plan.ID, &domain.DayPlanPatch{Status: &published})
			if !assert.NoError(t, err) {
				return
			}
			previous <- prev
		}()
	}
	wg.Wait()
	close(previous)

	transitions := 0
	for prev := range previous {
		if prev != published {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions)

	got, err := s.GetDayPlanByID(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1+writers, got.Version)
}

func testDeleteDayPlanCascades(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)
	event := newJob(plan, hour(9))
	require.NoError(t, s.CreateScheduleEvent(ctx, event))

	require.NoError(t, s.DeleteDayPlan(ctx, plan.TenantID, plan.ID))

	_, err := s.GetDayPlanByID(ctx, plan.TenantID, plan.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetScheduleEventByID(ctx, plan.TenantID, event.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDayPlan(ctx, plan.TenantID, plan.ID), domain.ErrNotFound)
}

func testTenantIsolation(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)
	event := newJob(plan, hour(9))
	require.NoError(t, s.CreateScheduleEvent(ctx, event))
	other := uuid.New()

	_, err := s.GetDayPlanByID(ctx, other, plan.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetScheduleEventByID(ctx, other, event.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteScheduleEvent(ctx, other, event.ID), domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDayPlan(ctx, other, plan.ID), domain.ErrNotFound)

	foreign := newJob(plan, hour(10))
	foreign.TenantID = other
	assert.ErrorIs(t, s.CreateScheduleEvent(ctx, foreign), domain.ErrNotFound)

	events, err := s.ListScheduleEventsByDayPlan(ctx, other, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testJobCeilingSequential(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	for i := 0; i < domain.MaxJobEventsPerPlan; i++ {
		require.NoError(t, s.CreateScheduleEvent(ctx, newJob(plan, hour(8+i))))
	}

	err := s.CreateScheduleEvent(ctx, newJob(plan, hour(16)))
	require.ErrorIs(t, err, domain.ErrLimitExceeded)

	count, err := s.CountJobEvents(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxJobEventsPerPlan, count)

	// 删除工单后会空出名额
	events, err := s.ListScheduleEventsByDayPlan(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteScheduleEvent(ctx, plan.TenantID, events[0].ID))
	require.NoError(t, s.CreateScheduleEvent(ctx, newJob(plan, hour(16))))
}

func testJobCeilingConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	const writers = 10
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.CreateScheduleEvent(ctx, newJob(plan, hour(8+i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	var created, limited int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrLimitExceeded):
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, domain.MaxJobEventsPerPlan, created)
	assert.Equal(t, writers-domain.MaxJobEventsPerPlan, limited)

	count, err := s.CountJobEvents(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxJobEventsPerPlan, count)
}

func testNonJobEventsUnlimited(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)
	for i := 0; i < domain.MaxJobEventsPerPlan; i++ {
		require.NoError(t, s.CreateScheduleEvent(ctx, newJob(plan, hour(8+i))))
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, s.CreateScheduleEvent(ctx, newBreak(plan, hour(8+i))))
	}

	events, err := s.ListScheduleEventsByDayPlan(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	assert.Len(t, events, domain.MaxJobEventsPerPlan+10)
}

func testEventValidation(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	tests := []struct {
		name   string
		mutate func(e *domain.ScheduleEvent)
		field  string
	}{
		{"job without job id", func(e *domain.ScheduleEvent) { e.JobID = nil }, "jobId"},
		{"break with job id", func(e *domain.ScheduleEvent) { e.EventType = domain.EventTypeBreak }, "jobId"},
		{"unknown type", func(e *domain.ScheduleEvent) { e.EventType = "lunch" }, "eventType"},
		{"negative duration", func(e *domain.ScheduleEvent) { e.ScheduledDurationMinutes = -1 }, "scheduledDurationMinutes"},
		{"missing start", func(e *domain.ScheduleEvent) { e.ScheduledStart = time.Time{} }, "scheduledStart"},
		{"point out of range", func(e *domain.ScheduleEvent) { e.LocationPoint = &domain.GeoPoint{Lng: 181, Lat: 0} }, "locationPoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newJob(plan, hour(9))
			tt.mutate(e)
			err := s.CreateScheduleEvent(ctx, e)
			require.ErrorIs(t, err, domain.ErrValidation)
			var derr *domain.Error
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.field, derr.Field)
		})
	}

	assert.ErrorIs(t, s.CreateScheduleEvent(ctx, newJob(&domain.DayPlan{ID: uuid.New(), TenantID: plan.TenantID}, hour(9))), domain.ErrNotFound)

	count, err := s.CountJobEvents(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testEventRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	denver := time.FixedZone("MDT", -6*60*60)
	address := "1437 Bannock St"
	event := newJob(plan, time.Date(2026, 10, 17, 8, 30, 0, 0, denver))
	event.LocationPoint = &domain.GeoPoint{Lng: -104.9903, Lat: 39.7392}
	event.Address = &address
	event.Metadata = []byte(`{"priority":"high"}`)
	require.NoError(t, s.CreateScheduleEvent(ctx, event))

	got, err := s.GetScheduleEventByID(ctx, plan.TenantID, event.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledStart.Equal(time.Date(2026, 10, 17, 14, 30, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, got.ScheduledStart.Location())
	require.NotNil(t, got.LocationPoint)
	assert.Equal(t, "POINT(-104.9903 39.7392)", got.LocationPoint.String())
	assert.Equal(t, *event.JobID, *got.JobID)
	assert.Equal(t, address, *got.Address)
	assert.Nil(t, got.Notes)
	assert.JSONEq(t, `{"priority":"high"}`, string(got.Metadata))
	assert.Equal(t, domain.EventStatusPending, got.Status)
	assert.EqualValues(t, 1, got.Version)
}

func testEventOrdering(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)

	specs := []struct {
		seq   int32
		start int
	}{{2, 9}, {1, 11}, {2, 8}, {0, 15}}
	for _, spec := range specs {
		e := newBreak(plan, hour(spec.start))
		e.SequenceOrder = spec.seq
		require.NoError(t, s.CreateScheduleEvent(ctx, e))
	}

	events, err := s.ListScheduleEventsByDayPlan(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)

	var got []int
	for _, e := range events {
		got = append(got, e.ScheduledStart.Hour())
	}
	assert.Equal(t, []int{15, 11, 8, 9}, got)
}

func testUpdateEventToJob(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)
	for i := 0; i < domain.MaxJobEventsPerPlan; i++ {
		require.NoError(t, s.CreateScheduleEvent(ctx, newJob(plan, hour(8+i))))
	}
	brk := newBreak(plan, hour(14))
	require.NoError(t, s.CreateScheduleEvent(ctx, brk))

	jobType := domain.EventTypeJob
	jobID := uuid.New()
	_, err := s.UpdateScheduleEvent(ctx, plan.TenantID, brk.ID, &domain.ScheduleEventPatch{EventType: &jobType, JobID: &jobID})
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	// 达到上限时仍然可以修改已有的工单
	events, err := s.ListScheduleEventsByDayPlan(ctx, plan.TenantID, plan.ID)
	require.NoError(t, err)
	var job *domain.ScheduleEvent
	for _, e := range events {
		if e.IsJob() {
			job = e
			break
		}
	}
	require.NotNil(t, job)
	minutes := int32(60)
	updated, err := s.UpdateScheduleEvent(ctx, plan.TenantID, job.ID, &domain.ScheduleEventPatch{ScheduledDurationMinutes: &minutes})
	require.NoError(t, err)
	assert.EqualValues(t, 60, updated.ScheduledDurationMinutes)

	// 把它改成休息后，原来的休息事件可以改成工单
	breakType := domain.EventTypeBreak
	_, err = s.UpdateScheduleEvent(ctx, plan.TenantID, job.ID, &domain.ScheduleEventPatch{EventType: &breakType})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.UpdateScheduleEvent(ctx, plan.TenantID, job.ID, &domain.ScheduleEventPatch{EventType: &breakType, ClearJobID: true})
	require.NoError(t, err)
	_, err = s.UpdateScheduleEvent(ctx, plan.TenantID, brk.ID, &domain.ScheduleEventPatch{EventType: &jobType, JobID: &jobID})
	require.NoError(t, err)
}

func testUpdateEventStaleVersion(t *testing.T, s Store) {
	ctx := context.Background()
	plan := mustCreatePlan(t, s, uuid.New(), uuid.New(), planDate)
	event := newBreak(plan, hour(9))
	require.NoError(t, s.CreateScheduleEvent(ctx, event))

	notes := "gate code 4411"
	version := event.Version
	updated, err := s.UpdateScheduleEvent(ctx, plan.TenantID, event.ID, &domain.ScheduleEventPatch{Notes: &notes, Version: &version})
	require.NoError(t, err)
	assert.Equal(t, version+1, updated.Version)

	_, err = s.UpdateScheduleEvent(ctx, plan.TenantID, event.ID, &domain.ScheduleEventPatch{Notes: &notes, Version: &version})
	assert.ErrorIs(t, err, domain.ErrStaleVersion)

	_, err = s.UpdateScheduleEvent(ctx, plan.TenantID, uuid.New(), &domain.ScheduleEventPatch{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
