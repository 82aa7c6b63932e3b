package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

func validEvent() *domain.ScheduleEvent {
	jobID := uuid.New()
	return &domain.ScheduleEvent{
		TenantID:                 uuid.New(),
		DayPlanID:                uuid.New(),
		EventType:                domain.EventTypeJob,
		JobID:                    &jobID,
		ScheduledStart:           time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		ScheduledDurationMinutes: 0,
		Status:                   domain.EventStatusPending,
	}
}

func TestValidateScheduleEvent(t *testing.T) {
	require.NoError(t, ValidateScheduleEvent(validEvent()))

	tests := []struct {
		name   string
		mutate func(e *domain.ScheduleEvent)
		field  string
	}{
		{"no tenant", func(e *domain.ScheduleEvent) { e.TenantID = uuid.Nil }, "tenantId"},
		{"no plan", func(e *domain.ScheduleEvent) { e.DayPlanID = uuid.Nil }, "dayPlanId"},
		{"empty type", func(e *domain.ScheduleEvent) { e.EventType = "" }, "eventType"},
		{"unknown status", func(e *domain.ScheduleEvent) { e.Status = "done" }, "status"},
		{"job without job id", func(e *domain.ScheduleEvent) { e.JobID = nil }, "jobId"},
		{"job with nil uuid", func(e *domain.ScheduleEvent) { e.JobID = &uuid.Nil }, "jobId"},
		{"meeting with job id", func(e *domain.ScheduleEvent) { e.EventType = domain.EventTypeMeeting }, "jobId"},
		{"zero start", func(e *domain.ScheduleEvent) { e.ScheduledStart = time.Time{} }, "scheduledStart"},
		{"negative duration", func(e *domain.ScheduleEvent) { e.ScheduledDurationMinutes = -10 }, "scheduledDurationMinutes"},
		{"bad point", func(e *domain.ScheduleEvent) { e.LocationPoint = &domain.GeoPoint{Lng: 0, Lat: 91} }, "locationPoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			err := ValidateScheduleEvent(e)
			require.ErrorIs(t, err, domain.ErrValidation)
			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.field, derr.Field)
		})
	}
}

func TestValidateScheduleEvent_NonJobTypes(t *testing.T) {
	for _, typ := range domain.EventTypes {
		if typ == domain.EventTypeJob {
			continue
		}
		e := validEvent()
		e.EventType = typ
		e.JobID = nil
		assert.NoError(t, ValidateScheduleEvent(e), typ)
	}
}

func TestValidateDayPlan(t *testing.T) {
	plan := func() *domain.DayPlan {
		return &domain.DayPlan{
			TenantID: uuid.New(),
			UserID:   uuid.New(),
			PlanDate: domain.NewDate(2026, time.October, 17),
			Status:   domain.DayPlanStatusDraft,
		}
	}
	require.NoError(t, ValidateDayPlan(plan()))

	p := plan()
	p.Status = "archived"
	assert.ErrorIs(t, ValidateDayPlan(p), domain.ErrValidation)

	p = plan()
	p.PlanDate = domain.Date{}
	assert.ErrorIs(t, ValidateDayPlan(p), domain.ErrValidation)

	p = plan()
	negative := -1.5
	p.TotalDistanceKm = &negative
	assert.ErrorIs(t, ValidateDayPlan(p), domain.ErrValidation)
}
