package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

type ContextKey string

var (
	TenantIDCtx      ContextKey = "tenantID"
	SubjectCtx       ContextKey = "subject"
	DayPlanCtx       ContextKey = "dayPlan"
	ScheduleEventCtx ContextKey = "scheduleEvent"
)

func tenantFrom(r *http.Request) uuid.UUID {
	return r.Context().Value(TenantIDCtx).(uuid.UUID)
}

func dayPlanFrom(r *http.Request) *domain.DayPlan {
	return r.Context().Value(DayPlanCtx).(*domain.DayPlan)
}

func scheduleEventFrom(r *http.Request) *domain.ScheduleEvent {
	return r.Context().Value(ScheduleEventCtx).(*domain.ScheduleEvent)
}
