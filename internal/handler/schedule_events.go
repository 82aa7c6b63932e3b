package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

func (h *Handler) CreateScheduleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID                 *uuid.UUID          `json:"tenantId"`
		DayPlanID                uuid.UUID           `json:"dayPlanId" validate:"required"`
		EventType                domain.EventType    `json:"eventType" validate:"required,oneof=job break travel maintenance meeting"`
		JobID                    *uuid.UUID          `json:"jobId"`
		SequenceOrder            int32               `json:"sequenceOrder"`
		ScheduledStart           time.Time           `json:"scheduledStart" validate:"required"`
		ScheduledDurationMinutes *int32              `json:"scheduledDurationMinutes" validate:"required,gte=0"`
		Status                   *domain.EventStatus `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
		LocationPoint            *domain.GeoPoint    `json:"locationPoint"`
		Address                  *string             `json:"address"`
		Notes                    *string             `json:"notes"`
		Metadata                 json.RawMessage     `json:"metadata"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.observeEventWrite(req.EventType, err)
		h.badRequest(w, r, err)
		return
	}

	tenantID := tenantFrom(r)
	if req.TenantID != nil && *req.TenantID != tenantID {
		h.badRequest(w, r, domain.NewValidationError("tenantId", "租户ID与调用者不一致"))
		return
	}

	event := &domain.ScheduleEvent{
		TenantID:                 tenantID,
		DayPlanID:                req.DayPlanID,
		EventType:                req.EventType,
		JobID:                    req.JobID,
		SequenceOrder:            req.SequenceOrder,
		ScheduledStart:           req.ScheduledStart.UTC(),
		ScheduledDurationMinutes: *req.ScheduledDurationMinutes,
		LocationPoint:            req.LocationPoint,
		Address:                  req.Address,
		Notes:                    req.Notes,
		Metadata:                 req.Metadata,
	}
	if req.Status != nil {
		event.Status = *req.Status
	}

	err := h.repository.CreateScheduleEvent(r.Context(), event)
	h.observeEventWrite(event.EventType, err)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.invalidateConflicts(r.Context(), tenantID, event.DayPlanID)

	h.createdResponse(w, r, "创建日程事件成功", event)
}

func (h *Handler) ListScheduleEvents(w http.ResponseWriter, r *http.Request) {
	plan := dayPlanFrom(r)

	events, err := h.repository.ListScheduleEventsByDayPlan(r.Context(), plan.TenantID, plan.ID)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.ScheduleEvent{}
	}

	h.successResponse(w, r, "获取日程事件列表成功", events)
}

type jobEventCount struct {
	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// GetJobEventCount 的结果仅供参考，其他请求抢先占用最后一个名额时创建仍可能被拒绝
func (h *Handler) GetJobEventCount(w http.ResponseWriter, r *http.Request) {
	plan := dayPlanFrom(r)

	count, err := h.repository.CountJobEvents(r.Context(), plan.TenantID, plan.ID)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取工单数量成功", jobEventCount{
		Count:     count,
		Limit:     domain.MaxJobEventsPerPlan,
		Remaining: max(domain.MaxJobEventsPerPlan-count, 0),
	})
}

func (h *Handler) GetScheduleEvent(w http.ResponseWriter, r *http.Request) {
	h.successResponse(w, r, "获取日程事件成功", scheduleEventFrom(r))
}

func (h *Handler) UpdateScheduleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType                *domain.EventType   `json:"eventType" validate:"omitempty,oneof=job break travel maintenance meeting"`
		JobID                    *uuid.UUID          `json:"jobId"`
		ClearJobID               bool                `json:"clearJobId"`
		SequenceOrder            *int32              `json:"sequenceOrder"`
		ScheduledStart           *time.Time          `json:"scheduledStart"`
		ScheduledDurationMinutes *int32              `json:"scheduledDurationMinutes" validate:"omitempty,gte=0"`
		Status                   *domain.EventStatus `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
		LocationPoint            *domain.GeoPoint    `json:"locationPoint"`
		Address                  *string             `json:"address"`
		Notes                    *string             `json:"notes"`
		Metadata                 json.RawMessage     `json:"metadata"`
		Version                  *int32              `json:"version" validate:"omitempty,gte=1"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	current := scheduleEventFrom(r)
	patch := &domain.ScheduleEventPatch{
		EventType:                req.EventType,
		JobID:                    req.JobID,
		ClearJobID:               req.ClearJobID,
		SequenceOrder:            req.SequenceOrder,
		ScheduledStart:           req.ScheduledStart,
		ScheduledDurationMinutes: req.ScheduledDurationMinutes,
		Status:                   req.Status,
		LocationPoint:            req.LocationPoint,
		Address:                  req.Address,
		Notes:                    req.Notes,
		Metadata:                 req.Metadata,
		Version:                  req.Version,
	}

	event, err := h.repository.UpdateScheduleEvent(r.Context(), current.TenantID, current.ID, patch)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.invalidateConflicts(r.Context(), event.TenantID, event.DayPlanID)

	h.successResponse(w, r, "更新日程事件成功", event)
}

func (h *Handler) DeleteScheduleEvent(w http.ResponseWriter, r *http.Request) {
	event := scheduleEventFrom(r)

	if err := h.repository.DeleteScheduleEvent(r.Context(), event.TenantID, event.ID); err != nil {
		h.domainError(w, r, err)
		return
	}
	h.invalidateConflicts(r.Context(), event.TenantID, event.DayPlanID)

	h.successResponse(w, r, "删除日程事件成功", nil)
}

func (h *Handler) observeEventWrite(eventType domain.EventType, err error) {
	if h.metrics == nil {
		return
	}

	var outcome string
	var validationErrors validator.ValidationErrors
	switch {
	case err == nil:
		outcome = "created"
	case errors.Is(err, domain.ErrLimitExceeded):
		outcome = "limit_exceeded"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound), errors.As(err, &validationErrors):
		outcome = "invalid"
	default:
		outcome = "failed"
	}
	// 限制标签取值的数量
	if !slices.Contains(domain.EventTypes, eventType) {
		eventType = "unknown"
	}
	h.metrics.ObserveEventWrite(string(eventType), outcome)
}

func (h *Handler) invalidateConflicts(ctx context.Context, tenantID, dayPlanID uuid.UUID) {
	if h.conflictCache == nil {
		return
	}
	if err := h.conflictCache.Invalidate(ctx, tenantID, dayPlanID); err != nil {
		slog.Warn("使冲突缓存失效失败", "dayPlanID", dayPlanID, "error", err)
	}
}
