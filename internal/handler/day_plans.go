package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

func (h *Handler) CreateDayPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID                 *uuid.UUID            `json:"tenantId"`
		UserID                   uuid.UUID             `json:"userId" validate:"required"`
		PlanDate                 *domain.Date          `json:"planDate" validate:"required"`
		Status                   *domain.DayPlanStatus `json:"status" validate:"omitempty,oneof=draft published in_progress completed cancelled"`
		TotalDistanceKm          *float64              `json:"totalDistanceKm" validate:"omitempty,gte=0"`
		EstimatedDurationMinutes *int32                `json:"estimatedDurationMinutes" validate:"omitempty,gte=0"`
		RouteData                json.RawMessage       `json:"routeData"`
		VoiceSessionID           *string               `json:"voiceSessionId"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	tenantID := tenantFrom(r)
	if req.TenantID != nil && *req.TenantID != tenantID {
		h.badRequest(w, r, domain.NewValidationError("tenantId", "租户ID与调用者不一致"))
		return
	}

	plan := &domain.DayPlan{
		TenantID:                 tenantID,
		UserID:                   req.UserID,
		PlanDate:                 *req.PlanDate,
		TotalDistanceKm:          req.TotalDistanceKm,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		RouteData:                req.RouteData,
		VoiceSessionID:           req.VoiceSessionID,
	}
	if req.Status != nil {
		plan.Status = *req.Status
	}

	if err := h.repository.CreateDayPlan(r.Context(), plan); err != nil {
		h.domainError(w, r, err)
		return
	}

	h.createdResponse(w, r, "创建日计划成功", plan)
}

type dayPlanPage struct {
	Plans []*domain.DayPlan `json:"plans"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func (h *Handler) ListDayPlans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.DayPlanFilter{}

	if v := query.Get("userId"); v != "" {
		userID, err := uuid.Parse(v)
		if err != nil {
			h.badRequest(w, r, domain.NewValidationError("userId", "用户ID %q 无效", v))
			return
		}
		filter.UserID = &userID
	}
	for _, p := range []struct {
		name string
		dst  **domain.Date
	}{{"dateFrom", &filter.DateFrom}, {"dateTo", &filter.DateTo}} {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		d, err := domain.ParseDate(v)
		if err != nil {
			h.badRequest(w, r, domain.NewValidationError(p.name, "日期 %q 无效，格式应为 YYYY-MM-DD", v))
			return
		}
		*p.dst = &d
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &filter.Page}, {"limit", &filter.Limit}} {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.badRequest(w, r, domain.NewValidationError(p.name, "%s 必须是正整数", p.name))
			return
		}
		*p.dst = n
	}
	filter.Normalize()

	plans, total, err := h.repository.ListDayPlans(r.Context(), tenantFrom(r), filter)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	if plans == nil {
		plans = []*domain.DayPlan{}
	}

	h.successResponse(w, r, "获取日计划列表成功", dayPlanPage{
		Plans: plans,
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	})
}

func (h *Handler) GetDayPlan(w http.ResponseWriter, r *http.Request) {
	h.successResponse(w, r, "获取日计划成功", dayPlanFrom(r))
}

func (h *Handler) UpdateDayPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status                   *domain.DayPlanStatus `json:"status" validate:"omitempty,oneof=draft published in_progress completed cancelled"`
		TotalDistanceKm          *float64              `json:"totalDistanceKm" validate:"omitempty,gte=0"`
		EstimatedDurationMinutes *int32                `json:"estimatedDurationMinutes" validate:"omitempty,gte=0"`
		RouteData                json.RawMessage       `json:"routeData"`
		VoiceSessionID           *string               `json:"voiceSessionId"`
		Version                  *int32                `json:"version" validate:"omitempty,gte=1"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	current := dayPlanFrom(r)
	patch := &domain.DayPlanPatch{
		Status:                   req.Status,
		TotalDistanceKm:          req.TotalDistanceKm,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		RouteData:                req.RouteData,
		VoiceSessionID:           req.VoiceSessionID,
		Version:                  req.Version,
	}

	plan, previous, err := h.repository.UpdateDayPlan(r.Context(), current.TenantID, current.ID, patch)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	// 中间件读到的计划可能已经过时，是否发生状态转换以仓储在锁内读到的状态为准
	if previous != domain.DayPlanStatusPublished && plan.Status == domain.DayPlanStatusPublished {
		h.dispatchPublished(r.Context(), plan)
	}

	h.successResponse(w, r, "更新日计划成功", plan)
}

func (h *Handler) DeleteDayPlan(w http.ResponseWriter, r *http.Request) {
	plan := dayPlanFrom(r)

	if err := h.repository.DeleteDayPlan(r.Context(), plan.TenantID, plan.ID); err != nil {
		h.domainError(w, r, err)
		return
	}
	h.invalidateConflicts(r.Context(), plan.TenantID, plan.ID)

	h.successResponse(w, r, "删除日计划成功", nil)
}

// dispatchPublished 向调度台发送派单通知。此时计划已经发布，失败只记录日志
func (h *Handler) dispatchPublished(ctx context.Context, plan *domain.DayPlan) {
	if h.dispatcher == nil {
		return
	}

	events, err := h.repository.ListScheduleEventsByDayPlan(ctx, plan.TenantID, plan.ID)
	if err != nil {
		slog.Error("无法读取派单所需的日程事件", "dayPlanID", plan.ID, "error", err)
		return
	}

	msg := &domain.DispatchMessage{
		Type:      domain.DispatchMessageTypePlanPublished,
		TenantID:  plan.TenantID,
		DayPlanID: plan.ID,
		UserID:    plan.UserID,
		PlanDate:  plan.PlanDate,
		Events:    len(events),
	}
	for _, e := range events {
		if e.IsJob() {
			msg.JobCount++
		}
		if msg.FirstStop.IsZero() || e.ScheduledStart.Before(msg.FirstStop) {
			msg.FirstStop = e.ScheduledStart
		}
	}

	if err := h.dispatcher.PublishDispatch(ctx, msg); err != nil {
		slog.Error("无法发送派单消息", "dayPlanID", plan.ID, "error", err)
		return
	}
	slog.Info("已发送日计划派单消息", "dayPlanID", plan.ID, "jobs", msg.JobCount)
}
