package handler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/export"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/scheduler"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	plan := dayPlanFrom(r)

	// 代数必须在读取事件之前取得，期间有写入时这次的结果会落在旧代数下
	cacheable := false
	var gen int64
	if h.conflictCache != nil {
		var err error
		gen, err = h.conflictCache.Generation(r.Context(), plan.TenantID, plan.ID)
		if err != nil {
			slog.Warn("读取冲突缓存代数失败", "dayPlanID", plan.ID, "error", err)
		} else {
			cacheable = true
			report, err := h.conflictCache.Get(r.Context(), plan.TenantID, plan.ID, gen)
			if err != nil {
				slog.Warn("读取冲突缓存失败", "dayPlanID", plan.ID, "error", err)
			} else if report != nil {
				h.successResponse(w, r, "获取冲突报告成功", report)
				return
			}
		}
	}

	_, report, err := h.analyze(r.Context(), plan)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	if cacheable {
		if err := h.conflictCache.Set(r.Context(), plan.TenantID, plan.ID, gen, report); err != nil {
			slog.Warn("写入冲突缓存失败", "dayPlanID", plan.ID, "error", err)
		}
	}

	h.successResponse(w, r, "获取冲突报告成功", report)
}

func (h *Handler) ExportRouteSheet(w http.ResponseWriter, r *http.Request) {
	plan := dayPlanFrom(r)

	events, report, err := h.analyze(r.Context(), plan)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	// 先渲染到内存，失败时仍然可以返回 JSON 错误
	var buf bytes.Buffer
	if err := export.WriteRouteSheet(&buf, plan, events, report); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="day-plan-%s.xlsx"`, plan.PlanDate))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logInternalServerError(r, err)
	}
}

func (h *Handler) analyze(ctx context.Context, plan *domain.DayPlan) ([]*domain.ScheduleEvent, *scheduler.Report, error) {
	events, err := h.repository.ListScheduleEventsByDayPlan(ctx, plan.TenantID, plan.ID)
	if err != nil {
		return nil, nil, err
	}

	report := h.conflicts.Analyze(ctx, events)
	if h.metrics != nil {
		h.metrics.ObserveConflictCheck(len(report.Overlaps), len(report.TravelConflicts))
	}
	return events, report, nil
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.successResponse(w, r, "ok", nil)
}
