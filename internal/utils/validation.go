package utils

import (
	"slices"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

func ValidateDayPlanStatus(status domain.DayPlanStatus) error {
	if !slices.Contains(domain.DayPlanStatuses, status) {
		return domain.NewValidationError("status", "未知的日计划状态 %q", status)
	}
	return nil
}

func ValidateEventType(t domain.EventType) error {
	if !slices.Contains(domain.EventTypes, t) {
		return domain.NewValidationError("eventType", "未知的事件类型 %q", t)
	}
	return nil
}

func ValidateEventStatus(status domain.EventStatus) error {
	if !slices.Contains(domain.EventStatuses, status) {
		return domain.NewValidationError("status", "未知的事件状态 %q", status)
	}
	return nil
}

func ValidateDayPlan(plan *domain.DayPlan) error {
	if plan.TenantID == uuid.Nil {
		return domain.NewValidationError("tenantId", "租户ID不能为空")
	}
	if plan.UserID == uuid.Nil {
		return domain.NewValidationError("userId", "用户ID不能为空")
	}
	if plan.PlanDate.IsZero() {
		return domain.NewValidationError("planDate", "计划日期不能为空")
	}
	if err := ValidateDayPlanStatus(plan.Status); err != nil {
		return err
	}
	if plan.TotalDistanceKm != nil && *plan.TotalDistanceKm < 0 {
		return domain.NewValidationError("totalDistanceKm", "总距离不能为负数")
	}
	if plan.EstimatedDurationMinutes != nil && *plan.EstimatedDurationMinutes < 0 {
		return domain.NewValidationError("estimatedDurationMinutes", "预计时长不能为负数")
	}
	return nil
}

func ValidateScheduleEvent(event *domain.ScheduleEvent) error {
	if event.TenantID == uuid.Nil {
		return domain.NewValidationError("tenantId", "租户ID不能为空")
	}
	if event.DayPlanID == uuid.Nil {
		return domain.NewValidationError("dayPlanId", "日计划ID不能为空")
	}
	if err := ValidateEventType(event.EventType); err != nil {
		return err
	}
	if err := ValidateEventStatus(event.Status); err != nil {
		return err
	}

	// 工单事件必须关联工单，其他类型不能关联
	if event.IsJob() && (event.JobID == nil || *event.JobID == uuid.Nil) {
		return domain.NewValidationError("jobId", "工单事件必须关联工单")
	}
	if !event.IsJob() && event.JobID != nil {
		return domain.NewValidationError("jobId", "%s 事件不能关联工单", event.EventType)
	}

	if event.ScheduledStart.IsZero() {
		return domain.NewValidationError("scheduledStart", "开始时间不能为空")
	}
	if event.ScheduledDurationMinutes < 0 {
		return domain.NewValidationError("scheduledDurationMinutes", "时长不能为负数")
	}
	if event.LocationPoint != nil {
		if err := event.LocationPoint.Validate(); err != nil {
			return err
		}
	}
	return nil
}
