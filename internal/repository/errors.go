package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

// 迁移文件中定义的约束名
const (
	constraintDayPlanUnique       = "day_plans_tenant_user_date_key"
	constraintEventDayPlanFK      = "schedule_events_day_plan_id_fkey"
	constraintEventJobReference   = "schedule_events_job_reference_check"
	constraintEventJobCeiling     = "schedule_events_job_ceiling"
	constraintEventLocationPair   = "schedule_events_location_pair_check"
	constraintEventDurationNonNeg = "schedule_events_scheduled_duration_minutes_check"
)

// SQLSTATE 错误码
const (
	codeCheckViolation   = "23514"
	codeInvalidTextRepr  = "22P02"
	codeNumericOutOfRnge = "22003"
)

// translateError 把 Postgres 错误映射为领域错误，无法识别的错误原样返回，由调用方当作临时错误处理
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.ConstraintName {
	case constraintDayPlanUnique:
		return &domain.Error{Kind: domain.ErrConstraintViolation, Field: "planDate", Message: "该用户在这一天已经有日计划"}
	case constraintEventDayPlanFK:
		return &domain.Error{Kind: domain.ErrNotFound, Field: "dayPlanId", Message: "日计划不存在"}
	case constraintEventJobCeiling:
		return jobCeilingError()
	case constraintEventJobReference:
		return domain.NewValidationError("jobId", "工单事件必须关联工单，其他事件不能关联工单")
	case constraintEventLocationPair:
		return domain.NewValidationError("locationPoint", "经度和纬度必须同时设置")
	case constraintEventDurationNonNeg:
		return domain.NewValidationError("scheduledDurationMinutes", "时长不能为负数")
	}

	switch pgErr.Code {
	case codeCheckViolation, codeInvalidTextRepr, codeNumericOutOfRnge:
		return domain.NewValidationError(pgErr.ColumnName, "%s", pgErr.Message)
	}

	return err
}

func jobCeilingError() error {
	return &domain.Error{
		Kind:    domain.ErrLimitExceeded,
		Field:   "eventType",
		Message: fmt.Sprintf("一个日计划最多只能有 %d 个工单事件", domain.MaxJobEventsPerPlan),
	}
}
