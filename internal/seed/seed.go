// Package seed 把调度看板导出的 CSV 中的日计划和日程事件导入到 Store
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/repository"
)

const (
	ColumnUserID         = "user_id"
	ColumnPlanDate       = "plan_date"
	ColumnEventType      = "event_type"
	ColumnJobID          = "job_id"
	ColumnScheduledStart = "scheduled_start"
	ColumnDuration       = "duration_minutes"
	ColumnStatus         = "status"
	ColumnLocation       = "location"
	ColumnAddress        = "address"
	ColumnNotes          = "notes"
)

var requiredColumns = []string{
	ColumnUserID,
	ColumnPlanDate,
	ColumnEventType,
	ColumnScheduledStart,
	ColumnDuration,
}

type Result struct {
	PlansCreated  int
	EventsCreated int
	RowsSkipped   int
}

type planKey struct {
	userID uuid.UUID
	date   string
}

type planState struct {
	plan     *domain.DayPlan
	sequence int32
}

// ImportCSV 按文件顺序为 tenantID 的每一行创建一个事件。日计划按 (user_id, plan_date) 查找，
// 不存在时创建。不合法的行只记录日志并跳过，只有读取失败或表头损坏才会中止导入
func ImportCSV(ctx context.Context, store repository.Store, tenantID uuid.UUID, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(headers[i]))
	}
	for _, col := range requiredColumns {
		if !slices.Contains(headers, col) {
			return nil, fmt.Errorf("缺少列 %q", col)
		}
	}

	result := &Result{}
	plans := make(map[planKey]*planState)
	line := 1

	for {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("read line %d: %w", line+1, err)
		}
		line++

		record := make(map[string]string, len(headers))
		for i, value := range row {
			if i < len(headers) {
				record[headers[i]] = strings.TrimSpace(value)
			}
		}

		key, err := parsePlanKey(record)
		if err != nil {
			slog.Warn("跳过不合法的行", "line", line, "error", err)
			result.RowsSkipped++
			continue
		}

		state, ok := plans[key]
		if !ok {
			state, err = loadOrCreatePlan(ctx, store, tenantID, key, result)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				slog.Warn("跳过不合法的行", "line", line, "error", err)
				result.RowsSkipped++
				continue
			}
			plans[key] = state
		}

		event, err := parseEvent(record)
		if err != nil {
			slog.Warn("跳过不合法的行", "line", line, "error", err)
			result.RowsSkipped++
			continue
		}
		event.TenantID = tenantID
		event.DayPlanID = state.plan.ID
		event.SequenceOrder = state.sequence + 1

		if err := store.CreateScheduleEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Warn("跳过不合法的行", "line", line, "error", err)
			result.RowsSkipped++
			continue
		}
		state.sequence++
		result.EventsCreated++
	}

	slog.Info("CSV 导入完成",
		"plans", result.PlansCreated,
		"events", result.EventsCreated,
		"skipped", result.RowsSkipped,
	)
	return result, nil
}

func parsePlanKey(record map[string]string) (planKey, error) {
	userID, err := uuid.Parse(record[ColumnUserID])
	if err != nil {
		return planKey{}, domain.NewValidationError("userId", "用户ID %q 无效", record[ColumnUserID])
	}
	date, err := domain.ParseDate(record[ColumnPlanDate])
	if err != nil {
		return planKey{}, domain.NewValidationError("planDate", "%s", err)
	}
	return planKey{userID: userID, date: date.String()}, nil
}

func loadOrCreatePlan(ctx context.Context, store repository.Store, tenantID uuid.UUID, key planKey, result *Result) (*planState, error) {
	date, _ := domain.ParseDate(key.date)
	userID := key.userID

	existing, _, err := store.ListDayPlans(ctx, tenantID, domain.DayPlanFilter{
		UserID:   &userID,
		DateFrom: &date,
		DateTo:   &date,
	})
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		plan := existing[0]
		events, err := store.ListScheduleEventsByDayPlan(ctx, tenantID, plan.ID)
		if err != nil {
			return nil, err
		}
		// 追加在计划已有的事件之后
		var seq int32
		for _, e := range events {
			seq = max(seq, e.SequenceOrder)
		}
		return &planState{plan: plan, sequence: seq}, nil
	}

	plan := &domain.DayPlan{
		TenantID: tenantID,
		UserID:   userID,
		PlanDate: date,
	}
	if err := store.CreateDayPlan(ctx, plan); err != nil {
		return nil, err
	}
	result.PlansCreated++
	return &planState{plan: plan}, nil
}

func parseEvent(record map[string]string) (*domain.ScheduleEvent, error) {
	event := &domain.ScheduleEvent{
		EventType: domain.EventType(strings.ToLower(record[ColumnEventType])),
		Status:    domain.EventStatus(strings.ToLower(record[ColumnStatus])),
	}

	start, err := time.Parse(time.RFC3339, record[ColumnScheduledStart])
	if err != nil {
		return nil, domain.NewValidationError("scheduledStart", "时间 %q 无效，格式应为 RFC 3339", record[ColumnScheduledStart])
	}
	event.ScheduledStart = start.UTC()

	duration, err := strconv.ParseInt(record[ColumnDuration], 10, 32)
	if err != nil {
		return nil, domain.NewValidationError("scheduledDurationMinutes", "时长 %q 无效", record[ColumnDuration])
	}
	event.ScheduledDurationMinutes = int32(duration)

	if v := record[ColumnJobID]; v != "" {
		jobID, err := uuid.Parse(v)
		if err != nil {
			return nil, domain.NewValidationError("jobId", "工单ID %q 无效", v)
		}
		event.JobID = &jobID
	}
	if v := record[ColumnLocation]; v != "" {
		point, err := domain.ParseGeoPoint(v)
		if err != nil {
			return nil, err
		}
		event.LocationPoint = &point
	}
	if v := record[ColumnAddress]; v != "" {
		event.Address = &v
	}
	if v := record[ColumnNotes]; v != "" {
		event.Notes = &v
	}

	return event, nil
}
