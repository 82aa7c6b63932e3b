// Package export 把日计划导出为 xlsx 路线单，方便外勤人员打印
package export

import (
	"fmt"
	"io"

	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/scheduler"
	"github.com/xuri/excelize/v2"
)

const (
	SheetEvents    = "日程"
	SheetConflicts = "冲突"
)

var eventHeader = []any{"#", "类型", "工单", "开始时间 (UTC)", "结束时间 (UTC)", "时长（分钟）", "状态", "位置", "地址", "备注"}

var conflictHeader = []any{"类别", "事件 A", "事件 B", "说明"}

// WriteRouteSheet 按给定顺序写入事件，并附上冲突列表
func WriteRouteSheet(w io.Writer, plan *domain.DayPlan, events []*domain.ScheduleEvent, report *scheduler.Report) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", SheetEvents); err != nil {
		return err
	}

	if err := f.SetCellValue(SheetEvents, "A1", fmt.Sprintf("日计划 %s，用户 %s，日期 %s（%s）", plan.ID, plan.UserID, plan.PlanDate, plan.Status)); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetEvents, "A3", &eventHeader); err != nil {
		return err
	}

	for i, e := range events {
		row := []any{
			e.SequenceOrder,
			string(e.EventType),
			optionalString(e.JobID),
			e.ScheduledStart.UTC().Format("2006-01-02 15:04"),
			e.ScheduledEnd().UTC().Format("2006-01-02 15:04"),
			e.ScheduledDurationMinutes,
			string(e.Status),
			optionalString(e.LocationPoint),
			deref(e.Address),
			deref(e.Notes),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetEvents, cell, &row); err != nil {
			return err
		}
	}

	if report != nil && report.HasConflicts() {
		if _, err := f.NewSheet(SheetConflicts); err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetConflicts, "A1", &conflictHeader); err != nil {
			return err
		}

		all := append(append([]scheduler.Conflict{}, report.Overlaps...), report.TravelConflicts...)
		for i, c := range all {
			row := []any{string(c.Kind), c.EventIDs[0].String(), c.EventIDs[1].String(), c.Message}
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(SheetConflicts, cell, &row); err != nil {
				return err
			}
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func optionalString[T fmt.Stringer](v *T) string {
	if v == nil {
		return ""
	}
	return (*v).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
