// Package scheduler 分析单个日计划中事件的排程冲突。这里不访问存储，路程估算由注入的 TravelEstimator 提供
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

type ConflictKind string

const (
	ConflictTimeOverlap ConflictKind = "time_overlap"
	ConflictTravelTime  ConflictKind = "travel_time"
)

type Conflict struct {
	Kind     ConflictKind `json:"kind"`
	EventIDs [2]uuid.UUID `json:"eventIds"`
	Message  string       `json:"message"`

	// 时间重叠时设置
	OverlapMinutes float64 `json:"overlapMinutes,omitempty"`

	// 路程冲突时设置
	AvailableMinutes float64 `json:"availableMinutes,omitempty"`
	RequiredMinutes  float64 `json:"requiredMinutes,omitempty"`
}

type Report struct {
	Overlaps        []Conflict  `json:"overlaps"`
	TravelConflicts []Conflict  `json:"travelConflicts"`
	Skipped         []uuid.UUID `json:"skipped"`
}

func (r *Report) HasConflicts() bool {
	return len(r.Overlaps) > 0 || len(r.TravelConflicts) > 0
}

type ConflictService struct {
	estimator TravelEstimator
}

// New 返回 ConflictService。estimator 为 nil 时按 DefaultSpeedKmh 估算直线距离
func New(estimator TravelEstimator) *ConflictService {
	if estimator == nil {
		estimator = NewStraightLineEstimator(DefaultSpeedKmh, 1)
	}
	return &ConflictService{estimator: estimator}
}

// analyzable 去掉没有开始时间的事件
func analyzable(events []*domain.ScheduleEvent) []*domain.ScheduleEvent {
	out := make([]*domain.ScheduleEvent, 0, len(events))
	for _, e := range events {
		if e == nil || e.ScheduledStart.IsZero() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DetectTimeOverlaps 两两比较事件。区间是左闭右开的 [start, start+duration)，
// 首尾相接的事件不算冲突，时长为 0 的事件不会与任何事件重叠
func (s *ConflictService) DetectTimeOverlaps(events []*domain.ScheduleEvent) []Conflict {
	events = analyzable(events)

	conflicts := []Conflict{}
	for i := 0; i < len(events); i++ {
		a := events[i]
		for j := i + 1; j < len(events); j++ {
			b := events[j]

			overlap := overlapOf(a, b)
			if overlap <= 0 {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Kind:           ConflictTimeOverlap,
				EventIDs:       [2]uuid.UUID{a.ID, b.ID},
				OverlapMinutes: overlap.Minutes(),
				Message: fmt.Sprintf("%s 事件 %s 与 %s 事件 %s 重叠 %s",
					a.EventType, a.ID, b.EventType, b.ID, overlap),
			})
		}
	}

	return conflicts
}

func overlapOf(a, b *domain.ScheduleEvent) time.Duration {
	start := a.ScheduledStart
	if b.ScheduledStart.After(start) {
		start = b.ScheduledStart
	}
	end := a.ScheduledEnd()
	if b.ScheduledEnd().Before(end) {
		end = b.ScheduledEnd()
	}
	return end.Sub(start)
}

// DetectTravelTimeConflicts 按开始时间遍历有位置的事件，检查每段间隔是否足够开到下一个地点。
// 没有位置的事件会被忽略，所以两个工单之间的路程事件不会掩盖它们之间的冲突。无法估算的两点直接跳过
func (s *ConflictService) DetectTravelTimeConflicts(ctx context.Context, events []*domain.ScheduleEvent) []Conflict {
	located := make([]*domain.ScheduleEvent, 0, len(events))
	for _, e := range analyzable(events) {
		if e.LocationPoint != nil {
			located = append(located, e)
		}
	}
	sort.SliceStable(located, func(i, j int) bool {
		if !located[i].ScheduledStart.Equal(located[j].ScheduledStart) {
			return located[i].ScheduledStart.Before(located[j].ScheduledStart)
		}
		return located[i].SequenceOrder < located[j].SequenceOrder
	})

	conflicts := []Conflict{}
	for i := 1; i < len(located); i++ {
		prev, next := located[i-1], located[i]

		required, err := s.estimator.EstimateTravelMinutes(ctx, *prev.LocationPoint, *next.LocationPoint)
		if err != nil {
			slog.Warn("无法估算路程时间", "from", prev.ID, "to", next.ID, "error", err)
			continue
		}
		if required <= 0 {
			continue
		}

		available := next.ScheduledStart.Sub(prev.ScheduledEnd()).Minutes()
		if available >= required {
			continue
		}

		conflicts = append(conflicts, Conflict{
			Kind:             ConflictTravelTime,
			EventIDs:         [2]uuid.UUID{prev.ID, next.ID},
			AvailableMinutes: available,
			RequiredMinutes:  required,
			Message: fmt.Sprintf("事件 %s 与事件 %s 之间的路程时间不足：可用 %.0f 分钟，需要 %.0f 分钟",
				prev.ID, next.ID, math.Max(available, 0), math.Ceil(required)),
		})
	}

	return conflicts
}

// Analyze 执行两项检查。缺少开始时间的事件放在 Skipped 中，而不是作为错误返回
func (s *ConflictService) Analyze(ctx context.Context, events []*domain.ScheduleEvent) *Report {
	report := &Report{Skipped: []uuid.UUID{}}
	for _, e := range events {
		if e != nil && e.ScheduledStart.IsZero() {
			report.Skipped = append(report.Skipped, e.ID)
		}
	}

	report.Overlaps = s.DetectTimeOverlaps(events)
	report.TravelConflicts = s.DetectTravelTimeConflicts(ctx, events)

	return report
}
