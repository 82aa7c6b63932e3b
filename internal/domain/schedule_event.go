package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaxJobEventsPerPlan 是一个日计划中工单类事件的数量上限
const MaxJobEventsPerPlan = 6

type EventType string

const (
	EventTypeJob         EventType = "job"
	EventTypeBreak       EventType = "break"
	EventTypeTravel      EventType = "travel"
	EventTypeMaintenance EventType = "maintenance"
	EventTypeMeeting     EventType = "meeting"
)

var EventTypes = []EventType{
	EventTypeJob,
	EventTypeBreak,
	EventTypeTravel,
	EventTypeMaintenance,
	EventTypeMeeting,
}

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusInProgress EventStatus = "in_progress"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusCancelled  EventStatus = "cancelled"
)

var EventStatuses = []EventStatus{
	EventStatusPending,
	EventStatusInProgress,
	EventStatusCompleted,
	EventStatusCancelled,
}

type ScheduleEvent struct {
	ID                       uuid.UUID       `json:"id"`
	TenantID                 uuid.UUID       `json:"tenantId"`
	DayPlanID                uuid.UUID       `json:"dayPlanId"`
	EventType                EventType       `json:"eventType"`
	JobID                    *uuid.UUID      `json:"jobId"`
	SequenceOrder            int32           `json:"sequenceOrder"`
	ScheduledStart           time.Time       `json:"scheduledStart"`
	ScheduledDurationMinutes int32           `json:"scheduledDurationMinutes"`
	Status                   EventStatus     `json:"status"`
	LocationPoint            *GeoPoint       `json:"locationPoint"`
	Address                  *string         `json:"address"`
	Notes                    *string         `json:"notes"`
	Metadata                 json.RawMessage `json:"metadata"`
	CreatedAt                time.Time       `json:"createdAt"`
	UpdatedAt                time.Time       `json:"updatedAt"`
	Version                  int32           `json:"version"`
}

func (e *ScheduleEvent) IsJob() bool {
	return e.EventType == EventTypeJob
}

// ScheduledEnd 可能落在第二天，不会被截断
func (e *ScheduleEvent) ScheduledEnd() time.Time {
	return e.ScheduledStart.Add(time.Duration(e.ScheduledDurationMinutes) * time.Minute)
}

// ScheduleEventPatch 是按字段的部分更新，为 nil 的字段保持不变。
// 把工单事件改成其他类型时需要用 ClearJobID 去掉工单引用
type ScheduleEventPatch struct {
	EventType                *EventType
	JobID                    *uuid.UUID
	ClearJobID               bool
	SequenceOrder            *int32
	ScheduledStart           *time.Time
	ScheduledDurationMinutes *int32
	Status                   *EventStatus
	LocationPoint            *GeoPoint
	Address                  *string
	Notes                    *string
	Metadata                 json.RawMessage
	Version                  *int32
}

// Apply 把 patch 合并到 e 中，不校验结果
func (p *ScheduleEventPatch) Apply(e *ScheduleEvent) {
	if p.EventType != nil {
		e.EventType = *p.EventType
	}
	if p.ClearJobID {
		e.JobID = nil
	}
	if p.JobID != nil {
		id := *p.JobID
		e.JobID = &id
	}
	if p.SequenceOrder != nil {
		e.SequenceOrder = *p.SequenceOrder
	}
	if p.ScheduledStart != nil {
		e.ScheduledStart = p.ScheduledStart.UTC()
	}
	if p.ScheduledDurationMinutes != nil {
		e.ScheduledDurationMinutes = *p.ScheduledDurationMinutes
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.LocationPoint != nil {
		pt := *p.LocationPoint
		e.LocationPoint = &pt
	}
	if p.Address != nil {
		e.Address = p.Address
	}
	if p.Notes != nil {
		e.Notes = p.Notes
	}
	if p.Metadata != nil {
		e.Metadata = p.Metadata
	}
}
