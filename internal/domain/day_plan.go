package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DayPlanStatus string

const (
	DayPlanStatusDraft      DayPlanStatus = "draft"
	DayPlanStatusPublished  DayPlanStatus = "published"
	DayPlanStatusInProgress DayPlanStatus = "in_progress"
	DayPlanStatusCompleted  DayPlanStatus = "completed"
	DayPlanStatusCancelled  DayPlanStatus = "cancelled"
)

var DayPlanStatuses = []DayPlanStatus{
	DayPlanStatusDraft,
	DayPlanStatusPublished,
	DayPlanStatusInProgress,
	DayPlanStatusCompleted,
	DayPlanStatusCancelled,
}

type DayPlan struct {
	ID                       uuid.UUID       `json:"id"`
	TenantID                 uuid.UUID       `json:"tenantId"`
	UserID                   uuid.UUID       `json:"userId"`
	PlanDate                 Date            `json:"planDate"`
	Status                   DayPlanStatus   `json:"status"`
	TotalDistanceKm          *float64        `json:"totalDistanceKm"`
	EstimatedDurationMinutes *int32          `json:"estimatedDurationMinutes"`
	RouteData                json.RawMessage `json:"routeData"`
	VoiceSessionID           *string         `json:"voiceSessionId"`
	CreatedAt                time.Time       `json:"createdAt"`
	UpdatedAt                time.Time       `json:"updatedAt"`
	Version                  int32           `json:"version"`
}

// DayPlanPatch 是按字段的部分更新，为 nil 的字段保持不变。Version 不为 nil 时按版本号比较后再更新
type DayPlanPatch struct {
	Status                   *DayPlanStatus
	TotalDistanceKm          *float64
	EstimatedDurationMinutes *int32
	RouteData                json.RawMessage
	VoiceSessionID           *string
	Version                  *int32
}

type DayPlanFilter struct {
	UserID   *uuid.UUID
	DateFrom *Date
	DateTo   *Date
	Page     int
	Limit    int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize 填充分页默认值并限制 limit 的上限
func (f *DayPlanFilter) Normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

func (f DayPlanFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}
