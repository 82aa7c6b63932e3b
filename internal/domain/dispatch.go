package domain

import (
	"time"

	"github.com/google/uuid"
)

// DispatchMessage 在日计划发布给外勤人员时进入队列
type DispatchMessage struct {
	Type      string    `json:"type"`
	TenantID  uuid.UUID `json:"tenantId"`
	DayPlanID uuid.UUID `json:"dayPlanId"`
	UserID    uuid.UUID `json:"userId"`
	PlanDate  Date      `json:"planDate"`
	JobCount  int       `json:"jobCount"`
	Events    int       `json:"events"`
	FirstStop time.Time `json:"firstStop"`
}

const DispatchMessageTypePlanPublished = "plan_published"
