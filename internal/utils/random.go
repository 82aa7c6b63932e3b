package utils

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

var digits = "0123456789"

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func GenerateRandomID(letterLength int, digitLength int) string {
	random_id := make([]rune, letterLength+digitLength)
	for i := range random_id {
		if i < letterLength {
			random_id[i] = letters[rand.Intn(len(letters))]
		} else {
			random_id[i] = rune(digits[rand.Intn(len(digits))])
		}
	}
	return string(random_id)
}

var streets = []string{
	"Bannock St", "Larimer St", "Colfax Ave", "Broadway", "Market St",
	"Blake St", "Wazee St", "Champa St", "Welton St", "Lincoln St",
}

func GenerateRandomAddress() string {
	return fmt.Sprintf("%d %s", rand.Intn(9000)+100, streets[rand.Intn(len(streets))])
}

// GenerateRandomPoint 返回距 center 大约 radiusKm 以内的随机点
func GenerateRandomPoint(center domain.GeoPoint, radiusKm float64) domain.GeoPoint {
	// 纬度一度约为 111 公里
	delta := radiusKm / 111
	return domain.GeoPoint{
		Lng: center.Lng + (rand.Float64()*2-1)*delta,
		Lat: center.Lat + (rand.Float64()*2-1)*delta,
	}
}

var planStatuses = []domain.DayPlanStatus{
	domain.DayPlanStatusDraft,
	domain.DayPlanStatusDraft,
	domain.DayPlanStatusPublished,
	domain.DayPlanStatusInProgress,
}

func GenerateRandomDayPlan(tenantID, userID uuid.UUID, date domain.Date) *domain.DayPlan {
	return &domain.DayPlan{
		TenantID: tenantID,
		UserID:   userID,
		PlanDate: date,
		Status:   planStatuses[rand.Intn(len(planStatuses))],
	}
}

var fillerTypes = []domain.EventType{
	domain.EventTypeBreak,
	domain.EventTypeTravel,
	domain.EventTypeMaintenance,
	domain.EventTypeMeeting,
}

// GenerateRandomScheduleEvents 从计划当天 08:00 开始依次排布 n 个事件，其中工单最多 domain.MaxJobEventsPerPlan 个。
// 事件之间的间隔是随机的，所以有些计划会带有冲突
func GenerateRandomScheduleEvents(plan *domain.DayPlan, n int, center domain.GeoPoint) []*domain.ScheduleEvent {
	events := make([]*domain.ScheduleEvent, 0, n)
	start := plan.PlanDate.Add(8 * time.Hour)
	jobs := 0

	for i := 0; i < n; i++ {
		e := &domain.ScheduleEvent{
			TenantID:       plan.TenantID,
			DayPlanID:      plan.ID,
			SequenceOrder:  int32(i + 1),
			ScheduledStart: start,
			Status:         domain.EventStatusPending,
		}

		if jobs < domain.MaxJobEventsPerPlan && rand.Intn(3) > 0 {
			jobID := uuid.New()
			point := GenerateRandomPoint(center, 15)
			address := GenerateRandomAddress()
			e.EventType = domain.EventTypeJob
			e.JobID = &jobID
			e.LocationPoint = &point
			e.Address = &address
			e.ScheduledDurationMinutes = int32(30 + 15*rand.Intn(7))
			jobs++
		} else {
			e.EventType = fillerTypes[rand.Intn(len(fillerTypes))]
			e.ScheduledDurationMinutes = int32(15 + 15*rand.Intn(3))
			if e.EventType == domain.EventTypeMeeting {
				notes := "standup " + GenerateRandomID(2, 3)
				e.Notes = &notes
			}
		}

		events = append(events, e)

		// 上一个事件结束后 -10 到 +30 分钟
		gap := time.Duration(rand.Intn(41)-10) * time.Minute
		start = e.ScheduledEnd().Add(gap)
	}

	return events
}
