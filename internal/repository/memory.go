package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/utils"
)

// MemoryRepository 是保存在进程内存中的 Store，供测试和 DATABASE_DRIVER=memory 使用。
// 一把互斥锁保证每次先检查后写入都是原子的，与 Postgres 存储中计划行锁的效果相同
type MemoryRepository struct {
	mu     sync.RWMutex
	plans  map[uuid.UUID]domain.DayPlan
	events map[uuid.UUID]domain.ScheduleEvent
	now    func() time.Time
}

var _ Store = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		plans:  map[uuid.UUID]domain.DayPlan{},
		events: map[uuid.UUID]domain.ScheduleEvent{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func copyPlan(p domain.DayPlan) *domain.DayPlan {
	if p.RouteData != nil {
		p.RouteData = slices.Clone(p.RouteData)
	}
	return &p
}

func copyEvent(e domain.ScheduleEvent) *domain.ScheduleEvent {
	if e.JobID != nil {
		id := *e.JobID
		e.JobID = &id
	}
	if e.LocationPoint != nil {
		pt := *e.LocationPoint
		e.LocationPoint = &pt
	}
	if e.Metadata != nil {
		e.Metadata = slices.Clone(e.Metadata)
	}
	return &e
}

func (r *MemoryRepository) CreateDayPlan(ctx context.Context, plan *domain.DayPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if plan.Status == "" {
		plan.Status = domain.DayPlanStatusDraft
	}
	if err := utils.ValidateDayPlan(plan); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.plans {
		if p.TenantID == plan.TenantID && p.UserID == plan.UserID && p.PlanDate.Equal(plan.PlanDate.Time) {
			return &domain.Error{Kind: domain.ErrConstraintViolation, Field: "planDate", Message: "该用户在这一天已经有日计划"}
		}
	}

	now := r.now()
	plan.ID = uuid.New()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	plan.Version = 1
	r.plans[plan.ID] = *copyPlan(*plan)

	return nil
}

func (r *MemoryRepository) GetDayPlanByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.DayPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plans[id]
	if !ok || p.TenantID != tenantID {
		return nil, domain.NewNotFoundError("日计划", id.String())
	}
	return copyPlan(p), nil
}

func (r *MemoryRepository) ListDayPlans(ctx context.Context, tenantID uuid.UUID, filter domain.DayPlanFilter) ([]*domain.DayPlan, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	filter.Normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]domain.DayPlan, 0, len(r.plans))
	for _, p := range r.plans {
		if p.TenantID != tenantID {
			continue
		}
		if filter.UserID != nil && p.UserID != *filter.UserID {
			continue
		}
		if filter.DateFrom != nil && p.PlanDate.Before(filter.DateFrom.Time) {
			continue
		}
		if filter.DateTo != nil && p.PlanDate.After(filter.DateTo.Time) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].PlanDate.Equal(all[j].PlanDate.Time) {
			return all[i].PlanDate.Before(all[j].PlanDate.Time)
		}
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)

	plans := make([]*domain.DayPlan, 0, end-start)
	for _, p := range all[start:end] {
		plans = append(plans, copyPlan(p))
	}
	return plans, total, nil
}

func (r *MemoryRepository) UpdateDayPlan(ctx context.Context, tenantID, id uuid.UUID, patch *domain.DayPlanPatch) (*domain.DayPlan, domain.DayPlanStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[id]
	if !ok || p.TenantID != tenantID {
		return nil, "", domain.NewNotFoundError("日计划", id.String())
	}
	previous := p.Status
	if patch.Version != nil && *patch.Version != p.Version {
		return nil, "", &domain.Error{Kind: domain.ErrStaleVersion, ID: id.String(), Message: "日计划已被其他人修改"}
	}

	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.TotalDistanceKm != nil {
		v := *patch.TotalDistanceKm
		p.TotalDistanceKm = &v
	}
	if patch.EstimatedDurationMinutes != nil {
		v := *patch.EstimatedDurationMinutes
		p.EstimatedDurationMinutes = &v
	}
	if patch.RouteData != nil {
		p.RouteData = slices.Clone(patch.RouteData)
	}
	if patch.VoiceSessionID != nil {
		v := *patch.VoiceSessionID
		p.VoiceSessionID = &v
	}
	if err := utils.ValidateDayPlan(&p); err != nil {
		return nil, "", err
	}

	p.UpdatedAt = r.now()
	p.Version++
	r.plans[id] = p

	return copyPlan(p), previous, nil
}

func (r *MemoryRepository) DeleteDayPlan(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[id]
	if !ok || p.TenantID != tenantID {
		return domain.NewNotFoundError("日计划", id.String())
	}

	delete(r.plans, id)
	for eventID, e := range r.events {
		if e.DayPlanID == id {
			delete(r.events, eventID)
		}
	}

	return nil
}

// 调用 jobCountLocked 时必须持有 r.mu
func (r *MemoryRepository) jobCountLocked(dayPlanID, excludeID uuid.UUID) int {
	n := 0
	for _, e := range r.events {
		if e.DayPlanID == dayPlanID && e.IsJob() && e.ID != excludeID {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) CreateScheduleEvent(ctx context.Context, event *domain.ScheduleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Status == "" {
		event.Status = domain.EventStatusPending
	}
	event.ScheduledStart = event.ScheduledStart.UTC()
	if err := utils.ValidateScheduleEvent(event); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[event.DayPlanID]
	if !ok || p.TenantID != event.TenantID {
		return domain.NewNotFoundError("日计划", event.DayPlanID.String())
	}
	if event.IsJob() && r.jobCountLocked(event.DayPlanID, uuid.Nil) >= domain.MaxJobEventsPerPlan {
		return jobCeilingError()
	}

	now := r.now()
	event.ID = uuid.New()
	event.CreatedAt = now
	event.UpdatedAt = now
	event.Version = 1
	r.events[event.ID] = *copyEvent(*event)

	return nil
}

func (r *MemoryRepository) GetScheduleEventByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.ScheduleEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[id]
	if !ok || e.TenantID != tenantID {
		return nil, domain.NewNotFoundError("日程事件", id.String())
	}
	return copyEvent(e), nil
}

func (r *MemoryRepository) ListScheduleEventsByDayPlan(ctx context.Context, tenantID, dayPlanID uuid.UUID) ([]*domain.ScheduleEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	events := []*domain.ScheduleEvent{}
	for _, e := range r.events {
		if e.TenantID == tenantID && e.DayPlanID == dayPlanID {
			events = append(events, copyEvent(e))
		}
	}
	SortEvents(events)

	return events, nil
}

func (r *MemoryRepository) CountJobEvents(ctx context.Context, tenantID, dayPlanID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plans[dayPlanID]
	if !ok || p.TenantID != tenantID {
		return 0, nil
	}
	return r.jobCountLocked(dayPlanID, uuid.Nil), nil
}

func (r *MemoryRepository) UpdateScheduleEvent(ctx context.Context, tenantID, id uuid.UUID, patch *domain.ScheduleEventPatch) (*domain.ScheduleEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.events[id]
	if !ok || stored.TenantID != tenantID {
		return nil, domain.NewNotFoundError("日程事件", id.String())
	}
	if patch.Version != nil && *patch.Version != stored.Version {
		return nil, &domain.Error{Kind: domain.ErrStaleVersion, ID: id.String(), Message: "日程事件已被其他人修改"}
	}

	current := copyEvent(stored)
	wasJob := current.IsJob()
	patch.Apply(current)
	if err := utils.ValidateScheduleEvent(current); err != nil {
		return nil, err
	}
	if current.IsJob() && !wasJob && r.jobCountLocked(current.DayPlanID, id) >= domain.MaxJobEventsPerPlan {
		return nil, jobCeilingError()
	}

	current.UpdatedAt = r.now()
	current.Version++
	r.events[id] = *copyEvent(*current)

	return current, nil
}

func (r *MemoryRepository) DeleteScheduleEvent(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok || e.TenantID != tenantID {
		return domain.NewNotFoundError("日程事件", id.String())
	}
	delete(r.events, id)

	return nil
}

// SortEvents 按 ListScheduleEventsByDayPlan 的返回顺序排序：先按序号，再按开始时间，最后按 id
func SortEvents(events []*domain.ScheduleEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.SequenceOrder != b.SequenceOrder {
			return a.SequenceOrder < b.SequenceOrder
		}
		if !a.ScheduledStart.Equal(b.ScheduledStart) {
			return a.ScheduledStart.Before(b.ScheduledStart)
		}
		return a.ID.String() < b.ID.String()
	})
}
