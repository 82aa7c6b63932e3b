package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/config"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

// DayPlanRepository 存储日计划。每次调用都限定在一个租户内，其他租户的数据视为不存在
type DayPlanRepository interface {
	CreateDayPlan(ctx context.Context, plan *domain.DayPlan) error
	GetDayPlanByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.DayPlan, error)
	ListDayPlans(ctx context.Context, tenantID uuid.UUID, filter domain.DayPlanFilter) ([]*domain.DayPlan, int, error)
	// UpdateDayPlan 同时返回更新前的状态。该状态与更新在同一把行锁下读取，
	// 并发更新时只有一个调用方会看到某次状态转换。
	UpdateDayPlan(ctx context.Context, tenantID, id uuid.UUID, patch *domain.DayPlanPatch) (*domain.DayPlan, domain.DayPlanStatus, error)
	DeleteDayPlan(ctx context.Context, tenantID, id uuid.UUID) error
}

// ScheduleEventRepository 存储日计划的事件，并负责保证工单数量上限
type ScheduleEventRepository interface {
	CreateScheduleEvent(ctx context.Context, event *domain.ScheduleEvent) error
	GetScheduleEventByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.ScheduleEvent, error)
	ListScheduleEventsByDayPlan(ctx context.Context, tenantID, dayPlanID uuid.UUID) ([]*domain.ScheduleEvent, error)
	CountJobEvents(ctx context.Context, tenantID, dayPlanID uuid.UUID) (int, error)
	UpdateScheduleEvent(ctx context.Context, tenantID, id uuid.UUID, patch *domain.ScheduleEventPatch) (*domain.ScheduleEvent, error)
	DeleteScheduleEvent(ctx context.Context, tenantID, id uuid.UUID) error
}

type Store interface {
	DayPlanRepository
	ScheduleEventRepository
}

// Repository 是基于 Postgres 的 Store
type Repository struct {
	cfg    *config.Config
	dbpool *sql.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(cfg *config.Config, dbpool *sql.DB) *Repository {
	return &Repository{
		cfg:    cfg,
		dbpool: dbpool,
	}
}

func (r *Repository) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
}

func (r *Repository) txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
}
