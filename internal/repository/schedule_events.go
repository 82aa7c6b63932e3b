package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/utils"
)

const scheduleEventColumns = `
	id,
	tenant_id,
	day_plan_id,
	event_type,
	job_id,
	sequence_order,
	scheduled_start,
	scheduled_duration_minutes,
	status,
	location_lng,
	location_lat,
	address,
	notes,
	metadata,
	created_at,
	updated_at,
	version
`

func scanScheduleEvent(row rowScanner) (*domain.ScheduleEvent, error) {
	var (
		event    domain.ScheduleEvent
		jobID    sql.Null[uuid.UUID]
		lng, lat sql.NullFloat64
		address  sql.NullString
		notes    sql.NullString
		metadata []byte
	)

	dst := []any{
		&event.ID,
		&event.TenantID,
		&event.DayPlanID,
		&event.EventType,
		&jobID,
		&event.SequenceOrder,
		&event.ScheduledStart,
		&event.ScheduledDurationMinutes,
		&event.Status,
		&lng,
		&lat,
		&address,
		&notes,
		&metadata,
		&event.CreatedAt,
		&event.UpdatedAt,
		&event.Version,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if jobID.Valid {
		event.JobID = &jobID.V
	}
	if lng.Valid && lat.Valid {
		event.LocationPoint = &domain.GeoPoint{Lng: lng.Float64, Lat: lat.Float64}
	}
	if address.Valid {
		event.Address = &address.String
	}
	if notes.Valid {
		event.Notes = &notes.String
	}
	if len(metadata) > 0 {
		event.Metadata = metadata
	}
	event.ScheduledStart = event.ScheduledStart.UTC()
	event.CreatedAt = event.CreatedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()

	return &event, nil
}

func pointParams(p *domain.GeoPoint) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Lng, p.Lat
}

// lockDayPlan 对所属计划加行锁。所有事件写入都会经过这里，
// 同一计划的写入因此串行执行，不同计划之间互不影响
func lockDayPlan(ctx context.Context, tx *sql.Tx, tenantID, dayPlanID uuid.UUID) error {
	query := `SELECT id FROM day_plans WHERE tenant_id = $1 AND id = $2 FOR UPDATE`

	var id uuid.UUID
	if err := tx.QueryRowContext(ctx, query, tenantID, dayPlanID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFoundError("日计划", dayPlanID.String())
		}
		return fmt.Errorf("lock day plan: %w", err)
	}
	return nil
}

func countJobEvents(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, tenantID, dayPlanID uuid.UUID, excludeID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM schedule_events
		WHERE tenant_id = $1 AND day_plan_id = $2 AND event_type = 'job' AND id <> $3
	`

	var n int
	if err := q.QueryRowContext(ctx, query, tenantID, dayPlanID, excludeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count job events: %w", err)
	}
	return n, nil
}

func (r *Repository) CreateScheduleEvent(ctx context.Context, event *domain.ScheduleEvent) error {
	if event.Status == "" {
		event.Status = domain.EventStatusPending
	}
	event.ScheduledStart = event.ScheduledStart.UTC()
	if err := utils.ValidateScheduleEvent(event); err != nil {
		return err
	}

	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockDayPlan(ctx, tx, event.TenantID, event.DayPlanID); err != nil {
		return err
	}

	// 计数在计划锁内进行，插入之前不会过时
	if event.IsJob() {
		n, err := countJobEvents(ctx, tx, event.TenantID, event.DayPlanID, uuid.Nil)
		if err != nil {
			return err
		}
		if n >= domain.MaxJobEventsPerPlan {
			return jobCeilingError()
		}
	}

	query := `
		INSERT INTO schedule_events (
			tenant_id,
			day_plan_id,
			event_type,
			job_id,
			sequence_order,
			scheduled_start,
			scheduled_duration_minutes,
			status,
			location_lng,
			location_lat,
			address,
			notes,
			metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at, version
	`

	lng, lat := pointParams(event.LocationPoint)
	params := []any{
		event.TenantID,
		event.DayPlanID,
		event.EventType,
		event.JobID,
		event.SequenceOrder,
		event.ScheduledStart,
		event.ScheduledDurationMinutes,
		event.Status,
		lng,
		lat,
		event.Address,
		event.Notes,
		nullableJSON(event.Metadata),
	}
	dst := []any{&event.ID, &event.CreatedAt, &event.UpdatedAt, &event.Version}
	if err := tx.QueryRowContext(ctx, query, params...).Scan(dst...); err != nil {
		return translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return translateError(err)
	}
	event.CreatedAt = event.CreatedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()

	return nil
}

func (r *Repository) GetScheduleEventByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.ScheduleEvent, error) {
	query := `SELECT ` + scheduleEventColumns + ` FROM schedule_events WHERE tenant_id = $1 AND id = $2`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	event, err := scanScheduleEvent(r.dbpool.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("日程事件", id.String())
		}
		return nil, fmt.Errorf("get schedule event: %w", err)
	}

	return event, nil
}

func (r *Repository) ListScheduleEventsByDayPlan(ctx context.Context, tenantID, dayPlanID uuid.UUID) ([]*domain.ScheduleEvent, error) {
	query := `
		SELECT ` + scheduleEventColumns + `
		FROM schedule_events
		WHERE tenant_id = $1 AND day_plan_id = $2
		ORDER BY sequence_order, scheduled_start, id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, tenantID, dayPlanID)
	if err != nil {
		return nil, fmt.Errorf("list schedule events: %w", err)
	}
	defer rows.Close()

	events := []*domain.ScheduleEvent{}
	for rows.Next() {
		event, err := scanScheduleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *Repository) CountJobEvents(ctx context.Context, tenantID, dayPlanID uuid.UUID) (int, error) {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return countJobEvents(ctx, r.dbpool, tenantID, dayPlanID, uuid.Nil)
}

func (r *Repository) UpdateScheduleEvent(ctx context.Context, tenantID, id uuid.UUID, patch *domain.ScheduleEventPatch) (*domain.ScheduleEvent, error) {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var dayPlanID uuid.UUID
	query := `SELECT day_plan_id FROM schedule_events WHERE tenant_id = $1 AND id = $2`
	if err := tx.QueryRowContext(ctx, query, tenantID, id).Scan(&dayPlanID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("日程事件", id.String())
		}
		return nil, fmt.Errorf("get schedule event: %w", err)
	}

	if err := lockDayPlan(ctx, tx, tenantID, dayPlanID); err != nil {
		return nil, err
	}

	// 在锁内重新读取，下面的合并基于最新的行
	query = `SELECT ` + scheduleEventColumns + ` FROM schedule_events WHERE tenant_id = $1 AND id = $2`
	current, err := scanScheduleEvent(tx.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("日程事件", id.String())
		}
		return nil, fmt.Errorf("get schedule event: %w", err)
	}

	if patch.Version != nil && *patch.Version != current.Version {
		return nil, &domain.Error{Kind: domain.ErrStaleVersion, ID: id.String(), Message: "日程事件已被其他人修改"}
	}

	wasJob := current.IsJob()
	patch.Apply(current)
	if err := utils.ValidateScheduleEvent(current); err != nil {
		return nil, err
	}

	if current.IsJob() && !wasJob {
		n, err := countJobEvents(ctx, tx, tenantID, dayPlanID, id)
		if err != nil {
			return nil, err
		}
		if n >= domain.MaxJobEventsPerPlan {
			return nil, jobCeilingError()
		}
	}

	query = `
		UPDATE schedule_events
		SET
			event_type = $3,
			job_id = $4,
			sequence_order = $5,
			scheduled_start = $6,
			scheduled_duration_minutes = $7,
			status = $8,
			location_lng = $9,
			location_lat = $10,
			address = $11,
			notes = $12,
			metadata = $13,
			updated_at = now(),
			version = version + 1
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at, version
	`

	lng, lat := pointParams(current.LocationPoint)
	params := []any{
		tenantID,
		id,
		current.EventType,
		current.JobID,
		current.SequenceOrder,
		current.ScheduledStart,
		current.ScheduledDurationMinutes,
		current.Status,
		lng,
		lat,
		current.Address,
		current.Notes,
		nullableJSON(current.Metadata),
	}
	if err := tx.QueryRowContext(ctx, query, params...).Scan(&current.UpdatedAt, &current.Version); err != nil {
		return nil, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	current.UpdatedAt = current.UpdatedAt.UTC()

	return current, nil
}

func (r *Repository) DeleteScheduleEvent(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `DELETE FROM schedule_events WHERE tenant_id = $1 AND id = $2`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete schedule event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("日程事件", id.String())
	}

	return nil
}
