package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/utils"
)

const dayPlanColumns = `
	id,
	tenant_id,
	user_id,
	plan_date,
	status,
	total_distance_km,
	estimated_duration_minutes,
	route_data,
	voice_session_id,
	created_at,
	updated_at,
	version
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDayPlan(row rowScanner) (*domain.DayPlan, error) {
	var (
		plan          domain.DayPlan
		totalDistance sql.NullFloat64
		estimatedDur  sql.NullInt32
		routeData     []byte
		voiceSession  sql.NullString
	)

	dst := []any{
		&plan.ID,
		&plan.TenantID,
		&plan.UserID,
		&plan.PlanDate,
		&plan.Status,
		&totalDistance,
		&estimatedDur,
		&routeData,
		&voiceSession,
		&plan.CreatedAt,
		&plan.UpdatedAt,
		&plan.Version,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if totalDistance.Valid {
		plan.TotalDistanceKm = &totalDistance.Float64
	}
	if estimatedDur.Valid {
		plan.EstimatedDurationMinutes = &estimatedDur.Int32
	}
	if len(routeData) > 0 {
		plan.RouteData = routeData
	}
	if voiceSession.Valid {
		plan.VoiceSessionID = &voiceSession.String
	}
	plan.CreatedAt = plan.CreatedAt.UTC()
	plan.UpdatedAt = plan.UpdatedAt.UTC()

	return &plan, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (r *Repository) CreateDayPlan(ctx context.Context, plan *domain.DayPlan) error {
	if plan.Status == "" {
		plan.Status = domain.DayPlanStatusDraft
	}
	if err := utils.ValidateDayPlan(plan); err != nil {
		return err
	}

	// (租户, 用户, 日期) 的唯一性交给唯一索引保证，并发创建时不会都通过存在性检查
	query := `
		INSERT INTO day_plans (
			tenant_id,
			user_id,
			plan_date,
			status,
			total_distance_km,
			estimated_duration_minutes,
			route_data,
			voice_session_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at, version
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	params := []any{
		plan.TenantID,
		plan.UserID,
		plan.PlanDate,
		plan.Status,
		plan.TotalDistanceKm,
		plan.EstimatedDurationMinutes,
		nullableJSON(plan.RouteData),
		plan.VoiceSessionID,
	}
	dst := []any{&plan.ID, &plan.CreatedAt, &plan.UpdatedAt, &plan.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, params...).Scan(dst...); err != nil {
		return translateError(err)
	}
	plan.CreatedAt = plan.CreatedAt.UTC()
	plan.UpdatedAt = plan.UpdatedAt.UTC()

	return nil
}

func (r *Repository) GetDayPlanByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.DayPlan, error) {
	query := `SELECT ` + dayPlanColumns + ` FROM day_plans WHERE tenant_id = $1 AND id = $2`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	plan, err := scanDayPlan(r.dbpool.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("日计划", id.String())
		}
		return nil, fmt.Errorf("get day plan: %w", err)
	}

	return plan, nil
}

func (r *Repository) ListDayPlans(ctx context.Context, tenantID uuid.UUID, filter domain.DayPlanFilter) ([]*domain.DayPlan, int, error) {
	filter.Normalize()

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		where = append(where, fmt.Sprintf("plan_date >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		where = append(where, fmt.Sprintf("plan_date <= $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var total int
	countQuery := `SELECT COUNT(*) FROM day_plans WHERE ` + whereClause
	if err := r.dbpool.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count day plans: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM day_plans
		WHERE %s
		ORDER BY plan_date, created_at, id
		LIMIT $%d OFFSET $%d
	`, dayPlanColumns, whereClause, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset())

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list day plans: %w", err)
	}
	defer rows.Close()

	plans := []*domain.DayPlan{}
	for rows.Next() {
		plan, err := scanDayPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return plans, total, nil
}

func (r *Repository) UpdateDayPlan(ctx context.Context, tenantID, id uuid.UUID, patch *domain.DayPlanPatch) (*domain.DayPlan, domain.DayPlanStatus, error) {
	if patch.Status != nil {
		if err := utils.ValidateDayPlanStatus(*patch.Status); err != nil {
			return nil, "", err
		}
	}
	if patch.TotalDistanceKm != nil && *patch.TotalDistanceKm < 0 {
		return nil, "", domain.NewValidationError("totalDistanceKm", "总距离不能为负数")
	}
	if patch.EstimatedDurationMinutes != nil && *patch.EstimatedDurationMinutes < 0 {
		return nil, "", domain.NewValidationError("estimatedDurationMinutes", "预计时长不能为负数")
	}

	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 先锁住计划行，之前的状态和版本号都在锁内读取
	var (
		previous domain.DayPlanStatus
		version  int32
	)
	lockQuery := `SELECT status, version FROM day_plans WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQuery, tenantID, id).Scan(&previous, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", domain.NewNotFoundError("日计划", id.String())
		}
		return nil, "", fmt.Errorf("lock day plan: %w", err)
	}
	if patch.Version != nil && *patch.Version != version {
		return nil, "", &domain.Error{Kind: domain.ErrStaleVersion, ID: id.String(), Message: "日计划已被其他人修改"}
	}

	// COALESCE 保留调用方没有传入的列，修改不同字段的两次更新不会互相覆盖
	query := `
		UPDATE day_plans
		SET
			status = COALESCE($3, status),
			total_distance_km = COALESCE($4, total_distance_km),
			estimated_duration_minutes = COALESCE($5, estimated_duration_minutes),
			route_data = COALESCE($6, route_data),
			voice_session_id = COALESCE($7, voice_session_id),
			updated_at = now(),
			version = version + 1
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + dayPlanColumns

	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	params := []any{
		tenantID,
		id,
		status,
		patch.TotalDistanceKm,
		patch.EstimatedDurationMinutes,
		nullableJSON(patch.RouteData),
		patch.VoiceSessionID,
	}

	plan, err := scanDayPlan(tx.QueryRowContext(ctx, query, params...))
	if err != nil {
		return nil, "", translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", err
	}

	return plan, previous, nil
}

func (r *Repository) DeleteDayPlan(ctx context.Context, tenantID, id uuid.UUID) error {
	// schedule_events.day_plan_id 设置了 ON DELETE CASCADE
	query := `DELETE FROM day_plans WHERE tenant_id = $1 AND id = $2`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete day plan: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("日计划", id.String())
	}

	return nil
}
