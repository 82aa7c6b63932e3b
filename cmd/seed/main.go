package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/config"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/repository"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/seed"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/utils"
)

func main() {
	var op int
	var n int
	var tenant string
	var date string
	var dayPlanID string
	var center string
	var file string

	flag.IntVar(&op, "op", 0, "要执行的操作（1: 随机生成日计划，2: 为日计划随机生成事件，3: 导入 CSV 文件）")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.StringVar(&tenant, "tenant", "", "租户 id，默认使用 SEED_TENANT_ID")
	flag.StringVar(&date, "date", time.Now().Format(domain.DateLayout), "操作 1 使用的计划日期")
	flag.StringVar(&dayPlanID, "day-plan-id", "", "操作 2 生成的事件所属的日计划")
	flag.StringVar(&center, "center", "POINT(-104.9903 39.7392)", "随机工单位置的中心点")
	flag.StringVar(&file, "file", "", "操作 3 导入的 CSV 文件")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if tenant == "" {
		tenant = cfg.Seed.TenantID
	}
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		logger.Error("必须提供合法的租户 id", slog.String("tenant", tenant))
		os.Exit(1)
	}

	dbpool, err := repository.OpenPostgres(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()

	repo := repository.NewRepository(cfg, dbpool)
	ctx := context.Background()

	switch op {
	case 0:
		slog.Error("没有指定操作")
	case 1:
		planDate, err := domain.ParseDate(date)
		if err != nil {
			slog.Error("计划日期不合法", slog.String("error", err.Error()))
			return
		}
		if n <= 0 {
			slog.Error("日计划数量必须为正数")
			return
		}

		cnt := 0
		for i := 0; i < n; i++ {
			plan := utils.GenerateRandomDayPlan(tenantID, uuid.New(), planDate)
			if err := repo.CreateDayPlan(ctx, plan); err != nil {
				slog.Error("无法插入日计划", slog.String("error", err.Error()))
				continue
			}

			slog.Info("成功插入日计划", slog.String("id", plan.ID.String()), slog.String("userId", plan.UserID.String()))
			cnt++
		}

		slog.Info("日计划插入完成", slog.Int("count", cnt))
	case 2:
		id, err := uuid.Parse(dayPlanID)
		if err != nil {
			slog.Error("必须提供合法的日计划 id", slog.String("day-plan-id", dayPlanID))
			return
		}
		origin, err := domain.ParseGeoPoint(center)
		if err != nil {
			slog.Error("中心点不合法", slog.String("error", err.Error()))
			return
		}

		plan, err := repo.GetDayPlanByID(ctx, tenantID, id)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				slog.Error("日计划不存在", slog.String("day-plan-id", dayPlanID))
			default:
				slog.Error("无法获取日计划", slog.String("error", err.Error()))
			}
			return
		}

		cnt := 0
		for _, event := range utils.GenerateRandomScheduleEvents(plan, n, origin) {
			if err := repo.CreateScheduleEvent(ctx, event); err != nil {
				slog.Error("无法插入日程事件", slog.String("error", err.Error()))
				continue
			}

			cnt++
		}

		slog.Info("日程事件插入完成", slog.Int("count", cnt))
	case 3:
		if file == "" {
			slog.Error("必须指定 -file")
			return
		}

		f, err := os.Open(file)
		if err != nil {
			slog.Error("无法打开文件", slog.String("error", err.Error()))
			return
		}
		defer f.Close()

		if _, err := seed.ImportCSV(ctx, repo, tenantID, f); err != nil {
			slog.Error("导入失败", slog.String("error", err.Error()))
		}
	default:
		slog.Error("未知的操作", slog.Int("op", op))
	}
}
