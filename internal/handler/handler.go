package handler

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/config"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/repository"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/scheduler"
)

// ConflictCache 在两次事件写入之间缓存冲突报告。报告按代数存放，
// Invalidate 会推进代数，所以用旧代数写入的报告不会再被读到。
type ConflictCache interface {
	Generation(ctx context.Context, tenantID, dayPlanID uuid.UUID) (int64, error)
	Get(ctx context.Context, tenantID, dayPlanID uuid.UUID, gen int64) (*scheduler.Report, error)
	Set(ctx context.Context, tenantID, dayPlanID uuid.UUID, gen int64, report *scheduler.Report) error
	Invalidate(ctx context.Context, tenantID, dayPlanID uuid.UUID) error
}

type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, msg *domain.DispatchMessage) error
}

type Handler struct {
	validate   *validator.Validate
	config     *config.Config
	repository repository.Store
	translator ut.Translator
	conflicts  *scheduler.ConflictService
	metrics    *metrics.Metrics

	// 可选，为 nil 时不启用对应功能
	conflictCache ConflictCache
	dispatcher    DispatchPublisher

	Mux *chi.Mux
}

type Option func(*Handler)

func WithConflictCache(c ConflictCache) Option {
	return func(h *Handler) { h.conflictCache = c }
}

func WithDispatchPublisher(p DispatchPublisher) Option {
	return func(h *Handler) { h.dispatcher = p }
}

func NewHandler(cfg *config.Config, repo repository.Store, conflicts *scheduler.ConflictService, m *metrics.Metrics, opts ...Option) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	h := &Handler{
		validate:   validate,
		config:     cfg,
		repository: repo,
		translator: trans,
		conflicts:  conflicts,
		metrics:    m,

		Mux: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	h.Mux.Get("/healthz", h.Healthz)

	// 以下路由都需要确定租户
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.tenant)

		r.Route("/day-plans", func(r chi.Router) {
			r.Post("/", h.CreateDayPlan)
			r.Get("/", h.ListDayPlans)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.dayPlan)
				r.Get("/", h.GetDayPlan)
				r.Patch("/", h.UpdateDayPlan)
				r.Delete("/", h.DeleteDayPlan)
				r.Get("/events", h.ListScheduleEvents)
				r.Get("/events/job-count", h.GetJobEventCount)
				r.Get("/conflicts", h.GetConflicts)
				r.Get("/export", h.ExportRouteSheet)
			})
		})

		r.Route("/schedule-events", func(r chi.Router) {
			r.Post("/", h.CreateScheduleEvent)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.scheduleEvent)
				r.Get("/", h.GetScheduleEvent)
				r.Patch("/", h.UpdateScheduleEvent)
				r.Delete("/", h.DeleteScheduleEvent)
			})
		})
	})
}
