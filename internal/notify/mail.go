package notify

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

//go:embed templates/*.html
var templateFS embed.FS

var planPublishedTmpl = template.Must(template.ParseFS(templateFS, "templates/plan_published.html"))

// ComposeDispatchMail 生成调度台收到的派单邮件
func ComposeDispatchMail(from, to string, msg *domain.DispatchMessage) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	m.SetDate()

	switch msg.Type {
	case domain.DispatchMessageTypePlanPublished:
		m.Subject(fmt.Sprintf("外勤调度 - %s 日计划已发布（%d 个工单）", msg.PlanDate, msg.JobCount))
		if err := m.SetBodyHTMLTemplate(planPublishedTmpl, msg); err != nil {
			return nil, fmt.Errorf("render body: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的派单消息类型 %q", msg.Type)
	}

	return m, nil
}
