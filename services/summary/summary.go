package summary

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"renewbot-backend/lib/telemetry"
	"renewbot-backend/services/renewal"
	"renewbot-backend/services/reporter"
	"renewbot-backend/services/userstore"

	"github.com/jordan-wright/email"
)

var tracer = telemetry.Tracer("services/summary")

type EmailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

func (c EmailConfig) enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

// Service runs the admin-wide daily batch, registers the full result
// set with the reporter and optionally mails page 0 to the operators.
type Service struct {
	store    *userstore.Store
	executor *renewal.Executor
	reporter *reporter.Reporter
	email    EmailConfig
}

func NewService(store *userstore.Store, executor *renewal.Executor, rep *reporter.Reporter, emailCfg EmailConfig) *Service {
	return &Service{
		store:    store,
		executor: executor,
		reporter: rep,
		email:    emailCfg,
	}
}

// Run executes renewal for every stored account and returns the first
// page of the registered result set.
func (s *Service) Run(ctx context.Context) (reporter.Page, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	data, err := s.store.Load()
	if err != nil {
		return reporter.Page{}, fmt.Errorf("load state: %w", err)
	}

	targets := renewal.TargetsForAll(data)
	out := s.executor.Run(ctx, renewal.BatchRequest{
		Targets: targets,
		Modes:   renewal.ModesFor(data, targets),
		Source:  renewal.SourceAuto,
		Actor:   renewal.ActorSystem,
	})
	if out.PersistErr != nil {
		slog.Error("summary batch finished with a persistence failure", "err", out.PersistErr)
	}

	names := map[string]string{}
	for uid, user := range data.Users {
		names[uid] = user.DisplayName
	}

	page, err := s.reporter.Register(&reporter.ResultSet{
		Results: out.Results,
		Names:   names,
		Title:   "daily renewal summary",
	})
	if err != nil {
		return reporter.Page{}, err
	}

	s.mail(page)
	return page, nil
}

func (s *Service) mail(page reporter.Page) {
	if !s.email.enabled() {
		return
	}

	msg := email.NewEmail()
	msg.From = s.email.From
	msg.To = s.email.To
	msg.Subject = "daily renewal summary"
	msg.Text = []byte(page.Content)

	addr := fmt.Sprintf("%s:%d", s.email.Host, s.email.Port)
	err := msg.Send(addr, smtp.PlainAuth("", s.email.Username, s.email.Password, s.email.Host))
	if err != nil {
		slog.Error("failed to send summary email", "err", err)
		return
	}
	slog.Info("summary email sent", "recipients", len(s.email.To))
}
