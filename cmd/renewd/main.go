package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"

	"renewbot-backend/lib/configutil"
	"renewbot-backend/lib/scrapers/nodeseek"
	"renewbot-backend/lib/scrapers/solver"
	"renewbot-backend/lib/scrapers/xserver"
	"renewbot-backend/lib/serviceutil"
	"renewbot-backend/lib/telemetry"
	"renewbot-backend/services/accounts"
	"renewbot-backend/services/auditlog"
	"renewbot-backend/services/opsapi"
	"renewbot-backend/services/renewal"
	"renewbot-backend/services/reporter"
	"renewbot-backend/services/scheduler"
	"renewbot-backend/services/sites"
	"renewbot-backend/services/summary"
	"renewbot-backend/services/userstore"

	_ "modernc.org/sqlite"
)

type ForumSiteConfig struct {
	Enabled          bool   `json:"enabled"`
	BaseUrl          string `json:"base_url"`
	TurnstileSitekey string `json:"turnstile_sitekey"`
}

type XServerSiteConfig struct {
	Enabled             bool   `json:"enabled"`
	BaseUrl             string `json:"base_url"`
	LoginUrl            string `json:"login_url"`
	RenewUrl            string `json:"renew_url"`
	CaptchaUrl          string `json:"captcha_url"`
	TurnstileSitekey    string `json:"turnstile_sitekey"`
	LoginSuccessKeyword string `json:"login_success_keyword"`
	LoginFailureKeyword string `json:"login_failure_keyword"`
	RenewSuccessKeyword string `json:"renew_success_keyword"`
	RenewFailureKeyword string `json:"renew_failure_keyword"`
}

type SolverConfig struct {
	ApiBaseUrl      string `json:"api_base_url"`
	ClientKey       string `json:"client_key"`
	FlaresolverrUrl string `json:"flaresolverr_url"`
	OcrUrl          string `json:"ocr_url"`
}

type Config struct {
	Port        int    `json:"port"`
	DataPath    string `json:"data_path"`
	AuditDbPath string `json:"audit_db_path"`
	// SummaryCron fires the admin-wide summary run, e.g. "30 10 * * *".
	SummaryCron string `json:"summary_cron"`

	Solver SolverConfig        `json:"solver"`
	Email  summary.EmailConfig `json:"email"`

	NodeSeek  ForumSiteConfig   `json:"nodeseek"`
	DeepFlood ForumSiteConfig   `json:"deepflood"`
	XServer   XServerSiteConfig `json:"xserver"`
}

// batchRunner bridges the scheduler to the executor and the summary
// service.
type batchRunner struct {
	store    *userstore.Store
	executor *renewal.Executor
	summary  *summary.Service
}

func (r *batchRunner) RunUser(ctx context.Context, uid string) {
	data, err := r.store.Load()
	if err != nil {
		slog.Error("scheduled run could not load state", "uid", uid, "err", err)
		return
	}
	targets := renewal.TargetsForUser(data, uid)
	if targets == nil {
		slog.Warn("scheduled run for a user without accounts", "uid", uid)
		return
	}
	out := r.executor.Run(ctx, renewal.BatchRequest{
		Targets: targets,
		Modes:   renewal.ModesFor(data, targets),
		Source:  renewal.SourceAuto,
		Actor:   renewal.ActorSystem,
	})
	if out.PersistErr != nil {
		slog.Error("scheduled run finished with a persistence failure",
			"uid", uid, "err", out.PersistErr)
	}
}

func (r *batchRunner) RunSummary(ctx context.Context) {
	_, err := r.summary.Run(ctx)
	if err != nil {
		slog.Error("summary run failed", "err", err)
	}
}

func buildRegistry(config Config, solverClient *solver.Client) (*sites.Registry, error) {
	registry := sites.NewRegistry()

	forums := []struct {
		cfg  ForumSiteConfig
		info sites.Info
	}{
		{config.NodeSeek, sites.Info{ID: "ns", Name: "NodeSeek", Emoji: "🍗"}},
		{config.DeepFlood, sites.Info{ID: "df", Name: "DeepFlood", Emoji: "🐟"}},
	}
	for _, forum := range forums {
		if !forum.cfg.Enabled {
			continue
		}
		info := forum.info
		info.Domain = forum.cfg.BaseUrl
		client, err := nodeseek.NewClient(nodeseek.Options{
			BaseUrl:          forum.cfg.BaseUrl,
			TurnstileSitekey: forum.cfg.TurnstileSitekey,
			Solver:           solverClient,
		})
		if err != nil {
			return nil, err
		}
		err = registry.Register(sites.NewNodeSeekAdapter(info, client))
		if err != nil {
			return nil, err
		}
	}

	if config.XServer.Enabled {
		client, err := xserver.NewClient(xserver.Options{
			BaseUrl:             config.XServer.BaseUrl,
			LoginUrl:            config.XServer.LoginUrl,
			RenewUrl:            config.XServer.RenewUrl,
			CaptchaUrl:          config.XServer.CaptchaUrl,
			TurnstileSitekey:    config.XServer.TurnstileSitekey,
			LoginSuccessKeyword: config.XServer.LoginSuccessKeyword,
			LoginFailureKeyword: config.XServer.LoginFailureKeyword,
			RenewSuccessKeyword: config.XServer.RenewSuccessKeyword,
			RenewFailureKeyword: config.XServer.RenewFailureKeyword,
			Solver:              solverClient,
		})
		if err != nil {
			return nil, err
		}
		info := sites.Info{ID: "xs", Name: "XServer", Domain: config.XServer.BaseUrl, Emoji: "🗄️"}
		err = registry.Register(sites.NewXServerAdapter(info, client))
		if err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func main() {
	verbose := flag.Bool("v", false, "enable verbose logging")
	flag.Parse()
	telemetry.InitSlog(*verbose)

	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "renewd")
	if err != nil {
		slog.Warn("telemetry export disabled", "err", err)
	} else {
		defer tel.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	}

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	store := userstore.Open(config.DataPath)
	data, err := store.Load()
	if err != nil {
		serviceutil.Fatal("failed to load state", err)
	}
	slog.Info("state loaded", "users", len(data.Users))

	auditDb, err := sql.Open("sqlite", config.AuditDbPath)
	if err != nil {
		serviceutil.Fatal("failed to open audit db", err)
	}
	defer auditDb.Close()
	_, err = auditDb.Exec(auditlog.Schema)
	if err != nil {
		serviceutil.Fatal("failed to apply audit schema", err)
	}

	solverClient := solver.NewClient(solver.Options{
		ApiBaseUrl:      config.Solver.ApiBaseUrl,
		ClientKey:       config.Solver.ClientKey,
		FlaresolverrUrl: config.Solver.FlaresolverrUrl,
		OcrUrl:          config.Solver.OcrUrl,
	})
	registry, err := buildRegistry(config, solverClient)
	if err != nil {
		serviceutil.Fatal("failed to build site registry", err)
	}
	slog.Info("site adapters registered", "sites", registry.IDs())

	audit := auditlog.NewService(auditDb, auditlog.Options{})
	executor := renewal.NewExecutor(store, registry, audit, renewal.Options{})
	rep := reporter.New()
	summarySvc := summary.NewService(store, executor, rep, config.Email)

	runner := &batchRunner{store: store, executor: executor, summary: summarySvc}
	sched, err := scheduler.New(runner, scheduler.Options{SummarySpec: config.SummaryCron})
	if err != nil {
		serviceutil.Fatal("failed to build scheduler", err)
	}
	sched.Sync(data)
	sched.Start(ctx)

	accountsSvc := accounts.NewService(store, registry, sched)
	handler := opsapi.NewHandler(store, executor, rep, accountsSvc, audit, summarySvc)
	serviceutil.StartHttpServer(config.Port, handler)
}
