package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tanpawarit/makwenta/agent/agents/orchestrator"
	"github.com/tanpawarit/makwenta/agent/agents/planner"
	contractx "github.com/tanpawarit/makwenta/agent/contract"
	"github.com/tanpawarit/makwenta/agent/llm"
	"github.com/tanpawarit/makwenta/agent/prompt"
	statex "github.com/tanpawarit/makwenta/agent/state"
	"github.com/tanpawarit/makwenta/agent/tool"
	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/ledger/memstore"
	"github.com/tanpawarit/makwenta/finance/ledger/pgstore"
	"github.com/tanpawarit/makwenta/finance/recurring"
	configx "github.com/tanpawarit/makwenta/pkg/config"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
	openrouterx "github.com/tanpawarit/makwenta/pkg/openrouter"
	"github.com/tanpawarit/makwenta/pkg/postgres"
	"github.com/tanpawarit/makwenta/pkg/telemetry"
)

const (
	kindMemory   = "memory"
	kindUpstash  = "upstash"
	kindPostgres = "postgres"
)

type AppConfig struct {
	Addr                string          `split_words:"true" default:":8080"`
	MaxRounds           int             `split_words:"true" default:"8"`
	HistoryLimit        int             `split_words:"true" default:"60"`
	Currency            string          `split_words:"true" default:"₱"`
	DefaultWeeklyBudget decimal.Decimal `split_words:"true" default:"2000"`
	// StoreKind selects conversation storage: memory or upstash.
	StoreKind string `split_words:"true" default:"memory"`
	// LedgerKind selects the finance ledger: memory or postgres.
	LedgerKind  string `split_words:"true" default:"memory"`
	CallbackURL string `envconfig:"CALLBACK_URL"`
	// LockTTL caps how long one turn may hold a thread across processes.
	// Zero derives it from MaxRounds.
	LockTTL         time.Duration `envconfig:"LOCK_TTL"`
	SessionTTL      time.Duration `envconfig:"SESSION_TTL"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s"`
}

// app holds what every subcommand shares: the ledger, the recurring
// processor and the telemetry pipeline.
type app struct {
	cfg       AppConfig
	log       zerolog.Logger
	ledger    ledger.Store
	processor *recurring.Processor

	closers []func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := configx.New[AppConfig]("APP")
	if err != nil {
		return nil, err
	}

	a := &app{cfg: *cfg, log: logx.For("cmd")}

	otelCfg, err := configx.New[telemetry.Config]("OTEL")
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Setup(ctx, *otelCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.processor, err = recurring.NewProcessor(a.ledger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openLedger(ctx context.Context) error {
	switch strings.ToLower(strings.TrimSpace(a.cfg.LedgerKind)) {
	case "", kindMemory:
		a.log.Warn().Msg("using in-memory ledger, data is lost on exit")
		a.ledger = memstore.New()
		return nil
	case kindPostgres:
		dbCfg, err := configx.New[postgres.Config]("DATABASE")
		if err != nil {
			return err
		}
		db, err := postgres.Open(ctx, *dbCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })

		store, err := pgstore.New(db)
		if err != nil {
			return err
		}
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		a.ledger = store
		return nil
	default:
		return fmt.Errorf("unknown ledger kind %q", a.cfg.LedgerKind)
	}
}

func (a *app) openStateStore() (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(a.cfg.StoreKind)) {
	case "", kindMemory:
		return statex.NewMemoryStore(), nil
	case kindUpstash:
		redisCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, err
		}
		var opts []statex.StoreOption
		if a.cfg.SessionTTL > 0 {
			opts = append(opts, statex.WithTTL(a.cfg.SessionTTL))
		}
		return statex.NewUpstashRedisStore(*redisCfg, opts...)
	default:
		return nil, fmt.Errorf("unknown store kind %q", a.cfg.StoreKind)
	}
}

func (a *app) defaultBudget() (contractx.BudgetSnapshot, error) {
	limits, err := ledger.NormalizeBudget(a.cfg.DefaultWeeklyBudget, ledger.PeriodWeekly)
	if err != nil {
		return contractx.BudgetSnapshot{}, fmt.Errorf("default weekly budget: %w", err)
	}
	return contractx.BudgetSnapshot{
		CurrencySymbol: a.cfg.Currency,
		DailyLimits:    map[string]decimal.Decimal{tool.AllCategories: limits.Daily},
		WeeklyLimits:   map[string]decimal.Decimal{tool.AllCategories: limits.Weekly},
	}, nil
}

// orchestrator wires the full turn pipeline. Only commands that talk to the
// model need it, so the LLM config is loaded here and not in newApp.
func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	llmCfg, err := configx.New[llm.Config]("LLM")
	if err != nil {
		return nil, err
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}
	orCfg := llmCfg.PlannerOpenRouter()

	if llmCfg.VerifyModel {
		client := openrouterx.NewClient(orCfg)
		if client == nil {
			return nil, errors.New("failed to initialize openrouter client")
		}
		if err := openrouterx.VerifyModel(ctx, client, orCfg.Model); err != nil {
			return nil, err
		}
	}

	chatModel, err := orCfg.New(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := tool.NewFinanceCatalog(tool.Finance{
		Ledger:              a.ledger,
		Processor:           a.processor,
		Currency:            a.cfg.Currency,
		DefaultWeeklyBudget: a.cfg.DefaultWeeklyBudget,
	})
	if err != nil {
		return nil, err
	}
	executor, err := tool.NewExecutor(catalog)
	if err != nil {
		return nil, err
	}

	prompts := prompt.LoadPromptSet()
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	directive, err := planner.NewDirective(prompts.Planner)
	if err != nil {
		return nil, err
	}
	plan, err := planner.New(ctx, chatModel, catalog.ToolInfos())
	if err != nil {
		return nil, err
	}

	store, err := a.openStateStore()
	if err != nil {
		return nil, err
	}
	budget, err := a.defaultBudget()
	if err != nil {
		return nil, err
	}

	a.log.Info().
		Str("model", orCfg.Model).
		Str("store", a.cfg.StoreKind).
		Str("ledger", a.cfg.LedgerKind).
		Int("actions", len(catalog.Names())).
		Msg("orchestrator ready")

	return orchestrator.New(store, plan, directive, executor, orchestrator.Config{
		MaxRounds:     a.cfg.MaxRounds,
		HistoryLimit:  a.cfg.HistoryLimit,
		DefaultBudget: budget,
		LockTTL:       a.cfg.LockTTL,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
	a.closers = nil
}

func setupContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseAsOf reads a YYYY-MM-DD flag value, defaulting to today in UTC.
func parseAsOf(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return ledger.DateOf(time.Now()), nil
	}
	return ledger.ParseDate(raw)
}
