package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	nodex "github.com/tanpawarit/makwenta/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/makwenta/agent/state"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidThread  = nodex.ErrInvalidThread
)

const (
	DefaultMaxRounds = 8

	// The distributed lock is never renewed, so its lease must outlast a
	// turn that spends every round waiting on the model.
	lockTTLPerRound = time.Minute
	lockTTLSlack    = time.Minute
)

type Config struct {
	// MaxRounds caps planning calls per turn.
	MaxRounds int
	// HistoryLimit trims stored history before each turn; 0 keeps everything.
	HistoryLimit int
	// DefaultBudget seeds the snapshot of a new conversation.
	DefaultBudget contractx.BudgetSnapshot
	// LockTTL bounds how long a distributed thread lock may be held. Zero
	// derives it from MaxRounds.
	LockTTL time.Duration
}

// Result is the outcome of one turn.
type Result struct {
	TurnID       string
	Reply        string
	Rounds       int
	LimitReached bool
}

type Orchestrator struct {
	store      statex.Store
	locker     statex.Locker
	model      contractx.CapabilityModel
	directive  nodex.Directive
	dispatcher contractx.Dispatcher
	cfg        Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]
	threads     *threadLocks

	log    zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds an orchestrator. When store also implements statex.Locker,
// turns are serialized per thread across processes too.
func New(
	store statex.Store,
	model contractx.CapabilityModel,
	directive nodex.Directive,
	dispatcher contractx.Dispatcher,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if model == nil {
		return nil, errors.New("capability model is required")
	}
	if directive == nil {
		return nil, errors.New("system directive is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = lockTTLFor(cfg.MaxRounds)
	}

	o := &Orchestrator{
		store:      store,
		model:      model,
		directive:  directive,
		dispatcher: dispatcher,
		cfg:        cfg,
		threads:    newThreadLocks(),
		log:        logx.For("orchestrator"),
		tracer:     otel.Tracer("github.com/tanpawarit/makwenta/agent/agents/orchestrator"),
		now:        time.Now,
	}
	if l, ok := store.(statex.Locker); ok {
		o.locker = l
	}
	for _, opt := range opts {
		opt(o)
	}

	graphRunner, err := o.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one full turn for threadID. A turn that fails or is
// cancelled saves nothing; actions it already completed stay committed.
func (o *Orchestrator) HandleMessage(ctx context.Context, threadID string, text string) (Result, error) {
	// Locks, storage and ledger identity all key on the trimmed id.
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return Result{}, ErrInvalidThread
	}

	turnID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("thread_id", threadID),
		attribute.String("turn_id", turnID),
	))
	defer span.End()

	logger := o.log.With().Str("thread_id", threadID).Str("turn_id", turnID).Logger()

	unlock := o.threads.lock(threadID)
	defer unlock()

	if o.locker != nil {
		release, err := o.locker.Lock(ctx, threadID, o.cfg.LockTTL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lock thread")
			return Result{}, fmt.Errorf("lock thread: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("release thread lock")
			}
		}()
	}

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		TurnID:   turnID,
		ThreadID: threadID,
		Text:     text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		logger.Error().Err(err).Msg("turn failed")
		return Result{}, err
	}

	span.SetAttributes(attribute.Int("rounds", out.Rounds), attribute.Bool("limit_reached", out.LimitReached))
	logger.Info().Int("rounds", out.Rounds).Bool("limit_reached", out.LimitReached).Msg("turn completed")
	return Result{
		TurnID:       turnID,
		Reply:        out.Reply,
		Rounds:       out.Rounds,
		LimitReached: out.LimitReached,
	}, nil
}

func lockTTLFor(maxRounds int) time.Duration {
	return time.Duration(maxRounds)*lockTTLPerRound + lockTTLSlack
}

// threadLocks hands out one mutex per thread id and forgets it once no turn
// holds or waits for it.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

func (t *threadLocks) lock(threadID string) func() {
	t.mu.Lock()
	l, ok := t.locks[threadID]
	if !ok {
		l = &threadLock{}
		t.locks[threadID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, threadID)
		}
		t.mu.Unlock()
	}
}
