package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
)

// Argument keys that carry trusted context. A planner must never set them.
var reservedArgs = []string{"user_id", "current_budget"}

// Executor runs planner action requests against the catalog.
type Executor struct {
	catalog *Catalog
	log     zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

var _ contractx.Dispatcher = (*Executor)(nil)

type ExecutorOption func(*Executor)

func WithExecutorLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

func WithExecutorTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(catalog *Catalog, opts ...ExecutorOption) (*Executor, error) {
	if catalog == nil {
		return nil, errors.New("action catalog is required")
	}
	e := &Executor{
		catalog: catalog,
		log:     logx.For("tool"),
		tracer:  otel.Tracer("github.com/tanpawarit/makwenta/agent/tool"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dispatch executes reqs one after another and returns one observation per
// request in the same order. Action failures become error observations. The
// only batch-level error is a correlation id conflict, in which case nothing
// runs.
func (e *Executor) Dispatch(ctx context.Context, inv contractx.Invocation, reqs []contractx.ActionRequest) ([]contractx.Observation, error) {
	if err := contractx.ValidateCorrelation(reqs); err != nil {
		e.log.Error().Err(err).Str("thread_id", inv.UserID).Int("requests", len(reqs)).Msg("rejecting action batch")
		return nil, err
	}
	if inv.Now.IsZero() {
		inv.Now = e.now()
	}

	out := make([]contractx.Observation, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, e.dispatchOne(ctx, inv, req))
	}
	return out, nil
}

func (e *Executor) dispatchOne(ctx context.Context, inv contractx.Invocation, req contractx.ActionRequest) (obs contractx.Observation) {
	ctx, span := e.tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("action", req.Name),
		attribute.String("correlation_id", req.CorrelationID),
	))
	defer span.End()

	logger := e.log.With().
		Str("thread_id", inv.UserID).
		Str("action", req.Name).
		Str("correlation_id", req.CorrelationID).
		Logger()

	fail := func(detail string) contractx.Observation {
		span.SetStatus(codes.Error, detail)
		logger.Warn().Str("detail", detail).Msg("action failed")
		return contractx.FailedObservation(req, detail)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("action panicked")
			obs = fail(fmt.Sprintf("internal error: %v", r))
		}
	}()

	action, ok := e.catalog.Lookup(req.Name)
	if !ok {
		return fail(contractx.ErrUnknownAction.Error())
	}

	raw, err := req.DecodeArguments()
	if err != nil {
		span.RecordError(err)
		return fail(err.Error())
	}
	for _, key := range reservedArgs {
		if _, spoofed := raw[key]; spoofed {
			logger.Warn().Str("key", key).Msg("planner supplied trusted context, ignoring")
			delete(raw, key)
		}
	}

	spec := action.Spec()
	args, err := spec.Validate(raw)
	if err != nil {
		return fail(err.Error())
	}

	call := contractx.Invocation{UserID: inv.UserID, Now: inv.Now}
	if spec.NeedsBudget {
		call.Budget = inv.Budget
	}

	start := time.Now()
	content, err := action.Invoke(ctx, call, args)
	if err != nil {
		span.RecordError(err)
		return fail(err.Error())
	}

	logger.Debug().Dur("elapsed", time.Since(start)).Msg("action completed")
	return contractx.Observation{
		CorrelationID: req.CorrelationID,
		Name:          req.Name,
		Content:       content,
	}
}
