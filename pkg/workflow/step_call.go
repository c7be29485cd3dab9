package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	internallog "github.com/stepflow/engine/internal/log"
	engineerrors "github.com/stepflow/engine/pkg/errors"
	"github.com/stepflow/engine/pkg/service"
	"github.com/stepflow/engine/pkg/workflow/schema"
)

// ConfigCall is the call step's configuration.
type ConfigCall struct {
	Service string
	Method  string
	Input   map[string]any

	TimeoutSeconds float64
	Retries        int
	RetryDelay     float64
	RetryBackoff   float64

	// OutputKey stores the raw result at ctx[OutputKey] when OutputSchema
	// is nil.
	OutputKey string
	// OutputSchema, when set, validates the result before storing it at
	// ctx[OutputKey].
	OutputSchema map[string]any
}

// callExecutor invokes a named service method through an injected
// service.Resolver, applying timeout, retry, output-schema, and circuit
// breaking policy.
type callExecutor struct {
	resolver  service.Resolver
	validator schema.Validator
	logger    *slog.Logger

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

func newCallExecutor(e *Engine) Executor {
	return &callExecutor{
		resolver:  e.services,
		validator: schema.NewValidator(),
		logger:    e.logger,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (x *callExecutor) breakerFor(name string) *gobreaker.CircuitBreaker {
	x.breakersMu.Lock()
	defer x.breakersMu.Unlock()
	if cb, ok := x.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	x.breakers[name] = cb
	return cb
}

func (x *callExecutor) Call(ctx context.Context, step *StepDef, state *State) (StepOutcome, error) {
	cfg, _ := step.Config.(*ConfigCall)
	if cfg == nil {
		return StepOutcome{}, &engineerrors.ConfigError{Reason: "call step missing configuration"}
	}

	if x.resolver == nil {
		return StepOutcome{}, &engineerrors.ConfigError{Reason: "no service resolver configured"}
	}

	method, err := x.resolver.Resolve(cfg.Service)
	if err != nil {
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "service not found", Cause: err}
	}

	input, _ := resolveValue(state, cfg.Input).(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	retries := cfg.Retries
	delay := cfg.RetryDelay
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 1
	}

	breaker := x.breakerFor(cfg.Service)
	svcLogger := internallog.WithService(x.logger, cfg.Service)

	var result map[string]any
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		result, lastErr = x.invokeOnce(ctx, breaker, step.ID, method, input, cfg.TimeoutSeconds)
		if lastErr == nil {
			break
		}
		svcLogger.Debug("service call failed", "attempt", attempt, "retries_remaining", retries-attempt, internallog.Error(lastErr))
		if attempt < retries && delay > 0 {
			time.Sleep(time.Duration(delay * pow(backoff, float64(attempt)) * float64(time.Second)))
		}
	}
	if lastErr != nil {
		if timeoutErr, ok := lastErr.(*engineerrors.TimeoutError); ok {
			return StepOutcome{}, &engineerrors.ExecutionError{
				Step:    step.ID,
				Message: fmt.Sprintf("Step %s timed out after %gs", step.ID, cfg.TimeoutSeconds),
				Cause:   timeoutErr,
			}
		}
		return StepOutcome{}, &engineerrors.ExecutionError{Step: step.ID, Message: "service call failed", Cause: lastErr}
	}

	if cfg.OutputSchema != nil {
		if err := x.validator.Validate(cfg.OutputSchema, result); err != nil {
			return StepOutcome{}, &engineerrors.ValidationError{
				Field:   cfg.OutputKey,
				Message: err.Error(),
			}
		}
	}

	key := cfg.OutputKey
	if key == "" {
		key = step.ID
	}
	next := state.WithCtx(key, any(result))

	return StepOutcome{State: next, Continue: &ContinueResult{}}, nil
}

func (x *callExecutor) invokeOnce(ctx context.Context, breaker *gobreaker.CircuitBreaker, stepID string, method service.Method, input map[string]any, timeoutSeconds float64) (map[string]any, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeoutSeconds > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	out, err := breaker.Execute(func() (any, error) {
		return method(callCtx, input)
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, &engineerrors.TimeoutError{
				Operation: fmt.Sprintf("step %s", stepID),
				Duration:  time.Duration(timeoutSeconds * float64(time.Second)),
				Cause:     err,
			}
		}
		return nil, err
	}

	result, _ := out.(map[string]any)
	return result, nil
}

func pow(base, exp float64) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
