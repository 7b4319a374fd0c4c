package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/retry"
)

// ExecutorConfig configures execution behavior.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel tool executions across all sessions.
	// Default: 8
	MaxConcurrency int

	// DefaultTimeout bounds a single tool attempt.
	// Default: 30s
	DefaultTimeout time.Duration

	// MaxRetries is the retry budget per call for retryable failures.
	// Default: 1
	MaxRetries int

	// RetryBackoff is the pause before the first retry; later retries back
	// off exponentially from it, capped at DefaultTimeout.
	// Default: 200ms
	RetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 8,
		DefaultTimeout: 30 * time.Second,
		MaxRetries:     1,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// ExecutionResult is the outcome of one tool call, including timing and the
// number of attempts made.
type ExecutionResult struct {
	Call     Call
	Result   *Result
	Err      error
	Duration time.Duration
	Attempts int
}

// Executor runs tool calls with backpressure, per-attempt timeouts, a panic
// guard, and a bounded retry for retryable failures.
//
// Thread Safety:
// Executor is safe for concurrent use.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	sem      chan struct{}
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	defaults := DefaultExecutorConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// Registry returns the underlying tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs one tool call to completion. Validation failures are not
// retried; a retryable failure gets one more attempt within the budget.
func (e *Executor) Execute(ctx context.Context, call Call) *ExecutionResult {
	start := time.Now()
	out := &ExecutionResult{Call: call}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		out.Err = errs.Wrap(errs.KindCancelled, "waiting for executor slot", ctx.Err())
		out.Duration = time.Since(start)
		return out
	}

	// Validate once up front; schema failures never consume an attempt.
	if err := e.registry.Validate(call.Name, call.Input); err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		out.Attempts = attempt + 1

		result, err := e.executeAttempt(ctx, call)
		if err == nil {
			out.Result = result
			out.Duration = time.Since(start)
			return out
		}
		lastErr = err

		if !errs.KindOf(err).Retryable() || ctx.Err() != nil || attempt >= e.config.MaxRetries {
			break
		}
		select {
		case <-time.After(retry.Backoff(attempt+1, e.config.RetryBackoff, e.config.DefaultTimeout, 2)):
		case <-ctx.Done():
			lastErr = errs.Wrap(errs.KindCancelled, call.Name, ctx.Err())
			attempt = e.config.MaxRetries
		}
	}

	out.Err = lastErr
	out.Duration = time.Since(start)
	return out
}

// executeAttempt runs a single attempt with a timeout and panic guard.
func (e *Executor) executeAttempt(ctx context.Context, call Call) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	type attempt struct {
		result *Result
		err    error
	}
	done := make(chan attempt, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attempt{err: errs.New(errs.KindTool,
					fmt.Sprintf("%s panicked: %v\n%s", call.Name, r, debug.Stack()))}
			}
		}()

		tool, ok := e.registry.Get(call.Name)
		if !ok {
			done <- attempt{err: errs.New(errs.KindValidation, "unknown tool: "+call.Name)}
			return
		}
		result, err := tool.Execute(execCtx, call.Input)
		if err != nil {
			// Keep the tool's own classification so retryable kinds stay
			// retryable; only unclassified failures become tool errors.
			var ce *errs.Error
			switch {
			case errors.As(err, &ce):
			case errors.Is(err, context.Canceled):
				err = errs.Wrap(errs.KindCancelled, call.Name, err)
			case errors.Is(err, context.DeadlineExceeded):
				err = errs.Wrap(errs.KindTimeout, call.Name, err)
			default:
				err = errs.Wrap(errs.KindTool, call.Name, err)
			}
			done <- attempt{err: err}
			return
		}
		done <- attempt{result: result}
	}()

	select {
	case res := <-done:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindCancelled, call.Name, ctx.Err())
		}
		return nil, errs.New(errs.KindTimeout,
			fmt.Sprintf("%s timed out after %s", call.Name, e.config.DefaultTimeout))
	}
}
