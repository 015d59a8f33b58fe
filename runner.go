// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Errors for run operations.
var (
	// ErrDisabled is returned when the widget is configured disabled.
	ErrDisabled = errors.New("playground is disabled")

	// ErrRunInFlight is returned when a run is started while another one
	// is still running. The second call has no side effects.
	ErrRunInFlight = errors.New("a run is already in flight")

	// ErrTransport is returned on network failures, non-2xx statuses and
	// malformed response bodies. The wrapped message carries the raw
	// response text.
	ErrTransport = errors.New("execution request failed")

	// ErrRemoteExecution is returned when the execution service reports an
	// explicit failure for the submitted code.
	ErrRemoteExecution = errors.New("remote execution failed")
)

// RunState is the orchestrator's observable state.
type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
)

// ExecutionResult is the outcome of one successful run. Replaced wholesale
// on the next run, never merged with a previous result.
type ExecutionResult struct {
	DurationMs int64       `json:"duration"`
	Logs       []LogRecord `json:"logs"`
}

// ExecutionFailure is the outcome of one failed run, mutually exclusive
// with ExecutionResult.
type ExecutionFailure struct {
	Message string `json:"message"`
}

// Wire types for the execution endpoint.
type runRequest struct {
	Code string   `json:"code"`
	Args []string `json:"args"`
}

type runResponse struct {
	JSON runOutcome `json:"json"`
}

type runOutcome struct {
	OK   bool        `json:"ok"`
	Logs []LogRecord `json:"logs,omitempty"`
	// Duration is a pointer so an explicit 0ms run stays distinguishable
	// from an absent field.
	Duration *int64 `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Runner submits code to the execution endpoint and tracks the in-flight
// state plus the latest result or failure. At most one run is in flight.
type Runner struct {
	endpoint   string
	script     string
	headers    map[string]string
	disabled   bool
	httpClient HTTPClient
	auth       Authenticator
	limiter    *rate.Limiter
	logger     Logger
	events     *eventSink

	mu      sync.Mutex
	state   RunState
	result  *ExecutionResult
	failure *ExecutionFailure
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Endpoint is the URL of the execution service. Required.
	Endpoint string

	// Script is the harness submitted as the request's code field; the
	// edited source travels as its single argument. Empty selects the
	// built-in harness.
	Script string

	// Headers are added to every execution request.
	Headers map[string]string

	// Disabled turns Run into a warning no-op.
	Disabled bool

	// Authenticator prepares outgoing requests. Optional.
	Authenticator Authenticator

	// Limiter throttles run submissions. Optional.
	Limiter *rate.Limiter

	// Logger is an optional logger for run events.
	Logger Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	script := cfg.Script
	if script == "" {
		script = DefaultScript
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NewNoopLogger()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = &NoopAuthenticator{baseAuthenticator: &baseAuthenticator{authType: "none"}}
	}

	return &Runner{
		endpoint:   cfg.Endpoint,
		script:     script,
		headers:    cfg.Headers,
		disabled:   cfg.Disabled,
		httpClient: http.DefaultClient,
		auth:       auth,
		limiter:    cfg.Limiter,
		logger:     logger,
		events:     &eventSink{},
		state:      StateIdle,
	}
}

func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

func (r *Runner) SetClient(client HTTPClient) {
	r.httpClient = client
}

func (r *Runner) setEvents(events *eventSink) {
	r.events = events
	if events != nil {
		r.auth.SetEvents(events.ch)
	}
}

// State reports whether a run is in flight.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the latest ExecutionResult, or nil if the last run failed
// or no run completed yet.
func (r *Runner) Result() *ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Failure returns the latest ExecutionFailure, or nil.
func (r *Runner) Failure() *ExecutionFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Run submits the source to the execution endpoint and waits for the
// outcome. The previous result and failure are cleared as soon as the run
// starts so stale output is never observable during a pending run.
func (r *Runner) Run(ctx context.Context, source string) (*ExecutionResult, error) {
	if r.disabled {
		r.logger.Warning("[Run] playground is disabled, ignoring run request")
		return nil, ErrDisabled
	}

	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		r.logger.Warning("[Run] rejected: a run is already in flight")
		return nil, ErrRunInFlight
	}
	r.state = StateRunning
	r.result = nil
	r.failure = nil
	r.mu.Unlock()

	runID := uuid.New().String()
	start := time.Now()
	r.events.emit(EVENT_RUN_START, "Run Start", "", map[string]any{
		"runId":       runID,
		"sourceBytes": len(source),
	})

	result, err := r.execute(ctx, runID, source)

	r.mu.Lock()
	r.state = StateIdle
	if err != nil {
		r.failure = &ExecutionFailure{Message: failureMessage(err)}
	} else {
		r.result = result
	}
	r.mu.Unlock()

	if err != nil {
		r.events.emit(EVENT_RUN_FAILURE, "Run Failed", runID, map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	r.events.emit(EVENT_RUN_RESULT, "Run Complete", runID, map[string]any{
		"durationMs": result.DurationMs,
		"logCount":   len(result.Logs),
		"elapsedMs":  time.Since(start).Milliseconds(),
	})
	return result, nil
}

func (r *Runner) execute(ctx context.Context, runID, source string) (*ExecutionResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	payload := runRequest{
		Code: r.script,
		Args: []string{source},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if err := r.auth.PrepareRequest(req, runID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	r.logger.Info("[Run] POST %s (%d bytes of source)", r.endpoint, len(source))
	r.events.emit(EVENT_RUN_REQUEST, "Execution Request", runID, map[string]any{
		"endpoint": r.endpoint,
	})

	requestStart := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, string(raw))
	}

	var decoded runResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: malformed response body: %s", ErrTransport, string(raw))
	}

	outcome := decoded.JSON
	if !outcome.OK {
		return nil, fmt.Errorf("%w: %s", ErrRemoteExecution, outcome.Error)
	}

	duration := time.Since(requestStart).Milliseconds()
	if outcome.Duration != nil {
		duration = *outcome.Duration
	}

	return &ExecutionResult{
		DurationMs: duration,
		Logs:       outcome.Logs,
	}, nil
}

// failureMessage strips the error-class prefix so the stored failure
// carries the remote message verbatim.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrRemoteExecution):
		return strings.TrimPrefix(err.Error(), ErrRemoteExecution.Error()+": ")
	case errors.Is(err, ErrTransport):
		return strings.TrimPrefix(err.Error(), ErrTransport.Error()+": ")
	default:
		return err.Error()
	}
}
