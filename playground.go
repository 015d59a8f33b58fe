// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// ErrNoDocument is returned when code-level operations run before a
// document was attached.
var ErrNoDocument = errors.New("no document attached")

// Playground is the embeddable widget core: a code synchronization
// controller plus an execution orchestrator, configured from one Config.
// The hosting shell supplies the Document and consumes DisplayEntries.
type Playground struct {
	Config Config

	logger     Logger
	httpClient HTTPClient
	events     *eventSink
	runner     *Runner
	sync       *CodeSync
}

// NewPlayground reads a YAML config file and builds the widget core.
func NewPlayground(configPath string) (*Playground, []ValidationError, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, err
	}

	return NewPlaygroundFromConfig(cfg)
}

// NewPlaygroundFromConfig validates the config and builds the widget core.
func NewPlaygroundFromConfig(cfg Config) (*Playground, []ValidationError, error) {
	validationErrors := ValidateConfig(cfg)
	if len(validationErrors) != 0 {
		return nil, validationErrors, fmt.Errorf("validation failed")
	}

	p := &Playground{
		Config:     cfg,
		logger:     NewNoopLogger(),
		httpClient: http.DefaultClient,
		events:     &eventSink{},
	}

	var auth Authenticator
	if cfg.Authentication != nil {
		var err error
		auth, err = NewAuthenticator(*cfg.Authentication, p.httpClient)
		if err != nil {
			return nil, nil, err
		}
	}

	var limiter *rate.Limiter
	if cfg.Throttle != nil && cfg.Throttle.RunsPerSecond > 0 {
		burst := cfg.Throttle.Burst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Throttle.RunsPerSecond), burst)
	}

	p.runner = NewRunner(RunnerConfig{
		Endpoint:      cfg.Endpoint,
		Script:        cfg.Script,
		Headers:       cfg.Headers,
		Disabled:      cfg.Disabled,
		Authenticator: auth,
		Limiter:       limiter,
	})

	return p, nil, nil
}

func (p *Playground) SetLogger(logger Logger) {
	p.logger = logger
	p.runner.SetLogger(logger)
	if p.sync != nil {
		p.sync.SetLogger(logger)
	}
}

// SetClient injects the HTTP client used for execution, alias resolution
// and login requests.
func (p *Playground) SetClient(client HTTPClient) {
	p.httpClient = client
	p.runner.SetClient(client)
	if p.Config.Authentication != nil {
		// Rebuild so login/oauth flows go through the injected client.
		auth, err := NewAuthenticator(*p.Config.Authentication, client)
		if err != nil {
			p.logger.Error("[Auth] keeping previous authenticator, rebuild failed: %v", err)
			return
		}
		p.runner.auth = auth
		if p.events.Enabled() {
			auth.SetEvents(p.events.ch)
		}
	}
}

// EnableEvents turns on the widget event stream. The caller owns the
// returned channel and must drain it.
func (p *Playground) EnableEvents() chan WidgetEvent {
	p.events = &eventSink{ch: make(chan WidgetEvent, 64)}
	p.runner.setEvents(p.events)
	return p.events.Channel()
}

// CloseEvents detaches the event stream and closes the channel. The widget
// owns the close so a late emit can never hit a closed channel; events after
// this call are dropped. Must not race with an in-flight Run.
func (p *Playground) CloseEvents() {
	if !p.events.Enabled() {
		return
	}
	ch := p.events.ch
	p.events = &eventSink{}
	p.runner.setEvents(p.events)
	close(ch)
}

// AttachDocument resolves the initial code and wires the document into the
// synchronization controller. Seed priority: resolved alias, explicit
// config code, ambient document content, built-in default snippet.
func (p *Playground) AttachDocument(ctx context.Context, doc Document) error {
	if p.Config.ReadOnly && !doc.ReadOnly() {
		return fmt.Errorf("config is read-only but the document accepts edits")
	}

	seed := ""
	source := ""
	switch {
	case p.Config.Alias != "":
		code, err := p.resolveAlias(ctx, p.Config.Alias)
		if err != nil {
			return err
		}
		seed, source = code, "alias"
	case p.Config.Code != "":
		seed, source = p.Config.Code, "config"
	case doc.Content() != "":
		seed, source = doc.Content(), "ambient"
	default:
		seed, source = DefaultSnippet, "default"
	}

	p.sync = NewCodeSync(doc, seed)
	p.sync.SetLogger(p.logger)
	p.sync.OnChange(func(code string) {
		p.events.emit(EVENT_CODE_CHANGE, "Code Changed", "", map[string]any{
			"bytes": len(code),
		})
	})

	p.logger.Info("[Seed] initial code from %s (%d bytes)", source, len(seed))
	p.events.emit(EVENT_CODE_SEEDED, "Code Seeded", "", map[string]any{
		"source": source,
		"bytes":  len(seed),
	})
	return nil
}

type aliasResponse struct {
	Code string `json:"code"`
}

func (p *Playground) resolveAlias(ctx context.Context, alias string) (string, error) {
	endpoint := p.Config.AliasEndpoint + "/" + url.PathEscape(alias)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("error creating alias request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("alias resolution failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("alias resolution failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("alias resolution returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded aliasResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("malformed alias response: %w", err)
	}
	return decoded.Code, nil
}

// Code returns the canonical current source.
func (p *Playground) Code() string {
	if p.sync == nil {
		return ""
	}
	return p.sync.Code()
}

// Push applies an externally supplied value to the widget.
func (p *Playground) Push(v string) bool {
	if p.sync == nil {
		return false
	}
	changed := p.sync.Push(v)
	if changed {
		p.events.emit(EVENT_CODE_PUSH, "External Push", "", map[string]any{
			"bytes": len(v),
		})
	}
	return changed
}

// OnCodeChange registers an outward listener for local edits.
func (p *Playground) OnCodeChange(fn func(code string)) {
	if p.sync != nil {
		p.sync.OnChange(fn)
	}
}

// Run submits the current code to the execution service.
func (p *Playground) Run(ctx context.Context) (*ExecutionResult, error) {
	if p.sync == nil {
		return nil, ErrNoDocument
	}
	return p.runner.Run(ctx, p.sync.Code())
}

// State reports whether a run is in flight.
func (p *Playground) State() RunState {
	return p.runner.State()
}

// Result returns the latest ExecutionResult, nil when the last run failed.
func (p *Playground) Result() *ExecutionResult {
	return p.runner.Result()
}

// Failure returns the latest ExecutionFailure, nil when the last run
// succeeded.
func (p *Playground) Failure() *ExecutionFailure {
	return p.runner.Failure()
}

// Entries renders the latest result as the ordered display sequence.
func (p *Playground) Entries() []DisplayEntry {
	return RenderLogs(p.runner.Result())
}
