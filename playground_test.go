// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	playground_testing "github.com/noi-techpark/go-playground/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://exec.example.com/run"

func newTestPlayground(t *testing.T, cfg Config, mock *playground_testing.MockRoundTripper) *Playground {
	t.Helper()
	p, validationErrs, err := NewPlaygroundFromConfig(cfg)
	require.Empty(t, validationErrs)
	require.NoError(t, err)
	p.SetClient(&http.Client{Transport: mock})
	return p
}

func TestRunSuccess(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{
			"json": map[string]any{
				"ok":       true,
				"logs":     []any{map[string]any{"level": "log", "args": []any{1}}},
				"duration": 5,
			},
		}},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "console.log(1)"}, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(5), result.DurationMs)

	entries := p.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, DisplayEntry{Text: "1", Severity: SeverityNormal}, entries[0])
	assert.Nil(t, p.Failure())
	assert.Equal(t, StateIdle, p.State())
}

func TestRunSubmitsSourceAsArgument(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{"ok": true}}},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "console.log(1)"}, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	requests := mock.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPost, requests[0].Method)

	var payload struct {
		Code string   `json:"code"`
		Args []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(requests[0].Body, &payload))
	assert.Equal(t, DefaultScript, payload.Code)
	assert.Equal(t, []string{"console.log(1)"}, payload.Args)
}

func TestRunRemoteFailure(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{
			"json": map[string]any{"ok": false, "error": "boom"},
		}},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "x"}, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteExecution)
	assert.Nil(t, result)
	assert.Nil(t, p.Result())

	failure := p.Failure()
	require.NotNil(t, failure)
	assert.Equal(t, "boom", failure.Message)
}

func TestRunTransportFailure(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {StatusCode: 500, RawBody: "internal error"},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "x"}, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "internal error")
	assert.Nil(t, p.Result())
	require.NotNil(t, p.Failure())
}

func TestRunMalformedBody(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {RawBody: "not json at all"},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "x"}, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "not json at all")
}

func TestRunDisabledIsNoOp(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(nil)

	p := newTestPlayground(t, Config{Disabled: true, Code: "x"}, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, mock.Requests())
}

func TestRunClearsPreviousResult(t *testing.T) {
	success := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{
			"ok": true, "logs": []any{}, "duration": 3,
		}}},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "x"}, success)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p.Result())

	failing := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{
			"ok": false, "error": "broken now",
		}}},
	})
	p.SetClient(&http.Client{Transport: failing})

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, p.Result())
	require.NotNil(t, p.Failure())
	assert.Equal(t, "broken now", p.Failure().Message)
}

// blockingTripper parks every request until released.
type blockingTripper struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{"ok": true}}},
	}).RoundTrip(req)
}

func TestRunRejectsReentrantCall(t *testing.T) {
	tripper := &blockingTripper{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	p, validationErrs, err := NewPlaygroundFromConfig(Config{Endpoint: testEndpoint, Code: "x"})
	require.Empty(t, validationErrs)
	require.NoError(t, err)
	p.SetClient(&http.Client{Transport: tripper})
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	done := make(chan error, 1)
	go func() {
		_, runErr := p.Run(context.Background())
		done <- runErr
	}()

	select {
	case <-tripper.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached the transport")
	}
	assert.Equal(t, StateRunning, p.State())

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(tripper.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, p.State())
}

func TestSeedFromAlias(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		"https://store.example.com/alias/snip": {BodyJSON: map[string]any{"code": "console.log(2)"}},
	})

	cfg := Config{
		Endpoint:      testEndpoint,
		AliasEndpoint: "https://store.example.com/alias",
		Alias:         "snip",
		Code:          "loses to the alias",
	}
	p := newTestPlayground(t, cfg, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	assert.Equal(t, "console.log(2)", p.Code())
}

func TestSeedFromAliasFailure(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		"https://store.example.com/alias/missing": {StatusCode: 404, RawBody: "no such alias"},
	})

	cfg := Config{
		Endpoint:      testEndpoint,
		AliasEndpoint: "https://store.example.com/alias",
		Alias:         "missing",
	}
	p := newTestPlayground(t, cfg, mock)

	err := p.AttachDocument(context.Background(), NewMemoryDocument(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSeedPriority(t *testing.T) {
	t.Run("config code beats ambient content", func(t *testing.T) {
		p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "from config"},
			playground_testing.NewMockRoundTripper(nil))
		doc := NewMemoryDocument(false)
		doc.ReplaceContent("ambient")
		require.NoError(t, p.AttachDocument(context.Background(), doc))
		assert.Equal(t, "from config", p.Code())
		assert.Equal(t, "from config", doc.Content())
	})

	t.Run("ambient content beats default", func(t *testing.T) {
		p := newTestPlayground(t, Config{Endpoint: testEndpoint},
			playground_testing.NewMockRoundTripper(nil))
		doc := NewMemoryDocument(false)
		doc.ReplaceContent("ambient")
		require.NoError(t, p.AttachDocument(context.Background(), doc))
		assert.Equal(t, "ambient", p.Code())
	})

	t.Run("default snippet as last resort", func(t *testing.T) {
		p := newTestPlayground(t, Config{Endpoint: testEndpoint},
			playground_testing.NewMockRoundTripper(nil))
		require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))
		assert.Equal(t, DefaultSnippet, p.Code())
	})
}

func TestReadOnlyConfigRequiresReadOnlyDocument(t *testing.T) {
	p := newTestPlayground(t, Config{Endpoint: testEndpoint, ReadOnly: true},
		playground_testing.NewMockRoundTripper(nil))

	err := p.AttachDocument(context.Background(), NewMemoryDocument(false))
	require.Error(t, err)

	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(true)))
}

func TestCodeChangeNotification(t *testing.T) {
	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "a"},
		playground_testing.NewMockRoundTripper(nil))
	doc := NewMemoryDocument(false)
	require.NoError(t, p.AttachDocument(context.Background(), doc))

	var notifications []string
	p.OnCodeChange(func(code string) { notifications = append(notifications, code) })

	// an external push is not echoed as a code-changed notification
	p.Push("b")
	assert.Empty(t, notifications)

	// a genuine user edit is
	doc.Edit("c")
	assert.Equal(t, []string{"c"}, notifications)
	assert.Equal(t, "c", p.Code())
}

func TestRunEventsPublished(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{
			"ok": true, "logs": []any{}, "duration": 1,
		}}},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "x"}, mock)
	events := p.EnableEvents()
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	var types []WidgetEventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, EVENT_CODE_SEEDED)
	assert.Contains(t, types, EVENT_RUN_START)
	assert.Contains(t, types, EVENT_RUN_REQUEST)
	assert.Contains(t, types, EVENT_RUN_RESULT)
}

func TestRunWithoutDocument(t *testing.T) {
	p := newTestPlayground(t, Config{Endpoint: testEndpoint},
		playground_testing.NewMockRoundTripper(nil))

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestRunThrottled(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{"ok": true}}},
	})

	// burst defaults to 1, so the second run within the same second must wait
	cfg := Config{
		Endpoint: testEndpoint,
		Code:     "x",
		Throttle: &ThrottleConfig{RunsPerSecond: 1},
	}
	p := newTestPlayground(t, cfg, mock)
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, mock.Calls(testEndpoint))
}

// delayingTripper adds latency in front of another transport.
type delayingTripper struct {
	delay time.Duration
	next  http.RoundTripper
}

func (d *delayingTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	time.Sleep(d.delay)
	return d.next.RoundTrip(req)
}

func TestRunZeroDurationPreserved(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{
			"ok": true, "duration": 0,
		}}},
	})

	p, validationErrs, err := NewPlaygroundFromConfig(Config{Endpoint: testEndpoint, Code: "x"})
	require.Empty(t, validationErrs)
	require.NoError(t, err)
	p.SetClient(&http.Client{Transport: &delayingTripper{delay: 30 * time.Millisecond, next: mock}})
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	// the reported 0ms wins over the much larger measured round-trip
	assert.Equal(t, int64(0), result.DurationMs)
}

func TestRunMissingDurationFallsBackToElapsed(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{"ok": true}}},
	})

	p, validationErrs, err := NewPlaygroundFromConfig(Config{Endpoint: testEndpoint, Code: "x"})
	require.Empty(t, validationErrs)
	require.NoError(t, err)
	p.SetClient(&http.Client{Transport: &delayingTripper{delay: 30 * time.Millisecond, next: mock}})
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.DurationMs, int64(30))
}

type recordingLogger struct {
	errors []string
}

func (l *recordingLogger) Debug(msg string, args ...any)   {}
func (l *recordingLogger) Info(msg string, args ...any)    {}
func (l *recordingLogger) Warning(msg string, args ...any) {}
func (l *recordingLogger) Error(msg string, args ...any) {
	l.errors = append(l.errors, fmt.Sprintf(msg, args...))
}

func TestSetClientKeepsAuthenticatorOnRebuildFailure(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{"ok": true}}},
	})

	cfg := Config{
		Endpoint:       testEndpoint,
		Code:           "x",
		Authentication: &AuthConfig{Type: "bearer", Token: "token-before"},
	}
	p, validationErrs, err := NewPlaygroundFromConfig(cfg)
	require.Empty(t, validationErrs)
	require.NoError(t, err)

	logger := &recordingLogger{}
	p.SetLogger(logger)

	// corrupt the auth config after construction so the rebuild fails
	p.Config.Authentication.Type = "kerberos"
	p.SetClient(&http.Client{Transport: mock})
	require.NotEmpty(t, logger.errors)
	assert.Contains(t, logger.errors[0], "rebuild failed")

	// the previous authenticator keeps signing requests
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	requests := mock.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Bearer token-before", requests[0].Header.Get("Authorization"))
}

func TestCloseEventsStopsEmission(t *testing.T) {
	mock := playground_testing.NewMockRoundTripper(map[string]playground_testing.MockResponse{
		testEndpoint: {BodyJSON: map[string]any{"json": map[string]any{"ok": true}}},
	})

	p := newTestPlayground(t, Config{Endpoint: testEndpoint, Code: "x"}, mock)
	events := p.EnableEvents()
	require.NoError(t, p.AttachDocument(context.Background(), NewMemoryDocument(false)))

	p.CloseEvents()

	// emits after the close are dropped instead of hitting a closed channel
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	p.Push("y")

	// the buffered pre-close events drain, then the channel reports closed
	for {
		_, ok := <-events
		if !ok {
			break
		}
	}

	// closing twice is a no-op
	p.CloseEvents()
}
