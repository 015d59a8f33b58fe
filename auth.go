// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator prepares outgoing execution-endpoint requests.
type Authenticator interface {
	PrepareRequest(req *http.Request, requestID string) error
	SetEvents(events chan WidgetEvent)
}

// AuthConfig selects and configures endpoint authentication.
type AuthConfig struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // basic | bearer | oauth | login

	// Basic auth
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Bearer auth
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// OAuth
	Method       string   `yaml:"method,omitempty" json:"method,omitempty"` // password | client_credentials
	TokenURL     string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// Login auth: perform a login request, extract a token, inject it as a
	// bearer token on execution requests.
	LoginURL        string            `yaml:"loginUrl,omitempty" json:"loginUrl,omitempty"`
	LoginMethod     string            `yaml:"loginMethod,omitempty" json:"loginMethod,omitempty"`
	LoginBody       map[string]any    `yaml:"loginBody,omitempty" json:"loginBody,omitempty"`
	LoginHeaders    map[string]string `yaml:"loginHeaders,omitempty" json:"loginHeaders,omitempty"`
	ExtractFrom     string            `yaml:"extractFrom,omitempty" json:"extractFrom,omitempty"`         // body | header | cookie
	ExtractSelector string            `yaml:"extractSelector,omitempty" json:"extractSelector,omitempty"` // jq for body, name for header/cookie

	// Refresh settings
	MaxAgeSeconds int `yaml:"maxAgeSeconds,omitempty" json:"maxAgeSeconds,omitempty"` // 0 = no refresh
}

type baseAuthenticator struct {
	events   *eventSink
	authType string
}

func (a *baseAuthenticator) SetEvents(events chan WidgetEvent) {
	a.events = &eventSink{ch: events}
}

func (a *baseAuthenticator) emit(eventType WidgetEventType, name, requestID string, data map[string]any) string {
	if a.events == nil {
		return ""
	}
	if data == nil {
		data = make(map[string]any)
	}
	data["authType"] = a.authType
	return a.events.emit(eventType, name, requestID, data)
}

// begin/end bracket one request preparation with start and end events.
func (a *baseAuthenticator) begin(requestID string) (string, time.Time) {
	return a.emit(EVENT_AUTH_START, "Auth Start", requestID, nil), time.Now()
}

func (a *baseAuthenticator) end(id, requestID string, start time.Time) {
	if a.events == nil {
		return
	}
	a.events.emitEnd(EVENT_AUTH_END, "Auth End", id, requestID, start)
}

// maskToken masks a token for display, showing only first and last 4 characters
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// NoopAuthenticator - no authentication
type NoopAuthenticator struct {
	*baseAuthenticator
}

func (a *NoopAuthenticator) PrepareRequest(req *http.Request, requestID string) error {
	return nil
}

// BasicAuthenticator - HTTP Basic Authentication
type BasicAuthenticator struct {
	*baseAuthenticator
	username string
	password string
}

func (a *BasicAuthenticator) PrepareRequest(req *http.Request, requestID string) error {
	id, start := a.begin(requestID)
	defer a.end(id, requestID, start)

	req.SetBasicAuth(a.username, a.password)
	a.emit(EVENT_AUTH_TOKEN_INJECT, "Basic Auth Injected", requestID, map[string]any{
		"username": a.username,
	})
	return nil
}

// BearerAuthenticator - static bearer token
type BearerAuthenticator struct {
	*baseAuthenticator
	token string
}

func (a *BearerAuthenticator) PrepareRequest(req *http.Request, requestID string) error {
	id, start := a.begin(requestID)
	defer a.end(id, requestID, start)

	req.Header.Set("Authorization", "Bearer "+a.token)
	a.emit(EVENT_AUTH_TOKEN_INJECT, "Bearer Token Injected", requestID, map[string]any{
		"token": maskToken(a.token),
	})
	return nil
}

// OAuthAuthenticator - OAuth2 password or client-credentials flow, cached
// until the token expires.
type OAuthAuthenticator struct {
	*baseAuthenticator
	conf        *oauth2.Config
	clientCreds *clientcredentials.Config
	token       *oauth2.Token
	mu          sync.Mutex
	username    string
	password    string
	httpClient  HTTPClient
}

func (a *OAuthAuthenticator) PrepareRequest(req *http.Request, requestID string) error {
	id, start := a.begin(requestID)
	defer a.end(id, requestID, start)

	token, fromCache, err := a.getToken(requestID)
	if err != nil {
		return fmt.Errorf("could not get oauth token: %w", err)
	}
	if fromCache {
		a.emit(EVENT_AUTH_CACHED, "Using Cached OAuth Token", requestID, map[string]any{
			"token": maskToken(token),
		})
	}

	req.Header.Set("Authorization", "Bearer "+token)
	a.emit(EVENT_AUTH_TOKEN_INJECT, "OAuth Token Injected", requestID, map[string]any{
		"token": maskToken(token),
	})
	return nil
}

func (a *OAuthAuthenticator) getToken(requestID string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx := context.Background()
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	if a.token != nil && a.token.Valid() {
		return a.token.AccessToken, true, nil
	}

	loginID := a.emit(EVENT_AUTH_LOGIN_START, "OAuth2 Login Request", requestID, nil)
	start := time.Now()

	var token *oauth2.Token
	var err error
	if a.conf != nil { // Password flow
		token, err = a.conf.PasswordCredentialsToken(ctx, a.username, a.password)
	} else { // Client Credentials flow
		token, err = a.clientCreds.Token(ctx)
	}
	if a.events != nil {
		a.events.emitEnd(EVENT_AUTH_LOGIN_END, "Login End", loginID, requestID, start)
	}
	if err != nil {
		return "", false, err
	}

	a.token = token
	return token.AccessToken, false, nil
}

// LoginAuthenticator - performs a login request, extracts a token from the
// response (jq selector for body, name for header/cookie) and injects it as
// a bearer token. Re-authenticates after maxAge.
type LoginAuthenticator struct {
	*baseAuthenticator
	config     AuthConfig
	httpClient HTTPClient

	mu         sync.Mutex
	token      string
	acquiredAt time.Time
	jqCache    map[string]*gojq.Code
}

func (a *LoginAuthenticator) PrepareRequest(req *http.Request, requestID string) error {
	id, start := a.begin(requestID)
	defer a.end(id, requestID, start)

	a.mu.Lock()
	defer a.mu.Unlock()

	maxAge := time.Duration(a.config.MaxAgeSeconds) * time.Second
	expired := maxAge > 0 && time.Since(a.acquiredAt) > maxAge

	if a.token == "" || expired {
		if err := a.performLogin(requestID); err != nil {
			return fmt.Errorf("login authentication failed: %w", err)
		}
	} else {
		a.emit(EVENT_AUTH_CACHED, "Using Cached Login Token", requestID, map[string]any{
			"token": maskToken(a.token),
			"age":   time.Since(a.acquiredAt).String(),
		})
	}

	req.Header.Set("Authorization", "Bearer "+a.token)
	a.emit(EVENT_AUTH_TOKEN_INJECT, "Login Token Injected", requestID, map[string]any{
		"token": maskToken(a.token),
	})
	return nil
}

func (a *LoginAuthenticator) performLogin(requestID string) error {
	loginID := a.emit(EVENT_AUTH_LOGIN_START, "Login Request", requestID, map[string]any{
		"url": a.config.LoginURL,
	})
	start := time.Now()

	method := a.config.LoginMethod
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(a.config.LoginBody) > 0 {
		encoded, err := json.Marshal(a.config.LoginBody)
		if err != nil {
			return fmt.Errorf("error encoding login body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, a.config.LoginURL, body)
	if err != nil {
		return fmt.Errorf("error creating login request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.config.LoginHeaders {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("login request returned status %d", resp.StatusCode)
	}

	token, err := a.extractToken(resp)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("login response contained no token")
	}

	a.token = token
	a.acquiredAt = time.Now()

	if a.events != nil {
		a.events.emitEnd(EVENT_AUTH_LOGIN_END, "Login End", loginID, requestID, start)
	}
	a.emit(EVENT_AUTH_TOKEN_EXTRACT, "Login Token Extracted", requestID, map[string]any{
		"from":  a.config.ExtractFrom,
		"token": maskToken(token),
	})
	return nil
}

func (a *LoginAuthenticator) extractToken(resp *http.Response) (string, error) {
	switch a.config.ExtractFrom {
	case "header":
		return resp.Header.Get(a.config.ExtractSelector), nil

	case "cookie":
		for _, cookie := range resp.Cookies() {
			if cookie.Name == a.config.ExtractSelector {
				return cookie.Value, nil
			}
		}
		return "", nil

	default: // body
		var decoded any
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return "", fmt.Errorf("error decoding login response: %w", err)
		}

		code, err := a.getOrCompileJQ(a.config.ExtractSelector)
		if err != nil {
			return "", err
		}

		iter := code.Run(decoded)
		v, ok := iter.Next()
		if !ok {
			return "", fmt.Errorf("selector '%s' produced no result", a.config.ExtractSelector)
		}
		if err, isErr := v.(error); isErr {
			return "", fmt.Errorf("selector '%s' failed: %w", a.config.ExtractSelector, err)
		}
		token, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("selector '%s' produced %T, expected string", a.config.ExtractSelector, v)
		}
		return token, nil
	}
}

func (a *LoginAuthenticator) getOrCompileJQ(expression string) (*gojq.Code, error) {
	if code, ok := a.jqCache[expression]; ok {
		return code, nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq selector '%s': %w", expression, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("cannot compile jq selector '%s': %w", expression, err)
	}
	a.jqCache[expression] = code
	return code, nil
}

// NewAuthenticator builds the authenticator for the given config. Unknown
// types are rejected by ValidateConfig before this is ever reached.
func NewAuthenticator(config AuthConfig, httpClient HTTPClient) (Authenticator, error) {
	switch config.Type {
	case "", "none":
		return &NoopAuthenticator{
			baseAuthenticator: &baseAuthenticator{authType: "none"},
		}, nil

	case "basic":
		return &BasicAuthenticator{
			username:          config.Username,
			password:          config.Password,
			baseAuthenticator: &baseAuthenticator{authType: "basic"},
		}, nil

	case "bearer":
		return &BearerAuthenticator{
			token:             config.Token,
			baseAuthenticator: &baseAuthenticator{authType: "bearer"},
		}, nil

	case "oauth":
		auth := &OAuthAuthenticator{
			username:          config.Username,
			password:          config.Password,
			httpClient:        httpClient,
			baseAuthenticator: &baseAuthenticator{authType: "oauth"},
		}
		switch config.Method {
		case "password":
			auth.conf = &oauth2.Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				Endpoint: oauth2.Endpoint{
					TokenURL: config.TokenURL,
				},
				Scopes: config.Scopes,
			}
		case "client_credentials":
			auth.clientCreds = &clientcredentials.Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				TokenURL:     config.TokenURL,
				Scopes:       config.Scopes,
			}
		default:
			return nil, fmt.Errorf("unsupported oauth method: %s", config.Method)
		}
		return auth, nil

	case "login":
		return &LoginAuthenticator{
			config:            config,
			httpClient:        httpClient,
			jqCache:           make(map[string]*gojq.Code),
			baseAuthenticator: &baseAuthenticator{authType: "login"},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type: %s", config.Type)
	}
}
