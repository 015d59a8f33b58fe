// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground_testing

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// MockResponse defines the canned response for one URL.
type MockResponse struct {
	StatusCode int
	BodyJSON   any
	RawBody    string
}

// CapturedRequest records one request the mock served.
type CapturedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// MockRoundTripper serves canned responses keyed by normalized URL and
// records every request for assertions. Unknown URLs get a 404.
type MockRoundTripper struct {
	mu        sync.Mutex
	responses map[string]MockResponse
	requests  []CapturedRequest
}

func NewMockRoundTripper(responses map[string]MockResponse) *MockRoundTripper {
	normalized := make(map[string]MockResponse, len(responses))
	for raw, resp := range responses {
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		normalized[normalizeURL(parsed)] = resp
	}
	return &MockRoundTripper{responses: normalized}
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	m.mu.Lock()
	m.requests = append(m.requests, CapturedRequest{
		Method: req.Method,
		URL:    normalizeURL(req.URL),
		Header: req.Header.Clone(),
		Body:   body,
	})
	mock, ok := m.responses[normalizeURL(req.URL)]
	m.mu.Unlock()

	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewBufferString(`{"error": "mock not found"}`)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Request:    req,
		}, nil
	}

	statusCode := mock.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	var payload []byte
	if mock.RawBody != "" {
		payload = []byte(mock.RawBody)
	} else if mock.BodyJSON != nil {
		payload, _ = json.Marshal(mock.BodyJSON)
	}

	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader(payload)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

// Requests returns all captured requests in arrival order.
func (m *MockRoundTripper) Requests() []CapturedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CapturedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls counts the requests served for the given URL.
func (m *MockRoundTripper) Calls(raw string) int {
	parsed, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	target := normalizeURL(parsed)

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.requests {
		if r.URL == target {
			count++
		}
	}
	return count
}

// Normalize URL by sorting query params and stripping trailing slash
func normalizeURL(u *url.URL) string {
	base := u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/")
	params := u.Query()

	var sorted []string
	for k, vs := range params {
		for _, v := range vs {
			sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(sorted)

	if len(sorted) > 0 {
		return base + "?" + strings.Join(sorted, "&")
	}
	return base
}
