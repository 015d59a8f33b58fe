// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

// DefaultSnippet seeds the editor when no alias, initial value or ambient
// content is available.
const DefaultSnippet = `console.log("Hello from the playground");`

// DefaultScript is the harness submitted to the execution service. The
// edited source code travels as its single argument; the harness evaluates
// it and returns the captured console calls plus the elapsed time.
const DefaultScript = `async (source) => {
  const logs = [];
  const levels = ["log", "info", "warn", "error", "debug", "table"];
  for (const level of levels) {
    console[level] = (...args) => logs.push({ level, args });
  }
  const started = Date.now();
  try {
    await new Function(source)();
    return { ok: true, logs, duration: Date.now() - started };
  } catch (err) {
    return { ok: false, error: String(err) };
  }
}`

type ThrottleConfig struct {
	RunsPerSecond float64 `yaml:"runsPerSecond,omitempty" json:"runsPerSecond,omitempty"`
	Burst         int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

type Config struct {
	// Endpoint is the URL of the execution service. Required unless the
	// widget is disabled.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// AliasEndpoint resolves an alias to its stored code; used only to
	// seed the initial code.
	AliasEndpoint string `yaml:"aliasEndpoint,omitempty" json:"aliasEndpoint,omitempty"`

	// Alias identifies a stored snippet to fetch from AliasEndpoint.
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`

	// Code is the explicit initial source. Loses to a resolved alias,
	// wins over ambient document content.
	Code string `yaml:"code,omitempty" json:"code,omitempty"`

	// Script overrides the harness submitted to the execution service.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// Disabled makes Run a warning no-op without a network call.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// ReadOnly requires an attached document that rejects user edits.
	ReadOnly bool `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`

	// Headers are added to every execution request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	Authentication *AuthConfig     `yaml:"auth,omitempty" json:"auth,omitempty"`
	Throttle       *ThrottleConfig `yaml:"throttle,omitempty" json:"throttle,omitempty"`
}
