// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Message  string
	Location string // optional, e.g. "auth.tokenUrl"
}

func (e ValidationError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s", e.Location, e.Message)
	}
	return e.Message
}

func ValidateConfig(cfg Config) []ValidationError {
	var errs []ValidationError

	// endpoint required unless the widget is disabled
	if cfg.Endpoint == "" {
		if !cfg.Disabled {
			errs = append(errs, ValidationError{"endpoint is required", "endpoint"})
		}
	} else if !isAbsoluteURL(cfg.Endpoint) {
		errs = append(errs, ValidationError{"endpoint must be an absolute URL", "endpoint"})
	}

	if cfg.Alias != "" && cfg.AliasEndpoint == "" {
		errs = append(errs, ValidationError{"alias requires aliasEndpoint", "alias"})
	}
	if cfg.AliasEndpoint != "" && !isAbsoluteURL(cfg.AliasEndpoint) {
		errs = append(errs, ValidationError{"aliasEndpoint must be an absolute URL", "aliasEndpoint"})
	}

	if cfg.Throttle != nil {
		if cfg.Throttle.RunsPerSecond < 0 {
			errs = append(errs, ValidationError{"runsPerSecond must not be negative", "throttle.runsPerSecond"})
		}
		if cfg.Throttle.Burst < 0 {
			errs = append(errs, ValidationError{"burst must not be negative", "throttle.burst"})
		}
	}

	if cfg.Authentication != nil {
		errs = append(errs, validateAuth(*cfg.Authentication)...)
	}

	return errs
}

func validateAuth(auth AuthConfig) []ValidationError {
	var errs []ValidationError

	switch auth.Type {
	case "", "none":

	case "basic":
		if auth.Username == "" {
			errs = append(errs, ValidationError{"basic auth requires username", "auth.username"})
		}

	case "bearer":
		if auth.Token == "" {
			errs = append(errs, ValidationError{"bearer auth requires token", "auth.token"})
		}

	case "oauth":
		if auth.TokenURL == "" {
			errs = append(errs, ValidationError{"oauth requires tokenUrl", "auth.tokenUrl"})
		}
		switch auth.Method {
		case "password", "client_credentials":
		default:
			errs = append(errs, ValidationError{"oauth method must be 'password' or 'client_credentials'", "auth.method"})
		}

	case "login":
		if auth.LoginURL == "" {
			errs = append(errs, ValidationError{"login auth requires loginUrl", "auth.loginUrl"})
		}
		switch auth.ExtractFrom {
		case "", "body":
			if auth.ExtractSelector == "" {
				errs = append(errs, ValidationError{"body extraction requires a jq selector", "auth.extractSelector"})
			}
		case "header", "cookie":
			if auth.ExtractSelector == "" {
				errs = append(errs, ValidationError{"extraction requires a name selector", "auth.extractSelector"})
			}
		default:
			errs = append(errs, ValidationError{"extractFrom must be 'body', 'header' or 'cookie'", "auth.extractFrom"})
		}

	default:
		errs = append(errs, ValidationError{fmt.Sprintf("unknown auth type: %s", auth.Type), "auth.type"})
	}

	return errs
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
