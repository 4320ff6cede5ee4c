// Package authdomain resolves the OAuth and API endpoints for a GitHub host.
package authdomain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultHost is the public GitHub host.
const DefaultHost = "github.com"

// Domain holds the endpoints used by one authentication session. It is recomputed per call
// and never mutated.
type Domain struct {
	Host          string
	DeviceCodeURL string
	TokenURL      string
	APIBaseURL    string
	UserURL       string
	ExchangeURL   string
	// CopilotAPIURL is the default chat API base when the exchange response names none.
	CopilotAPIURL string
}

// IsEnterprise reports whether the domain points at a non-default host.
func (d Domain) IsEnterprise() bool {
	return d.Host != DefaultHost
}

// Resolve maps a user supplied host ("", "github.com", "https://ghe.example.com/") to its
// endpoints. An empty host selects the public default.
func Resolve(host string) (Domain, error) {
	h, err := normalizeHost(host)
	if err != nil {
		return Domain{}, err
	}

	apiBase := "https://api." + h
	copilotAPI := "https://copilot-api." + h
	if h == DefaultHost {
		apiBase = "https://api.github.com"
		copilotAPI = "https://api.githubcopilot.com"
	}

	return Domain{
		Host:          h,
		DeviceCodeURL: "https://" + h + "/login/device/code",
		TokenURL:      "https://" + h + "/login/oauth/access_token",
		APIBaseURL:    apiBase,
		UserURL:       apiBase + "/user",
		ExchangeURL:   apiBase + "/copilot_internal/v2/token",
		CopilotAPIURL: copilotAPI,
	}, nil
}

func normalizeHost(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultHost, nil
	}
	if strings.ContainsAny(s, " \t\n") {
		return "", fmt.Errorf("invalid host %q: contains whitespace", raw)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("invalid host %q: scheme must be https, got: %s", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("host cannot be empty")
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid host %q: must not contain a path or query", raw)
	}

	return strings.ToLower(u.Host), nil
}
