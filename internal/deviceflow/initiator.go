// Package deviceflow implements the OAuth 2.0 Device Authorization Grant (RFC 8628) against
// a GitHub host: requesting a device code and polling the token endpoint until the user
// finishes authorizing in the browser.
package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/copilot-auth/internal/authdomain"
	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/log"
)

// Timeout configuration for the flow's requests.
const (
	deviceCodeRequestTimeout = 10 * time.Second
	tokenPollTimeout         = 10 * time.Second
)

// Defaults applied when the server omits them.
const (
	DefaultInterval  = 5 * time.Second
	DefaultExpiresIn = 15 * time.Minute
)

// Initiator requests device codes.
type Initiator struct {
	Client   *retry.Client
	Domain   authdomain.Domain
	ClientID string
	Scopes   []string
	Logger   *zap.Logger
}

// Start requests a device code. The returned session's Expiry is the local deadline for
// polling; Interval is in seconds.
func (i *Initiator) Start(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, deviceCodeRequestTimeout)
	defer cancel()

	data := url.Values{}
	data.Set("client_id", i.ClientID)
	data.Set("scope", strings.Join(i.Scopes, " "))

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		i.Domain.DeviceCodeURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := i.Client.DoWithContext(reqCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, autherr.Wrap(autherr.KindCanceled, "device code", "request canceled", ctx.Err())
		}
		return nil, autherr.Wrap(autherr.KindNetwork, "device code", "authorization server unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "device code", "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, autherr.New(autherr.KindNetwork, "device code",
			fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var deviceResp struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
		Error                   string `json:"error"`
		ErrorDescription        string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &deviceResp); err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "device code", "failed to parse device code response", err)
	}
	if deviceResp.Error != "" {
		return nil, autherr.New(autherr.KindProtocol, "device code",
			fmt.Sprintf("%s: %s", deviceResp.Error, deviceResp.ErrorDescription))
	}
	if deviceResp.DeviceCode == "" || deviceResp.UserCode == "" || deviceResp.VerificationURI == "" {
		return nil, autherr.New(autherr.KindProtocol, "device code", "incomplete device code response")
	}

	expiresIn := time.Duration(deviceResp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	interval := int64(deviceResp.Interval)
	if interval <= 0 {
		interval = int64(DefaultInterval / time.Second)
	}

	log.OrNop(i.Logger).Debug("device code issued",
		zap.String("verification_uri", deviceResp.VerificationURI),
		zap.Duration("expires_in", expiresIn),
		zap.Int64("interval_s", interval))

	return &oauth2.DeviceAuthResponse{
		DeviceCode:              deviceResp.DeviceCode,
		UserCode:                deviceResp.UserCode,
		VerificationURI:         deviceResp.VerificationURI,
		VerificationURIComplete: deviceResp.VerificationURIComplete,
		Expiry:                  started.Add(expiresIn),
		Interval:                interval,
	}, nil
}
