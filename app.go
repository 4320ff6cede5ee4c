package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"

	"github.com/go-authgate/copilot-auth/internal/authdomain"
	"github.com/go-authgate/copilot-auth/internal/broker"
	"github.com/go-authgate/copilot-auth/internal/log"
	"github.com/go-authgate/copilot-auth/internal/status"
	"github.com/go-authgate/copilot-auth/internal/vault"
)

// app holds the components shared by every subcommand. It is built once per invocation.
type app struct {
	cfg    *config
	logger *zap.Logger
	domain authdomain.Domain

	// httpClient makes single-attempt calls (exchange, identity).
	httpClient *http.Client
	// retryClient carries the device-flow requests.
	retryClient *retry.Client

	vault  *vault.Vault
	broker *broker.Broker
	status *status.Facade
}

func newApp(cfg *config, logger *zap.Logger) (*app, error) {
	domain, err := authdomain.Resolve(cfg.host)
	if err != nil {
		return nil, err
	}

	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	retryClient, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(baseHTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	var secure vault.SecretBackend
	switch {
	case cfg.noKeyring:
		logger.Debug("system keychain disabled by configuration")
	case vault.KeyringAvailable():
		secure = vault.NewKeyringBackend()
	default:
		logger.Debug("system keychain unavailable, using encrypted file storage")
	}

	v, err := vault.New(vault.Options{
		Provider: domain.Host,
		Dir:      cfg.dir,
		Secure:   secure,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	b := broker.New(broker.Options{
		HTTPClient: baseHTTPClient,
		Domain:     domain,
		Source:     v,
		Logger:     logger,
	})

	return &app{
		cfg:         cfg,
		logger:      logger,
		domain:      domain,
		httpClient:  baseHTTPClient,
		retryClient: retryClient,
		vault:       v,
		broker:      b,
		status:      status.New(v, b, logger),
	}, nil
}

func newLogger(cfg *config) *zap.Logger {
	return log.New(log.Options{Verbose: cfg.verbose, JSONFormat: cfg.logJSON})
}
