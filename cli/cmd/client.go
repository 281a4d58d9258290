package cmd

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/eventfeed/pkg/correlation"
	"github.com/telhawk-systems/eventfeed/pkg/credentials"
	"github.com/telhawk-systems/eventfeed/pkg/eventservice"
	"github.com/telhawk-systems/eventfeed/pkg/session"
	"github.com/telhawk-systems/eventfeed/pkg/transport"
)

func retryPolicy() transport.Policy {
	return transport.Policy{Attempts: cfg.API.RetrierCount, Delay: cfg.API.RetrierDelay}
}

func newCredential(ctx context.Context) (*credentials.Credential, error) {
	c := cfg.Credentials
	cred, err := credentials.New(ctx, credentials.Options{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Code:         c.Code,
		RedirectURI:  c.RedirectURI,
		TokenURL:     c.TokenURL,
		RevokeURL:    c.RevokeURL,
		Retry:        retryPolicy(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain credentials: %w", err)
	}
	return cred, nil
}

// persistRotated writes the credential back when --save-tokens is set and
// the identity provider rotated the refresh token.
func persistRotated(cred *credentials.Credential) {
	if !saveTokens {
		return
	}
	if cred.RefreshToken() == cfg.Credentials.RefreshToken && cfg.Credentials.Code == "" {
		return
	}
	if err := cfg.SaveTokens(cred.AccessToken(), cred.RefreshToken()); err != nil {
		logger.Warn("failed to save rotated tokens", "error", err)
	}
}

func newService(ctx context.Context, correlate bool) (*eventservice.Service, *credentials.Credential, error) {
	if err := validateConfig(); err != nil {
		return nil, nil, err
	}
	cred, err := newCredential(ctx)
	if err != nil {
		return nil, nil, err
	}
	persistRotated(cred)

	opts := session.Options{
		Transport: transport.Options{
			AutoRefresh:  cfg.API.AutoRefresh,
			RetrierCount: cfg.API.RetrierCount,
			RetrierDelay: cfg.API.RetrierDelay,
			FetchTimeout: cfg.API.FetchTimeout,
			RateLimit:    cfg.API.RateLimit,
			Logger:       logger,
		},
		AllowDuplicates: cfg.Dispatcher.AllowDuplicates,
		Logger:          logger,
	}
	if correlate || cfg.Correlation.Enabled {
		opts.Correlation = &correlation.Config{
			TimeWindow:   cfg.Correlation.TimeWindow,
			AbsoluteTime: cfg.Correlation.AbsoluteTime,
			GCMultiplier: cfg.Correlation.GCMultiplier,
			ExpectedSize: cfg.Correlation.ExpectedSize,
		}
	}

	sess := session.New(eventservice.BaseURL(cfg.API.EntryPoint, cfg.EventService.ChannelID), cred, opts)
	svc := eventservice.New(sess, eventservice.Options{
		Poll: eventservice.PollOptions{
			PollTimeout:  cfg.EventService.PollTimeout,
			FetchTimeout: cfg.API.FetchTimeout,
			Ack:          cfg.EventService.Ack,
		},
		Sleep: cfg.EventService.PollSleep,
	})
	return svc, cred, nil
}
