package oauthcontainer

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
)

// cleanupInterval is how often expired rows are swept from storage.
const cleanupInterval = 10 * time.Minute

// CleanupService periodically purges expired authorization codes, tokens,
// blacklist entries, and sessions, so storage doesn't grow unbounded with
// rows nothing will ever read again.
type CleanupService struct {
	codes     oauth.AuthorizationCodeRepository
	access    oauth.AccessTokenRepository
	refresh   oauth.RefreshTokenRepository
	blacklist oauth.BlacklistRepository
	sessions  account.SessionRepository
	retention time.Duration
}

func NewCleanupService(
	codes oauth.AuthorizationCodeRepository,
	access oauth.AccessTokenRepository,
	refresh oauth.RefreshTokenRepository,
	blacklist oauth.BlacklistRepository,
	sessions account.SessionRepository,
	retention time.Duration,
) *CleanupService {
	return &CleanupService{
		codes: codes, access: access, refresh: refresh,
		blacklist: blacklist, sessions: sessions, retention: retention,
	}
}

// Start runs the sweep on a ticker until ctx is cancelled.
func (c *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *CleanupService) sweep(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := c.codes.DeleteExpired(ctx, now); err != nil {
		logx.WithError(err).Warn("oauthcontainer: failed to purge expired authorization codes")
	} else if n > 0 {
		logx.Infof("oauthcontainer: purged %d expired authorization codes", n)
	}

	if n, err := c.access.DeleteExpired(ctx, now); err != nil {
		logx.WithError(err).Warn("oauthcontainer: failed to purge expired access tokens")
	} else if n > 0 {
		logx.Infof("oauthcontainer: purged %d expired access tokens", n)
	}

	if n, err := c.refresh.DeleteExpired(ctx, now); err != nil {
		logx.WithError(err).Warn("oauthcontainer: failed to purge expired refresh tokens")
	} else if n > 0 {
		logx.Infof("oauthcontainer: purged %d expired refresh tokens", n)
	}

	if n, err := c.blacklist.PurgeExpired(ctx, now); err != nil {
		logx.WithError(err).Warn("oauthcontainer: failed to purge expired blacklist entries")
	} else if n > 0 {
		logx.Infof("oauthcontainer: purged %d expired blacklist entries", n)
	}

	if n, err := c.sessions.DeleteExpired(ctx, now.Add(-c.retention)); err != nil {
		logx.WithError(err).Warn("oauthcontainer: failed to purge expired sessions")
	} else if n > 0 {
		logx.Infof("oauthcontainer: purged %d expired sessions", n)
	}
}
