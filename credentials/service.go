package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// ServiceTokenConfig configures the service token source.
type ServiceTokenConfig struct {
	// Fetch obtains a fresh token from the token endpoint.
	Fetch func(ctx context.Context) (string, error)

	// RefreshSkew is how long before the exp claim a refresh is triggered.
	// Default: 1 minute
	RefreshSkew time.Duration

	// FallbackTTL is the assumed lifetime for tokens without a parseable
	// exp claim.
	// Default: 5 minutes
	FallbackTTL time.Duration

	// Clock abstracts time for tests. Defaults to the real clock.
	Clock quartz.Clock
}

// ServiceToken fetches short-lived JWTs and caches them until shortly
// before expiry. Concurrent refreshes are deduplicated.
type ServiceToken struct {
	config ServiceTokenConfig
	clock  quartz.Clock

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	sfGroup   singleflight.Group // prevents thundering herd
}

// NewServiceToken creates a service token source.
func NewServiceToken(config ServiceTokenConfig) (*ServiceToken, error) {
	if config.Fetch == nil {
		return nil, ErrNoFetcher
	}
	if config.RefreshSkew <= 0 {
		config.RefreshSkew = time.Minute
	}
	if config.FallbackTTL <= 0 {
		config.FallbackTTL = 5 * time.Minute
	}
	clock := config.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &ServiceToken{
		config: config,
		clock:  clock,
	}, nil
}

// Token returns a cached token, refreshing it when it is within
// RefreshSkew of its exp claim.
func (s *ServiceToken) Token(ctx context.Context) (string, error) {
	now := s.clock.Now()

	s.mu.RLock()
	token, fresh := s.token, s.token != "" && now.Before(s.expiresAt.Add(-s.config.RefreshSkew))
	s.mu.RUnlock()

	if fresh {
		return token, nil
	}

	got, err, _ := s.sfGroup.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		// On refresh failure, serve the cached token until it hard-expires
		// (graceful degradation).
		s.mu.RLock()
		token, usable := s.token, s.token != "" && s.clock.Now().Before(s.expiresAt)
		s.mu.RUnlock()

		if usable {
			return token, nil
		}
		return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}

	return got.(string), nil
}

// Expiry returns the exp of the cached token, or the zero time when no
// token has been fetched yet.
func (s *ServiceToken) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *ServiceToken) refresh(ctx context.Context) (string, error) {
	token, err := s.config.Fetch(ctx)
	if err != nil {
		return "", err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}

	expiresAt := s.parseExpiry(token)

	s.mu.Lock()
	s.token = token
	s.expiresAt = expiresAt
	s.mu.Unlock()

	return token, nil
}

// parseExpiry extracts the exp claim without verifying the signature.
// Verification is the backend's job; the claim is only used for refresh
// scheduling. Tokens without a parseable exp get FallbackTTL.
func (s *ServiceToken) parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s.clock.Now().Add(s.config.FallbackTTL)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return s.clock.Now().Add(s.config.FallbackTTL)
	}
	return exp.Time
}

var _ TokenSource = (*ServiceToken)(nil)
