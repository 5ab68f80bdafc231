package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/infrastructure/config"
)

// CachedProvider wraps a CredentialProvider with a Redis read-through cache.
// Vault lookups dominate lifecycle latency when many requests for the same
// taxpayer advance in one batch; a short TTL keeps rotation windows honest.
// Cache failures degrade to the inner provider, never to an error.
type CachedProvider struct {
	inner     download.CredentialProvider
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCachedProvider creates a Redis-backed caching provider
func NewCachedProvider(inner download.CredentialProvider, cfg *config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*CachedProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewCachedProviderWithClient(inner, client, ttl, logger), nil
}

// NewCachedProviderWithClient creates a caching provider with an existing
// Redis client, useful for testing or sharing connections
func NewCachedProviderWithClient(inner download.CredentialProvider, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedProvider{
		inner:     inner,
		client:    client,
		keyPrefix: "credential:rfc:",
		ttl:       ttl,
		logger:    logger,
	}
}

var _ download.CredentialProvider = (*CachedProvider)(nil)

// GetCredential returns the cached credential or falls through to the vault
func (p *CachedProvider) GetCredential(ctx context.Context, taxpayerRFC string) (download.Credential, error) {
	key := p.keyPrefix + taxpayerRFC

	raw, err := p.client.Get(ctx, key).Bytes()
	if err == nil {
		var cred download.Credential
		if jsonErr := json.Unmarshal(raw, &cred); jsonErr == nil && !cred.IsZero() {
			return cred, nil
		}
		// Corrupt entry, drop it and refetch
		p.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		p.logger.Warn("credential cache read failed",
			zap.String("taxpayer_rfc", taxpayerRFC),
			zap.Error(err))
	}

	cred, err := p.inner.GetCredential(ctx, taxpayerRFC)
	if err != nil {
		return download.Credential{}, err
	}

	if raw, err := json.Marshal(cred); err == nil {
		if err := p.client.Set(ctx, key, raw, p.ttl).Err(); err != nil {
			p.logger.Warn("credential cache write failed",
				zap.String("taxpayer_rfc", taxpayerRFC),
				zap.Error(err))
		}
	}
	return cred, nil
}

// Invalidate drops the cached credential for a taxpayer, forcing the next
// lookup back to the vault. Call after a rotation notification.
func (p *CachedProvider) Invalidate(ctx context.Context, taxpayerRFC string) error {
	return p.client.Del(ctx, p.keyPrefix+taxpayerRFC).Err()
}

// Close releases the Redis connection
func (p *CachedProvider) Close() error {
	return p.client.Close()
}
