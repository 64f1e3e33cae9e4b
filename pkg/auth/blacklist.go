package auth

import (
	"context"
	"fmt"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
)

// Blacklist records revoked credentials in the shared cache. Existence of
// the key is the signal; the value is empty.
type Blacklist struct {
	cache cache.Cache
}

func NewBlacklist(c cache.Cache) *Blacklist {
	return &Blacklist{cache: c}
}

func BlacklistKey(credential string) string {
	return fmt.Sprintf("blacklist:%s", credential)
}

func (b *Blacklist) Revoke(ctx context.Context, credential string) error {
	if err := b.cache.Put(ctx, BlacklistKey(credential), ""); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// IsRevoked returns the cache error unchanged; verifiers treat it as revoked.
func (b *Blacklist) IsRevoked(ctx context.Context, credential string) (bool, error) {
	return b.cache.Exists(ctx, BlacklistKey(credential))
}
