package inmem

import (
	"context"
	"fmt"

	"github.com/tenantly/coupon-engine/internal/domain/auth"
)

// APIKeySet is an auth.Repository backed by a fixed set of key hashes,
// used with the memory storage backend for local development.
type APIKeySet struct {
	keys map[string]auth.APIKeyInfo
}

var _ auth.Repository = (*APIKeySet)(nil)

// NewAPIKeySet builds a set from pre-hashed admin keys.
func NewAPIKeySet(hashes ...string) *APIKeySet {
	keys := make(map[string]auth.APIKeyInfo, len(hashes))
	for i, h := range hashes {
		keys[h] = auth.APIKeyInfo{
			ID:      fmt.Sprintf("static-%d", i),
			KeyHash: h,
			Name:    "static admin key",
		}
	}
	return &APIKeySet{keys: keys}
}

func (s *APIKeySet) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := s.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &info, nil
}
