package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bullseye/internal/domain"
	"bullseye/internal/engine/auth"
	"bullseye/internal/repo"
)

const apiKeyPrefix = "bsk_"

// CreateAPIKey mints a key that authenticates HTTP calls as address. The raw
// key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, address, name string) (domain.APIKey, string, error) {
	address = strings.TrimSpace(address)
	if err := auth.RequireSigner(address); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		Address:   address,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	e.log().Info("api key created", zap.String("address", address), zap.String("key_id", key.ID))
	return key, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, address string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, address)
}

// RevokeAPIKey deletes a key. Only the key's address may revoke it.
func (e Engine) RevokeAPIKey(ctx context.Context, id, caller string) error {
	if err := auth.RequireSigner(caller); err != nil {
		return err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, caller)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == id {
			if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
				return err
			}
			e.log().Info("api key revoked", zap.String("address", caller), zap.String("key_id", id))
			return nil
		}
	}
	return notFound("api key", id, repo.ErrNotFound)
}
