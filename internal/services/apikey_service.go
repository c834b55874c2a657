package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/style-suite/api/internal/platform/textutil"
	"github.com/style-suite/api/internal/repositories"
)

const (
	apiKeyIDPrefix       = "key_"
	apiKeyRandomBytes    = 32
	maxAPIKeyNameLength  = 100
	maxAPIKeyDescription = 500
)

// APIKeyServiceDeps bundles collaborators for partner key management.
type APIKeyServiceDeps struct {
	Keys        repositories.APIKeyRepository
	Clock       func() time.Time
	IDGenerator func() string
	Random      io.Reader
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type apiKeyService struct {
	keys   repositories.APIKeyRepository
	clock  func() time.Time
	newID  func() string
	random io.Reader
	logger func(context.Context, string, map[string]any)
}

var _ APIKeyService = (*apiKeyService)(nil)

// NewAPIKeyService constructs the partner key service.
func NewAPIKeyService(deps APIKeyServiceDeps) (APIKeyService, error) {
	if deps.Keys == nil {
		return nil, errors.New("api key service: api key repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &apiKeyService{
		keys: deps.Keys,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		random: random,
		logger: logger,
	}, nil
}

// Authenticate accepts only known, active keys. The last-used timestamp is refreshed best-effort.
func (s *apiKeyService) Authenticate(ctx context.Context, rawKey string) (APIKey, error) {
	key := strings.TrimSpace(rawKey)
	if key == "" {
		return APIKey{}, fmt.Errorf("%w: api key is required", ErrUnauthenticated)
	}

	record, err := s.keys.FindByKey(ctx, key)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return APIKey{}, fmt.Errorf("%w: invalid api key", ErrUnauthenticated)
		}
		return APIKey{}, mapRepositoryError("api_keys.authenticate", err)
	}
	if !record.Active {
		return APIKey{}, fmt.Errorf("%w: api key is inactive", ErrUnauthenticated)
	}

	now := s.clock()
	if err := s.keys.TouchLastUsed(ctx, record.ID, now); err != nil {
		s.logger(ctx, "api_key.touch_failed", map[string]any{
			"apiKeyId": record.ID,
			"error":    err.Error(),
		})
	} else {
		record.LastUsedAt = &now
	}
	return record, nil
}

func (s *apiKeyService) Create(ctx context.Context, cmd CreateAPIKeyCommand) (APIKey, error) {
	name := textutil.CleanText(cmd.Name, maxAPIKeyNameLength)
	if name == "" {
		return APIKey{}, validationError("name is required")
	}

	secret := make([]byte, apiKeyRandomBytes)
	if _, err := io.ReadFull(s.random, secret); err != nil {
		return APIKey{}, fmt.Errorf("api key: generate secret: %w", err)
	}

	now := s.clock()
	key := APIKey{
		ID:          apiKeyIDPrefix + s.newID(),
		Key:         hex.EncodeToString(secret),
		Name:        name,
		Description: textutil.CleanText(cmd.Description, maxAPIKeyDescription),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.keys.Insert(ctx, key); err != nil {
		return APIKey{}, mapRepositoryError("api_keys.create", err)
	}
	s.logger(ctx, "api_key.created", map[string]any{"apiKeyId": key.ID, "name": key.Name})
	return key, nil
}

func (s *apiKeyService) List(ctx context.Context) ([]APIKey, error) {
	keys, err := s.keys.List(ctx)
	if err != nil {
		return nil, mapRepositoryError("api_keys.list", err)
	}
	return keys, nil
}

func (s *apiKeyService) Delete(ctx context.Context, keyID string) error {
	id := strings.TrimSpace(keyID)
	if id == "" {
		return validationError("api key id is required")
	}
	if err := s.keys.Delete(ctx, id); err != nil {
		return mapRepositoryError("api_keys.delete", err)
	}
	s.logger(ctx, "api_key.deleted", map[string]any{"apiKeyId": id})
	return nil
}

func (s *apiKeyService) SetActive(ctx context.Context, keyID string, active bool) (APIKey, error) {
	id := strings.TrimSpace(keyID)
	if id == "" {
		return APIKey{}, validationError("api key id is required")
	}
	key, err := s.keys.SetActive(ctx, id, active, s.clock())
	if err != nil {
		return APIKey{}, mapRepositoryError("api_keys.set_active", err)
	}
	return key, nil
}
