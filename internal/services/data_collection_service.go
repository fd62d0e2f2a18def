package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/guildstats/internal/cache"
	"github.com/charlesng35/guildstats/internal/models"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
	"github.com/charlesng35/guildstats/pkg/logger"
	"github.com/charlesng35/guildstats/pkg/metrics"
)

// PolicyMode selects how Update changes a consent list.
type PolicyMode string

const (
	// PolicyAdd grants consent for a user.
	PolicyAdd PolicyMode = "add"
	// PolicyRemove withdraws consent for a user.
	PolicyRemove PolicyMode = "remove"
)

// ErrInvalidPolicyMode is returned when Update receives a mode other than add or remove.
var ErrInvalidPolicyMode = apperrors.New("INVALID_POLICY_MODE", "Policy mode must be add or remove", http.StatusBadRequest)

// ParsePolicyMode normalises a raw mode string.
func ParsePolicyMode(raw string) (PolicyMode, error) {
	switch mode := PolicyMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case PolicyAdd, PolicyRemove:
		return mode, nil
	default:
		return "", ErrInvalidPolicyMode
	}
}

// DataCollectionService maintains per-server data-collection consent lists. Every write
// goes to the store first and then replaces the cached policy, which never expires.
type DataCollectionService struct {
	store cache.Store[models.DataCollectionPolicy]
	log   *zap.Logger

	mu       sync.RWMutex
	policies map[string]models.DataCollectionPolicy

	locks keyedMutex
}

// NewDataCollectionService constructs a DataCollectionService backed by store.
func NewDataCollectionService(store cache.Store[models.DataCollectionPolicy]) (*DataCollectionService, error) {
	if store == nil {
		return nil, errors.New("data collection service: store is required")
	}
	return &DataCollectionService{
		store:    store,
		log:      logger.WithModule("data_collection"),
		policies: make(map[string]models.DataCollectionPolicy),
	}, nil
}

// Update adds or removes userID in the consent list of serverID and returns the resulting list.
func (s *DataCollectionService) Update(ctx context.Context, mode PolicyMode, serverID, userID string) ([]string, error) {
	ctx = ensureContext(ctx)
	if mode != PolicyAdd && mode != PolicyRemove {
		return nil, ErrInvalidPolicyMode
	}
	id, err := requireID("server", serverID)
	if err != nil {
		return nil, err
	}
	user, err := requireID("user", userID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	policy, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := append(datatypes.JSONSlice[string]{}, policy.Allowed...)
	index := indexOf(allowed, user)
	switch mode {
	case PolicyAdd:
		if index == -1 {
			allowed = append(allowed, user)
		}
	case PolicyRemove:
		if index != -1 {
			allowed = append(allowed[:index], allowed[index+1:]...)
		}
	}

	next := models.DataCollectionPolicy{ID: id, Allowed: allowed}
	if err := s.store.UpsertReplace(ctx, next); err != nil {
		s.log.Warn("persist data collection policy failed",
			zap.String("server_id", id),
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
		return nil, err
	}

	s.mu.Lock()
	s.policies[id] = next.Clone()
	s.mu.Unlock()

	return append([]string{}, allowed...), nil
}

// Get returns the consent policy of serverID. Servers without a stored policy yield an
// empty list.
func (s *DataCollectionService) Get(ctx context.Context, serverID string) (*models.DataCollectionPolicy, error) {
	ctx = ensureContext(ctx)
	id, err := requireID("server", serverID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.policies[id]
	s.mu.RUnlock()
	if ok {
		metrics.CacheLookups.WithLabelValues("policies", "hit").Inc()
		policy := cached.Clone()
		return &policy, nil
	}
	metrics.CacheLookups.WithLabelValues("policies", "miss").Inc()

	policy, found, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if found {
		s.mu.Lock()
		// A concurrent Update may have cached a newer policy; keep it.
		if _, exists := s.policies[id]; !exists {
			s.policies[id] = policy.Clone()
		}
		s.mu.Unlock()
	}
	return &policy, nil
}

// IsAllowed reports whether userID consented to data collection on serverID.
func (s *DataCollectionService) IsAllowed(ctx context.Context, serverID, userID string) (bool, error) {
	policy, err := s.Get(ctx, serverID)
	if err != nil {
		return false, err
	}
	return indexOf(policy.Allowed, strings.TrimSpace(userID)) != -1, nil
}

// load reads the stored policy. A malformed record is treated as an empty list.
func (s *DataCollectionService) load(ctx context.Context, id string) (models.DataCollectionPolicy, bool, error) {
	policy, found, err := s.store.FindOne(ctx, id)
	if errors.Is(err, apperrors.ErrInvalidRecord) {
		s.log.Warn("malformed data collection policy", zap.String("server_id", id), zap.Error(err))
		return models.DataCollectionPolicy{ID: id, Allowed: datatypes.JSONSlice[string]{}}, false, nil
	}
	if err != nil {
		s.log.Warn("load data collection policy failed", zap.String("server_id", id), zap.Error(err))
		return models.DataCollectionPolicy{}, false, err
	}
	if !found {
		return models.DataCollectionPolicy{ID: id, Allowed: datatypes.JSONSlice[string]{}}, false, nil
	}
	if policy.Allowed == nil {
		policy.Allowed = datatypes.JSONSlice[string]{}
	}
	return policy, true, nil
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}
