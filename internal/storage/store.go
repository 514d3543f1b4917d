// internal/storage/store.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"agenthub/internal/models"
	"agenthub/internal/storage/leveldb"
	"agenthub/internal/storage/postgres"
)

const agentCachePrefix = "agent:"

func agentCacheKey(agentID string) string {
	return fmt.Sprintf("%s%s", agentCachePrefix, agentID)
}

// Store combines the durable postgres client with the local LevelDB
// cache. Agent records are cached because every monitor resolves its
// agent on startup and agents change rarely; writes invalidate the
// cached copy.
type Store struct {
	*postgres.Client
	cache *leveldb.Client
	log   zerolog.Logger
}

func NewStore(db *postgres.Client, cache *leveldb.Client, log zerolog.Logger) *Store {
	return &Store{Client: db, cache: cache, log: log}
}

// GetAgent returns the agent from cache when possible, falling back
// to postgres and repopulating the cache.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	cacheKey := agentCacheKey(id)

	if cached, err := s.cache.Get(cacheKey); err == nil && cached != nil {
		var agent models.Agent
		if err := json.Unmarshal(cached, &agent); err == nil {
			return &agent, nil
		}
		s.log.Warn().Str("agent_id", id).Msg("discarding unreadable cached agent")
	}

	agent, err := s.Client.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(agent); err == nil {
		if err := s.cache.Put(cacheKey, data); err != nil {
			s.log.Warn().Err(err).Str("agent_id", id).Msg("failed to cache agent")
		}
	}

	return agent, nil
}

// UpdateAgent writes through to postgres and drops the cached copy.
func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	if err := s.Client.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	if err := s.cache.Delete(agentCacheKey(agent.ID)); err != nil {
		s.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to invalidate cached agent")
	}
	return nil
}

// DeleteAgent removes the agent from postgres and the cache.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	if err := s.Client.DeleteAgent(ctx, id); err != nil {
		return err
	}
	if err := s.cache.Delete(agentCacheKey(id)); err != nil {
		s.log.Warn().Err(err).Str("agent_id", id).Msg("failed to invalidate cached agent")
	}
	return nil
}
