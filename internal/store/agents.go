// ABOUTME: Registered service agents with ssh-ed25519 public keys
// ABOUTME: Admin CRUD; agents later prove key possession for token issuance

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openape/idp-gateway/internal/kv"
)

const agentNamespace = "agents"

// Agent is a non-interactive service identity. It authenticates by signing
// a server challenge with the private half of PublicKey and receives
// short-lived agent tokens in return.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Approver  string    `json:"approver"`
	PublicKey string    `json:"publicKey"` // authorized_keys format, ssh-ed25519
	CreatedAt time.Time `json:"createdAt"`
	Active    bool      `json:"isActive"`
}

// AgentStore persists agent records.
type AgentStore struct {
	kv kv.Store
}

// NewAgentStore creates an agent store over the given kv space.
func NewAgentStore(store kv.Store) *AgentStore {
	return &AgentStore{kv: store}
}

// Create adds a new agent. Returns ErrConflict if the id is already taken.
func (s *AgentStore) Create(ctx context.Context, agent *Agent) error {
	if _, err := s.Find(ctx, agent.ID); err == nil {
		return ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return setJSON(ctx, s.kv, agentNamespace, agent.ID, agent)
}

// Find returns the agent with the given id.
func (s *AgentStore) Find(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := getJSON(ctx, s.kv, agentNamespace, id, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// Update applies mutate to the agent record and persists the result.
func (s *AgentStore) Update(ctx context.Context, id string, mutate func(*Agent)) (*Agent, error) {
	agent, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(agent)
	if err := setJSON(ctx, s.kv, agentNamespace, id, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// List returns all agents, newest first.
func (s *AgentStore) List(ctx context.Context) ([]*Agent, error) {
	keys, err := s.kv.ListKeys(ctx, agentNamespace+":")
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	agents := make([]*Agent, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, agentNamespace+":")
		var agent Agent
		if err := getJSON(ctx, s.kv, agentNamespace, id, &agent); err != nil {
			continue
		}
		agents = append(agents, &agent)
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.After(agents[j].CreatedAt)
	})
	return agents, nil
}

// Delete removes an agent record.
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, kv.Key(agentNamespace, id))
}
