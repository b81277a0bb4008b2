// Package memory provides in-memory implementations of the persistence
// collaborators. They are the reference implementations for the concurrency
// discipline the engine requires: per-key atomic mutation, atomic
// lookup-and-delete on flows, and purge-friendly revocation reads. Each store
// is injected into the engine's constructor; nothing here is process-global.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
)

// ================================================================================
// SlipStore
// ================================================================================

type slipStore struct {
	mu    sync.RWMutex
	slips map[string]*models.Slip
	locks map[string]*sync.Mutex
}

// NewSlipStore returns an in-memory SlipStore.
func NewSlipStore() service.SlipStore {
	return &slipStore{
		slips: make(map[string]*models.Slip),
		locks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the per-slip mutex, creating it on first use. Operations on
// different slips never contend on these.
func (s *slipStore) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *slipStore) Insert(_ context.Context, slip *models.Slip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slips[slip.ID]; exists {
		return errors.ErrInternal("slip already exists: " + slip.ID)
	}
	cp := *slip
	s.slips[slip.ID] = &cp
	return nil
}

func (s *slipStore) Get(_ context.Context, id string) (*models.Slip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slip, ok := s.slips[id]
	if !ok {
		return nil, errors.ErrNotFound("slip", id)
	}
	cp := *slip
	return &cp, nil
}

func (s *slipStore) Update(ctx context.Context, id string, fn func(*models.Slip) error) (*models.Slip, error) {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	slip, ok := s.slips[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrNotFound("slip", id)
	}

	cp := *slip
	if err := fn(&cp); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.slips[id] = &cp
	s.mu.Unlock()

	out := cp
	return &out, nil
}

func (s *slipStore) List(_ context.Context, filter models.SlipFilter) ([]*models.Slip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Slip, 0)
	for _, slip := range s.slips {
		if filter.Matches(slip) {
			cp := *slip
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// ================================================================================
// FlowStore
// ================================================================================

type flowStore struct {
	mu      sync.Mutex
	bySlip  map[string]*models.PendingFlow
	byState map[string]string // pkce state -> slip id
}

// NewFlowStore returns an in-memory FlowStore.
func NewFlowStore() service.FlowStore {
	return &flowStore{
		bySlip:  make(map[string]*models.PendingFlow),
		byState: make(map[string]string),
	}
}

// Put replaces any existing flow for the same slip: set semantics, never
// append. The flow-singleton invariant lives here.
func (s *flowStore) Put(_ context.Context, flow *models.PendingFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.bySlip[flow.SlipID]; ok {
		if key := old.StateKey(); key != "" {
			delete(s.byState, key)
		}
	}
	cp := *flow
	s.bySlip[flow.SlipID] = &cp
	if key := flow.StateKey(); key != "" {
		s.byState[key] = flow.SlipID
	}
	return nil
}

func (s *flowStore) GetBySlip(_ context.Context, slipID string) (*models.PendingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.bySlip[slipID]
	if !ok {
		return nil, nil
	}
	cp := *flow
	return &cp, nil
}

// TakeBySlip removes and returns the flow in one critical section so two
// concurrent completions cannot both observe it.
func (s *flowStore) TakeBySlip(_ context.Context, slipID string) (*models.PendingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.bySlip[slipID]
	if !ok {
		return nil, nil
	}
	s.remove(flow)
	cp := *flow
	return &cp, nil
}

func (s *flowStore) TakeByState(_ context.Context, state string) (*models.PendingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slipID, ok := s.byState[state]
	if !ok {
		return nil, nil
	}
	flow, ok := s.bySlip[slipID]
	if !ok {
		delete(s.byState, state)
		return nil, nil
	}
	s.remove(flow)
	cp := *flow
	return &cp, nil
}

func (s *flowStore) Delete(_ context.Context, slipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow, ok := s.bySlip[slipID]; ok {
		s.remove(flow)
	}
	return nil
}

func (s *flowStore) remove(flow *models.PendingFlow) {
	delete(s.bySlip, flow.SlipID)
	if key := flow.StateKey(); key != "" {
		delete(s.byState, key)
	}
}

// ================================================================================
// TokenStore
// ================================================================================

type tokenStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.IssuedToken
	bySlip  map[string]string
}

// NewTokenStore returns an in-memory TokenStore.
func NewTokenStore() service.TokenStore {
	return &tokenStore{
		byID:   make(map[string]*models.IssuedToken),
		bySlip: make(map[string]string),
	}
}

func (s *tokenStore) Insert(_ context.Context, token *models.IssuedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.byID[token.ID] = &cp
	s.bySlip[token.SlipID] = token.ID
	return nil
}

func (s *tokenStore) Get(_ context.Context, id string) (*models.IssuedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrNotFound("token", id)
	}
	cp := *token
	return &cp, nil
}

func (s *tokenStore) GetBySlip(_ context.Context, slipID string) (*models.IssuedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySlip[slipID]
	if !ok {
		return nil, errors.ErrNotFound("token for slip", slipID)
	}
	token := s.byID[id]
	cp := *token
	return &cp, nil
}

// ================================================================================
// DirectoryStore
// ================================================================================

type directoryStore struct {
	mu         sync.RWMutex
	principals map[string]*models.Principal
	actors     map[string]*models.Actor
	targets    map[string]*models.Target
}

// NewDirectoryStore returns an in-memory DirectoryStore.
func NewDirectoryStore() service.DirectoryStore {
	return &directoryStore{
		principals: make(map[string]*models.Principal),
		actors:     make(map[string]*models.Actor),
		targets:    make(map[string]*models.Target),
	}
}

func (s *directoryStore) EnsurePrincipal(_ context.Context, id string) (*models.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.principals[id]; ok {
		cp := *p
		return &cp, nil
	}
	p := &models.Principal{ID: id, CreatedAt: time.Now().UTC()}
	s.principals[id] = p
	cp := *p
	return &cp, nil
}

func (s *directoryStore) EnsureActor(_ context.Context, id string, actorType string) (*models.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[id]; ok {
		cp := *a
		return &cp, nil
	}
	t := constants.ActorType(actorType)
	if t == "" {
		t = constants.ActorTypeAgent
	}
	a := &models.Actor{ID: id, Type: t, CreatedAt: time.Now().UTC()}
	s.actors[id] = a
	cp := *a
	return &cp, nil
}

func (s *directoryStore) GetTarget(_ context.Context, name string) (*models.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[name]
	if !ok {
		return nil, errors.ErrUnknownTarget(name)
	}
	cp := *t
	return &cp, nil
}

func (s *directoryStore) PutTarget(_ context.Context, target *models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *target
	s.targets[target.Name] = &cp
	return nil
}

// ================================================================================
// PolicySource
// ================================================================================

// StaticPolicySource is an in-memory, atomically replaceable policy set.
// Policies returns a snapshot, so in-flight evaluations are unaffected by a
// concurrent Replace.
type StaticPolicySource struct {
	mu       sync.RWMutex
	policies []models.Policy
}

// NewStaticPolicySource returns a PolicySource over the given policy slice.
func NewStaticPolicySource(policies []models.Policy) *StaticPolicySource {
	s := &StaticPolicySource{}
	s.Replace(policies)
	return s
}

func (s *StaticPolicySource) Policies(_ context.Context) ([]models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Policy, len(s.policies))
	copy(out, s.policies)
	return out, nil
}

// Replace swaps the whole policy set atomically.
func (s *StaticPolicySource) Replace(policies []models.Policy) {
	cp := make([]models.Policy, len(policies))
	copy(cp, policies)
	s.mu.Lock()
	s.policies = cp
	s.mu.Unlock()
}

// ================================================================================
// RevocationStore
// ================================================================================

type revocationStore struct {
	mu      sync.RWMutex
	entries map[string]models.RevocationEntry
}

// NewRevocationStore returns an in-memory RevocationStore. Reads take the
// shared lock so they never block behind each other; the purge takes the
// exclusive lock only long enough to delete expired entries.
func NewRevocationStore() service.RevocationStore {
	return &revocationStore{entries: make(map[string]models.RevocationEntry)}
}

func (s *revocationStore) Revoke(_ context.Context, entry models.RevocationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Idempotent: the first revocation timestamp wins.
	if _, ok := s.entries[entry.JTI]; ok {
		return nil
	}
	s.entries[entry.JTI] = entry
	return nil
}

func (s *revocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[jti]
	return ok, nil
}

func (s *revocationStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for jti, entry := range s.entries {
		if entry.RevokedAt.Before(cutoff) {
			delete(s.entries, jti)
			n++
		}
	}
	return n, nil
}
