package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
)

const (
	flowSlipPrefix  = "obo:flow:slip:"
	flowStatePrefix = "obo:flow:state:"
)

// takeScript removes and returns a key's value in one round trip, which is
// what makes TakeBySlip an atomic claim: two racing completions cannot both
// receive the flow.
var takeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
redis.call('DEL', KEYS[1])
return raw
`)

// flowStore keeps each pending flow under its slip key with a TTL matching
// the flow deadline, plus a state index entry for PKCE callback correlation.
type flowStore struct {
	client *redis.Client
}

// NewFlowStore returns a Redis-backed FlowStore.
func NewFlowStore(client *redis.Client) service.FlowStore {
	return &flowStore{client: client}
}

func flowTTL(flow *models.PendingFlow) time.Duration {
	ttl := time.Until(flow.ExpiresAt)
	if ttl <= 0 {
		// Already past deadline; keep the record just long enough for the
		// expiry classification to observe it.
		ttl = time.Minute
	}
	return ttl
}

func (s *flowStore) Put(ctx context.Context, flow *models.PendingFlow) error {
	// Replace semantics: drop the old state index entry before writing the
	// new record, so a restarted flow leaves no dangling state key.
	if old, err := s.GetBySlip(ctx, flow.SlipID); err == nil && old != nil {
		if key := old.StateKey(); key != "" {
			s.client.Del(ctx, flowStatePrefix+key)
		}
	}

	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	ttl := flowTTL(flow)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, flowSlipPrefix+flow.SlipID, raw, ttl)
	if key := flow.StateKey(); key != "" {
		pipe.Set(ctx, flowStatePrefix+key, flow.SlipID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store flow: %w", err)
	}
	return nil
}

func (s *flowStore) GetBySlip(ctx context.Context, slipID string) (*models.PendingFlow, error) {
	raw, err := s.client.Get(ctx, flowSlipPrefix+slipID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return unmarshalFlow(raw)
}

func (s *flowStore) TakeBySlip(ctx context.Context, slipID string) (*models.PendingFlow, error) {
	res, err := takeScript.Run(ctx, s.client, []string{flowSlipPrefix + slipID}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take flow: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	flow, err := unmarshalFlow([]byte(raw))
	if err != nil {
		return nil, err
	}
	if key := flow.StateKey(); key != "" {
		s.client.Del(ctx, flowStatePrefix+key)
	}
	return flow, nil
}

func (s *flowStore) TakeByState(ctx context.Context, state string) (*models.PendingFlow, error) {
	slipID, err := s.client.Get(ctx, flowStatePrefix+state).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve state: %w", err)
	}
	// The claim happens on the slip key; losing the race here returns nil just
	// like an unknown state.
	return s.TakeBySlip(ctx, slipID)
}

func (s *flowStore) Delete(ctx context.Context, slipID string) error {
	flow, err := s.GetBySlip(ctx, slipID)
	if err != nil {
		return err
	}
	if flow == nil {
		return nil
	}
	keys := []string{flowSlipPrefix + slipID}
	if key := flow.StateKey(); key != "" {
		keys = append(keys, flowStatePrefix+key)
	}
	return s.client.Del(ctx, keys...).Err()
}

func unmarshalFlow(raw []byte) (*models.PendingFlow, error) {
	var flow models.PendingFlow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}
	return &flow, nil
}
