// Package redisstore implements an optional Redis-backed mirror of recent
// order intents and the checkpoint pointer. It is explicitly NOT the
// durability boundary (internal/adapters/statestore/file is) — losing Redis
// loses only a speed-of-recovery optimization, never committed state, per
// the non-goal of guaranteeing cross-process durability. A process can
// recover correctly from internal/adapters/statestore/file alone even if
// Redis is unreachable or was never configured.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror publishes order intents onto a Redis list for fast fan-out to other
// processes (a monitoring UI, a secondary read replica) and tracks the
// last-checkpointed version behind an atomically-updated pointer key.
type Mirror struct {
	client     redis.Cmdable
	streamKey  string
	pointerKey string
	maxLen     int64
}

// pointerScript advances the checkpoint pointer only if the candidate
// version is newer than what is stored, the same atomic read-modify-write
// shape as a token bucket refill: read current state, decide, write back,
// all inside one Lua script so concurrent writers can't race each other.
var pointerScript = redis.NewScript(`
local key = KEYS[1]
local candidate = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key))
if current == nil or candidate > current then
    redis.call('SET', key, candidate)
    return candidate
end
return current
`)

// NewMirror creates a Mirror. client may be *redis.Client or
// *redis.ClusterClient. maxLen bounds the stream list so a disconnected
// consumer can't grow it without limit; 0 means unbounded.
func NewMirror(client redis.Cmdable, keyPrefix string, maxLen int64) *Mirror {
	return &Mirror{
		client:     client,
		streamKey:  keyPrefix + ":intents",
		pointerKey: keyPrefix + ":checkpoint_version",
		maxLen:     maxLen,
	}
}

// intentEnvelope is the JSON wire shape pushed onto the Redis list, distinct
// from the gob framing used by the durable file store: a mirror consumer
// may not be a Go process, so JSON keeps the wire format inspectable.
type intentEnvelope struct {
	Version  uint64 `json:"version"`
	Payload  []byte `json:"payload"`
	PushedNs int64  `json:"pushed_ns"`
}

// PublishEvent pushes a new intent onto the mirror list. Best-effort: a
// Redis error here is logged by the caller and never blocks the durable
// write path.
func (m *Mirror) PublishEvent(ctx context.Context, version uint64, payload []byte) error {
	env := intentEnvelope{Version: version, Payload: payload, PushedNs: time.Now().UnixNano()}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisstore: marshal envelope: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.LPush(ctx, m.streamKey, data)
	if m.maxLen > 0 {
		pipe.LTrim(ctx, m.streamKey, 0, m.maxLen-1)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: publish intent: %w", err)
	}
	return nil
}

// Stream consumes the mirror list with a blocking right-pop loop, emitting
// payloads in publish order on the returned channel. The loop exits and
// closes the channel when ctx is canceled; a transient Redis error is
// retried after a short sleep rather than terminating the stream.
func (m *Mirror) Stream(ctx context.Context) <-chan []byte {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			result, err := m.client.BRPop(ctx, 0, m.streamKey).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}
			if len(result) != 2 {
				continue
			}

			var env intentEnvelope
			if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
				continue
			}
			select {
			case out <- env.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// AdvancePointer atomically sets the checkpoint pointer to version if it is
// newer than the currently stored value, returning the value now stored.
func (m *Mirror) AdvancePointer(ctx context.Context, version uint64) (uint64, error) {
	result, err := pointerScript.Run(ctx, m.client, []string{m.pointerKey}, version).Int64()
	if err != nil {
		return 0, fmt.Errorf("redisstore: advance pointer: %w", err)
	}
	return uint64(result), nil
}

// PointerVersion reads the current checkpoint pointer, or 0 if unset.
func (m *Mirror) PointerVersion(ctx context.Context) (uint64, error) {
	val, err := m.client.Get(ctx, m.pointerKey).Uint64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redisstore: read pointer: %w", err)
	}
	return val, nil
}

// IsHealthy reports whether the Redis connection is reachable.
func (m *Mirror) IsHealthy(ctx context.Context) bool {
	return m.client.Ping(ctx).Err() == nil
}
