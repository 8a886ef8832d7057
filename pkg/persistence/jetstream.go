// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamConfig configures a JetStreamPort.
type JetStreamConfig struct {
	// Bucket is the KV bucket name. Defaults to "fsm-contexts".
	Bucket string

	// History is the number of historical revisions JetStream keeps per
	// key. Defaults to 1 (no history beyond the current value).
	History uint8

	// TTL expires a context's storage entry if it is never updated again;
	// zero means no expiry. Most deployments leave this unset and rely on
	// the registry's own eviction to call Save one last time before
	// dropping a machine, rather than on storage-layer TTL.
	TTL time.Duration
}

func (c JetStreamConfig) withDefaults() JetStreamConfig {
	if c.Bucket == "" {
		c.Bucket = "fsm-contexts"
	}
	if c.History == 0 {
		c.History = 1
	}
	return c
}

// JetStreamPort is a Port backed by a NATS JetStream key/value bucket. It is
// the natural choice for deployments that already run the embedded NATS bus
// (service/ipc) and want persistence without standing up a separate
// database.
type JetStreamPort struct {
	cfg JetStreamConfig
	js  jetstream.JetStream
	kv  jetstream.KeyValue
}

var _ Port = (*JetStreamPort)(nil)

// NewJetStreamPort wraps an existing JetStream context. The caller owns the
// underlying *nats.Conn's lifecycle.
func NewJetStreamPort(nc *nats.Conn, cfg JetStreamConfig) (*JetStreamPort, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("persistence: jetstream init: %w", err)
	}
	return &JetStreamPort{cfg: cfg.withDefaults(), js: js}, nil
}

// Initialize creates the KV bucket if it does not already exist.
func (p *JetStreamPort) Initialize(ctx context.Context) error {
	kv, err := p.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  p.cfg.Bucket,
		History: p.cfg.History,
		TTL:     p.cfg.TTL,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return NewError("initialize", "", true, fmt.Errorf("create kv bucket %q: %w", p.cfg.Bucket, err))
	}
	p.kv = kv
	return nil
}

// jetstreamRecord is the JSON envelope stored per key; JetStream KV keys
// cannot contain every character a machine id might, so the id is kept
// inside the value as well as encoded into the key.
type jetstreamRecord struct {
	ID              string         `json:"id"`
	CurrentState    string         `json:"current_state"`
	LastStateChange time.Time      `json:"last_state_change"`
	Complete        bool           `json:"complete"`
	Attributes      map[string]any `json:"attributes,omitempty"`
}

// Save upserts the machine context by id.
func (p *JetStreamPort) Save(ctx context.Context, pc *PersistentContext) error {
	if pc == nil || pc.ID == "" {
		return NewError("save", "", false, ErrMissingID)
	}

	rec := jetstreamRecord{
		ID:              pc.ID,
		CurrentState:    pc.CurrentState,
		LastStateChange: pc.LastStateChange,
		Complete:        pc.Complete,
		Attributes:      pc.Attributes,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return NewError("save", pc.ID, false, fmt.Errorf("marshal: %w", err))
	}

	if _, err := p.kv.Put(ctx, keyForID(pc.ID), data); err != nil {
		return NewError("save", pc.ID, true, err)
	}
	return nil
}

// Load returns the stored context for id, if any.
func (p *JetStreamPort) Load(ctx context.Context, id string) (*PersistentContext, bool, error) {
	entry, err := p.kv.Get(ctx, keyForID(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewError("load", id, true, err)
	}

	var rec jetstreamRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, false, NewError("load", id, false, fmt.Errorf("unmarshal: %w", err))
	}

	return &PersistentContext{
		ID:              rec.ID,
		CurrentState:    rec.CurrentState,
		LastStateChange: rec.LastStateChange,
		Complete:        rec.Complete,
		Attributes:      rec.Attributes,
	}, true, nil
}

// keyForID maps a machine id to a JetStream KV key. JetStream keys allow
// alphanumerics, dashes, underscores, equals signs and forward slashes; any
// other byte is escaped to keep arbitrary machine ids valid keys.
func keyForID(id string) string {
	escaped := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '=', c == '/':
			escaped = append(escaped, c)
		default:
			escaped = append(escaped, '_')
		}
	}
	return string(escaped)
}
