package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	commonredis "github.com/law4percent/Chick-Up/internal/common/redis"
	"github.com/law4percent/Chick-Up/internal/domain"
)

// writeScript applies one object write atomically.
// KEYS[1] hash key; ARGV[1] mode (set|setnx|update); ARGV[2] sentinel; ARGV[3] server ms;
// ARGV[4..] field/value pairs. A JSON null value removes the field.
var writeScript = redis.NewScript(`
if ARGV[1] == 'setnx' and redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if ARGV[1] == 'set' then
  redis.call('DEL', KEYS[1])
end
for i = 4, #ARGV, 2 do
  local v = ARGV[i + 1]
  if v == ARGV[2] then
    v = ARGV[3]
  end
  if v == 'null' then
    redis.call('HDEL', KEYS[1], ARGV[i])
  else
    redis.call('HSET', KEYS[1], ARGV[i], v)
  end
end
return 1
`)

const (
	modeSet    = "set"
	modeSetNX  = "setnx"
	modeUpdate = "update"
)

// RedisStore Store over Redis: objects are hashes of JSON fields, collections
// are streams, and every write publishes the path on <prefix>changes:<path>.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a store; prefix is prepended to every key and channel
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *RedisStore) key(path string) string     { return s.prefix + path }
func (s *RedisStore) channel(path string) string { return s.prefix + "changes:" + path }

// Get reads path into dest
func (s *RedisStore) Get(ctx context.Context, path string, dest any) error {
	snap, err := s.read(ctx, path)
	if err != nil {
		return err
	}
	return snap.Decode(dest)
}

// Exists reports whether anything is stored at path
func (s *RedisStore) Exists(ctx context.Context, path string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(path)).Result()
	if err != nil {
		return false, domain.NewTransportError("exists", path, err)
	}
	return n > 0, nil
}

// Set replaces the object at path
func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	fields, err := encodeObject(path, value)
	if err != nil {
		return err
	}
	_, err = s.write(ctx, "set", path, modeSet, fields)
	return err
}

// SetIfAbsent writes value only when path is empty
func (s *RedisStore) SetIfAbsent(ctx context.Context, path string, value any) (bool, error) {
	fields, err := encodeObject(path, value)
	if err != nil {
		return false, err
	}
	return s.write(ctx, "setnx", path, modeSetNX, fields)
}

// Update merges fields into the object at path
func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(fields))
	for name, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s.%s: %w", path, name, err)
		}
		encoded[name] = raw
	}
	_, err := s.write(ctx, "update", path, modeUpdate, encoded)
	return err
}

// Push appends value to the collection at path
func (s *RedisStore) Push(ctx context.Context, path string, value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s entry: %w", path, err)
	}
	if bytes.Contains(payload, []byte(serverTimestampJSON)) {
		ms, err := s.serverMillis(ctx, path)
		if err != nil {
			return "", err
		}
		payload = bytes.ReplaceAll(payload, []byte(serverTimestampJSON), []byte(ms))
	}

	id, err := commonredis.AppendRaw(ctx, s.client, s.key(path), payload)
	if err != nil {
		return "", domain.NewTransportError("push", path, err)
	}
	s.notify(ctx, path)
	return id, nil
}

// List returns the children at path; an empty path yields none
func (s *RedisStore) List(ctx context.Context, path string) ([]Child, error) {
	snap, err := s.read(ctx, path)
	if err != nil {
		return nil, err
	}
	return snap.Children(), nil
}

// Delete removes every path and notifies their listeners
func (s *RedisStore) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = s.key(p)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return domain.NewTransportError("delete", paths[0], err)
	}
	for _, p := range paths {
		s.notify(ctx, p)
	}
	return nil
}

// DeleteFields removes fields of the object at path
func (s *RedisStore) DeleteFields(ctx context.Context, path string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key(path), fields...).Err(); err != nil {
		return domain.NewTransportError("delete-fields", path, err)
	}
	s.notify(ctx, path)
	return nil
}

// ServerTime Redis TIME, the single authoritative clock
func (s *RedisStore) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, domain.NewTransportError("time", "", err)
	}
	return t, nil
}

// Subscribe listens for changes at path. The listener is confirmed before this
// returns, so no write made afterwards is missed. Bursts are coalesced into one
// re-read. Callbacks run on a single goroutine per subscription.
func (s *RedisStore) Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (*Subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, domain.NewTransportError("subscribe", path, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)
	go s.watch(subCtx, sub, ps, path, onData, onError)

	return sub, nil
}

func (s *RedisStore) watch(ctx context.Context, sub *Subscription, ps *redis.PubSub, path string, onData func(Snapshot), onError func(error)) {
	defer sub.finish()
	defer ps.Close()

	deliver := func() {
		snap, err := s.read(ctx, path)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Debug("subscription read failed", zap.String("path", path), zap.Error(err))
			if onError != nil {
				onError(err)
			}
			return
		}
		onData(snap)
	}

	msgs := ps.Channel()
	deliver()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case _, ok := <-msgs:
					if !ok {
						return
					}
				default:
					break drain
				}
			}
			deliver()
		}
	}
}

func (s *RedisStore) read(ctx context.Context, path string) (Snapshot, error) {
	key := s.key(path)
	typ, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return Snapshot{}, domain.NewTransportError("get", path, err)
	}

	switch typ {
	case "none":
		return Snapshot{Path: path}, nil
	case "hash":
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return Snapshot{}, domain.NewTransportError("get", path, err)
		}
		return hashSnapshot(path, fields), nil
	case "stream":
		entries, err := commonredis.ReadAll(ctx, s.client, key)
		if err != nil {
			return Snapshot{}, domain.NewTransportError("get", path, err)
		}
		if len(entries) == 0 {
			return Snapshot{Path: path}, nil
		}
		children := make([]Child, len(entries))
		for i, e := range entries {
			children[i] = Child{Key: e.ID, Value: e.Data}
		}
		return Snapshot{Path: path, exists: true, children: children}, nil
	default:
		return Snapshot{}, domain.NewTransportError("get", path, fmt.Errorf("unexpected key type %q", typ))
	}
}

func (s *RedisStore) write(ctx context.Context, op, path, mode string, fields map[string]json.RawMessage) (bool, error) {
	needsClock := false
	names := make([]string, 0, len(fields))
	for name, v := range fields {
		names = append(names, name)
		if string(v) == serverTimestampJSON {
			needsClock = true
		}
	}
	sort.Strings(names)

	now := "0"
	if needsClock {
		ms, err := s.serverMillis(ctx, path)
		if err != nil {
			return false, err
		}
		now = ms
	}

	args := make([]interface{}, 0, 3+2*len(names))
	args = append(args, mode, serverTimestampJSON, now)
	for _, name := range names {
		args = append(args, name, string(fields[name]))
	}

	written, err := writeScript.Run(ctx, s.client, []string{s.key(path)}, args...).Int()
	if err != nil {
		return false, domain.NewTransportError(op, path, err)
	}
	if written == 0 {
		return false, nil
	}

	s.notify(ctx, path)
	return true, nil
}

func (s *RedisStore) serverMillis(ctx context.Context, path string) (string, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return "", domain.NewTransportError("time", path, err)
	}
	return strconv.FormatInt(t.UnixMilli(), 10), nil
}

// notify is best-effort; the write already succeeded
func (s *RedisStore) notify(ctx context.Context, path string) {
	if err := s.client.Publish(ctx, s.channel(path), path).Err(); err != nil {
		s.logger.Warn("failed to publish change", zap.String("path", path), zap.Error(err))
	}
}

func encodeObject(path string, value any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, &domain.ValidationError{Field: path, Value: string(raw), Reason: "must encode as a JSON object"}
	}
	return fields, nil
}

var _ Store = (*RedisStore)(nil)
