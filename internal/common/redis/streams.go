package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DataField is the stream entry field holding the JSON payload
const DataField = "data"

// StreamEntry one entry of an append-only stream
type StreamEntry struct {
	ID   string
	Data json.RawMessage
}

// AppendRaw appends an already-encoded JSON payload; the returned id is
// assigned by the server (ms-seq)
func AppendRaw(ctx context.Context, client redis.Cmdable, stream string, payload []byte) (string, error) {
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{DataField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// ReadAll returns every entry of the stream in server order
func ReadAll(ctx context.Context, client redis.Cmdable, stream string) ([]StreamEntry, error) {
	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return []StreamEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	entries := make([]StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[DataField].(string)
		if !ok {
			// foreign entry (not written by AppendRaw)
			continue
		}
		entries = append(entries, StreamEntry{ID: msg.ID, Data: json.RawMessage(raw)})
	}
	return entries, nil
}
