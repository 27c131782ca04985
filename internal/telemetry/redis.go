package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes each Event as a single-field entry on a Redis
// stream, the transport CORE SPEC §6's publish_to_redis/stream_name config
// options name. Publish failures are logged by the caller's logger
// wrapper, not surfaced as an error — a telemetry sink must never fail the
// task it's reporting on.
type RedisSink struct {
	rdb        *redis.Client
	streamName string
	onError    func(err error)
}

// NewRedisSink builds a sink that XAdds to streamName on rdb. onError,
// if non-nil, is called with any XAdd failure instead of panicking or
// propagating it — callers typically wire this to their structured logger.
func NewRedisSink(rdb *redis.Client, streamName string, onError func(err error)) *RedisSink {
	return &RedisSink{rdb: rdb, streamName: streamName, onError: onError}
}

func (s *RedisSink) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.reportError(fmt.Errorf("telemetry: marshal event: %w", err))
		return
	}

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamName,
		Values: map[string]any{
			"task_id": e.TaskID,
			"type":    string(e.EventType),
			"payload": payload,
		},
	}).Err()
	if err != nil {
		s.reportError(fmt.Errorf("telemetry: publish to redis stream %q: %w", s.streamName, err))
	}
}

func (s *RedisSink) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
