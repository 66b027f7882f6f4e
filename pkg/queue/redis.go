// Package queue distributes re-aging jobs to workers over a Redis stream
// with a consumer group, so each job is delivered to one worker and
// unacknowledged jobs can be reclaimed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
)

const (
	DefaultStream = "reage:jobs"
	DefaultGroup  = "workers"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Job asks a worker to re-age Input and write the result to Output. Both
// are local paths or s3:// URIs.
type Job struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	Ages       model.Ages `json:"ages"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

func (j Job) Validate() error {
	if j.Kind != KindImage && j.Kind != KindVideo {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if j.Input == "" || j.Output == "" {
		return errors.New("job needs input and output")
	}
	return j.Ages.Validate()
}

// Message is a delivered job and the stream entry ID used to ack it.
type Message struct {
	ID  string
	Job Job
}

type Queue struct {
	client *redis.Client
	stream string
	group  string
	logger *zap.Logger
}

// New connects to addr and checks the connection.
func New(ctx context.Context, addr, stream, group string, logger *zap.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return NewWithClient(client, stream, group, logger), nil
}

func NewWithClient(client *redis.Client, stream, group string, logger *zap.Logger) *Queue {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, stream: stream, group: group, logger: logger}
}

func (q *Queue) Close() error { return q.client.Close() }

func (q *Queue) deadLetterStream() string { return q.stream + ":dlq" }

// EnsureGroup creates the stream and consumer group if missing.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Enqueue validates job, fills in ID and EnqueuedAt, and appends it.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if err := job.Validate(); err != nil {
		return job, err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return job, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: map[string]any{"data": b}}).Err(); err != nil {
		return job, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	q.logger.Info("job enqueued", zap.String("job", job.ID), zap.String("input", job.Input))
	return job, nil
}

// Read blocks up to block for the next job. It returns nil, nil when
// nothing arrived. An entry that cannot be decoded is moved to the dead
// letter stream and also yields nil, nil.
func (q *Queue) Read(ctx context.Context, consumer string, block time.Duration) (*Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	raw := res[0].Messages[0]
	m, err := decode(raw)
	if err != nil {
		// Nothing deliverable this round; the entry is parked, not retried.
		return nil, q.deadLetterRaw(ctx, raw, err)
	}
	return m, nil
}

func (q *Queue) Ack(ctx context.Context, id string) error {
	return q.client.XAck(ctx, q.stream, q.group, id).Err()
}

// ClaimStale takes over up to count jobs left pending by other consumers
// for at least minIdle.
func (q *Queue) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]*Message, error) {
	pend, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream, Group: q.group, Idle: minIdle, Start: "-", End: "+", Count: count,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(pend) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(pend))
	for _, p := range pend {
		ids = append(ids, p.ID)
	}
	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream: q.stream, Group: q.group, Consumer: consumer, MinIdle: minIdle, Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Message, 0, len(claimed))
	for _, c := range claimed {
		m, err := decode(c)
		if err != nil {
			if dlqErr := q.deadLetterRaw(ctx, c, err); dlqErr != nil {
				q.logger.Warn("dead letter failed", zap.String("id", c.ID), zap.Error(dlqErr))
			}
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// DeadLetter parks a job that cannot succeed and acks the original.
func (q *Queue) DeadLetter(ctx context.Context, msg *Message, reason error) error {
	b, err := json.Marshal(msg.Job)
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadLetterStream(),
		Values: map[string]any{"data": b, "error": reason.Error(), "source_id": msg.ID},
	}).Err()
	if err != nil {
		return err
	}
	return q.Ack(ctx, msg.ID)
}

// deadLetterRaw parks an entry that could not be decoded, keeping its
// payload as received, and acks the original.
func (q *Queue) deadLetterRaw(ctx context.Context, msg redis.XMessage, reason error) error {
	q.logger.Warn("undecodable job", zap.String("id", msg.ID), zap.Error(reason))
	values := map[string]any{"error": reason.Error(), "source_id": msg.ID}
	if raw, ok := msg.Values["data"]; ok {
		values["data"] = bytesFromAny(raw)
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.deadLetterStream(), Values: values}).Err()
	if err != nil {
		return fmt.Errorf("dead letter %s: %w", msg.ID, err)
	}
	if err := q.Ack(ctx, msg.ID); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

func decode(msg redis.XMessage) (*Message, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}
	var job Job
	if err := json.Unmarshal(bytesFromAny(raw), &job); err != nil {
		return nil, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return &Message{ID: msg.ID, Job: job}, nil
}

// Redis may hand back either string or []byte.
func bytesFromAny(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		b, _ := json.Marshal(t)
		return b
	}
}
