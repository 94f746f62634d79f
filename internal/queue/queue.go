package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeCheckIn marks messages carrying an accepted check-in record ID for
// the worker to post-process.
const TypeCheckIn = "checkin"

// TypePhotoUpload marks retry messages for verification photos whose
// synchronous upload failed during check-in.
const TypePhotoUpload = "photo_upload"

// Message represents work handed to the worker.
type Message struct {
	Type string
	Body []byte
}

// CheckInMessage wraps an attendance record ID for fan-out.
func CheckInMessage(recordID string) Message {
	return Message{Type: TypeCheckIn, Body: []byte(recordID)}
}

// PhotoUpload carries a stored record's photo bytes until the worker
// manages to upload them.
type PhotoUpload struct {
	RecordID string `json:"record_id"`
	Photo    []byte `json:"photo"`
}

// PhotoUploadMessage wraps a record's photo for upload retry.
func PhotoUploadMessage(recordID string, photo []byte) (Message, error) {
	body, err := json.Marshal(PhotoUpload{RecordID: recordID, Photo: photo})
	if err != nil {
		return Message{}, fmt.Errorf("queue: encode photo upload failed: %w", err)
	}
	return Message{Type: TypePhotoUpload, Body: body}, nil
}

// DecodePhotoUpload unpacks a TypePhotoUpload message body.
func DecodePhotoUpload(msg Message) (PhotoUpload, error) {
	var p PhotoUpload
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		return PhotoUpload{}, fmt.Errorf("queue: decode photo upload failed: %w", err)
	}
	return p, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "noesis:checkins"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, serialize(msg)).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				out <- deserialize(res[1])
			}
		}
	}()
	return out, nil
}

// serialize stores messages as Type|Body; types never contain '|', and
// deserialize splits at the first one so bodies may.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) Message {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return Message{Type: s[:i], Body: []byte(s[i+1:])}
	}
	return Message{Body: []byte(s)}
}
