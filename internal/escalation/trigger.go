package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// JobsKey is the Redis list the worker consumes.
	JobsKey = "jobs"
	// JobType marks a queued request for an immediate scan.
	JobType = "sla_scan"
	// LastResultKey holds the JSON summary of the most recent scan.
	LastResultKey = "sla_scan:last"
)

// Trigger decides when a scan starts. The returned channel is closed once ctx
// is done.
type Trigger interface {
	Fire(ctx context.Context) <-chan time.Time
}

// Interval fires on a fixed period.
type Interval struct{ Every time.Duration }

func (i Interval) Fire(ctx context.Context) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		defer close(ch)
		t := time.NewTicker(i.Every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				select {
				case ch <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// Job is the envelope pushed onto the jobs list.
type Job struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Queue fires for every sla_scan job popped from a Redis list, so cron or an
// operator can request a scan.
type Queue struct {
	RDB *redis.Client
	Key string
	// Wait bounds each BLPOP so cancellation is noticed.
	Wait time.Duration
}

func (q Queue) Fire(ctx context.Context) <-chan time.Time {
	ch := make(chan time.Time)
	key := q.Key
	if key == "" {
		key = JobsKey
	}
	wait := q.Wait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			res, err := q.RDB.BLPop(ctx, wait, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("blpop")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if len(res) < 2 {
				continue
			}
			var job Job
			if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
				log.Error().Err(err).Msg("unmarshal job")
				continue
			}
			if job.Type != JobType {
				log.Warn().Str("type", job.Type).Msg("unknown job type")
				continue
			}
			log.Info().Str("job", job.ID).Msg("sla scan requested")
			select {
			case ch <- time.Now():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Enqueue pushes an sla_scan job and returns its id.
func Enqueue(ctx context.Context, rdb *redis.Client) (string, error) {
	id := uuid.New().String()
	b, err := json.Marshal(Job{ID: id, Type: JobType})
	if err != nil {
		return "", err
	}
	if err := rdb.RPush(ctx, JobsKey, b).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// SaveResult stores res as the latest scan summary.
func SaveResult(ctx context.Context, rdb *redis.Client, res Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, LastResultKey, b, 0).Err()
}

// LastResult loads the latest scan summary.
func LastResult(ctx context.Context, rdb *redis.Client) (Result, error) {
	var res Result
	b, err := rdb.Get(ctx, LastResultKey).Bytes()
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(b, &res)
	return res, err
}
