// Package audit records who did what to which entity. Entries written by the
// Postgres sink form a hash chain: each hash covers the entry payload and the
// previous entry's hash.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Entry is one audited action.
type Entry struct {
	ActorType  string
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
	Diff       any
	IP         string
	UA         string
}

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// DB is the subset of pgx used by PGSink.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink appends to the audit_events table.
type PGSink struct {
	DB  DB
	Now func() time.Time
}

func NewPGSink(db DB) *PGSink { return &PGSink{DB: db, Now: time.Now} }

// Hash chains payload onto prev.
func Hash(payload []byte, prev *string) string {
	data := append([]byte{}, payload...)
	if prev != nil {
		data = append(data, []byte(*prev)...)
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

func (s *PGSink) Record(ctx context.Context, e Entry) error {
	var prevHash *string
	if err := s.DB.QueryRow(ctx, "select hash from audit_events order by at desc, id desc limit 1").Scan(&prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("audit: previous hash: %w", err)
	}
	diffJSON, err := json.Marshal(e.Diff)
	if err != nil {
		return fmt.Errorf("audit: encode diff: %w", err)
	}
	actorType := e.ActorType
	if actorType == "" {
		actorType = "user"
	}
	hash := Hash(diffJSON, prevHash)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err = s.DB.Exec(ctx, `insert into audit_events (actor_type, actor_id, entity_type, entity_id, action, diff_json, ip, ua, hash, prev_hash, at)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		actorType, e.ActorID, e.EntityType, e.EntityID, e.Action, diffJSON, nullable(e.IP), nullable(e.UA), hash, prevHash, now().UTC())
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Log records e and only logs a failure. Audit never fails the caller's operation.
func Log(ctx context.Context, s Sink, e Entry) {
	if s == nil {
		return
	}
	if err := s.Record(ctx, e); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", e.Action).Str("entity_id", e.EntityID).Msg("audit record")
	}
}

type requestKey struct{}

// RequestInfo is the client address and user agent of the originating request.
type RequestInfo struct{ IP, UA string }

// WithRequest attaches client info so entries recorded deeper in the call
// stack carry it.
func WithRequest(ctx context.Context, ip, ua string) context.Context {
	return context.WithValue(ctx, requestKey{}, RequestInfo{IP: ip, UA: ua})
}

// FromContext returns the request info stored by WithRequest.
func FromContext(ctx context.Context) RequestInfo {
	ri, _ := ctx.Value(requestKey{}).(RequestInfo)
	return ri
}
