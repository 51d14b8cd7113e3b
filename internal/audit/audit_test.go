package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type hashRow struct{ prev *string }

func (r hashRow) Scan(dest ...any) error {
	if r.prev == nil {
		return pgx.ErrNoRows
	}
	p := *r.prev
	*dest[0].(**string) = &p
	return nil
}

// chainDB keeps inserted rows in memory and serves the latest hash.
type chainDB struct {
	rows    [][]any
	execErr error
}

func (db *chainDB) QueryRow(context.Context, string, ...any) pgx.Row {
	if len(db.rows) == 0 {
		return hashRow{}
	}
	h := db.rows[len(db.rows)-1][8].(string)
	return hashRow{prev: &h}
}

func (db *chainDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if db.execErr != nil {
		return pgconn.CommandTag{}, db.execErr
	}
	db.rows = append(db.rows, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPGSinkChainsHashes(t *testing.T) {
	db := &chainDB{}
	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	s := &PGSink{DB: db, Now: func() time.Time { return at }}
	ctx := context.Background()

	first := Entry{ActorID: "u-1", EntityType: "ticket", EntityID: "t-1", Action: "ticket_created", Diff: map[string]any{"title": "VPN"}, IP: "10.0.0.1"}
	second := Entry{ActorType: "system", EntityType: "ticket", EntityID: "t-1", Action: "status_changed", Diff: map[string]any{"to": "RESOLVIDO"}}
	if err := s.Record(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, second); err != nil {
		t.Fatal(err)
	}
	if len(db.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(db.rows))
	}

	d1, _ := json.Marshal(first.Diff)
	h1 := Hash(d1, nil)
	if db.rows[0][8] != h1 || db.rows[0][9].(*string) != nil {
		t.Fatalf("first entry must start the chain: %v %v", db.rows[0][8], db.rows[0][9])
	}
	d2, _ := json.Marshal(second.Diff)
	if got := db.rows[1][8]; got != Hash(d2, &h1) {
		t.Fatalf("second hash must cover the first: %v", got)
	}
	if prev := db.rows[1][9].(*string); prev == nil || *prev != h1 {
		t.Fatalf("prev_hash not recorded: %v", prev)
	}
	if db.rows[0][0] != "user" || db.rows[1][0] != "system" {
		t.Fatalf("actor types: %v %v", db.rows[0][0], db.rows[1][0])
	}
	if ip := db.rows[0][6].(*string); ip == nil || *ip != "10.0.0.1" {
		t.Fatalf("ip not stored: %v", ip)
	}
	if ua := db.rows[0][7].(*string); ua != nil {
		t.Fatalf("empty ua must be null, got %q", *ua)
	}
	if !db.rows[0][10].(time.Time).Equal(at) {
		t.Fatalf("timestamp not from clock: %v", db.rows[0][10])
	}
}

func TestHashDependsOnPrev(t *testing.T) {
	a, b := "a", "b"
	if Hash([]byte("x"), &a) == Hash([]byte("x"), &b) || Hash([]byte("x"), nil) == Hash([]byte("x"), &a) {
		t.Fatal("hash must change with the previous hash")
	}
	if len(Hash(nil, nil)) != 64 {
		t.Fatal("expected hex sha256")
	}
}

type recordingSink struct{ err error }

func (s recordingSink) Record(context.Context, Entry) error { return s.err }

func TestLogSwallowsErrors(t *testing.T) {
	Log(context.Background(), recordingSink{err: errors.New("down")}, Entry{Action: "x"})
	Log(context.Background(), nil, Entry{Action: "x"})
}

func TestRecordInsertError(t *testing.T) {
	s := NewPGSink(&chainDB{execErr: errors.New("down")})
	if err := s.Record(context.Background(), Entry{Action: "x"}); err == nil {
		t.Fatal("expected insert error")
	}
}

func TestRequestInfoRoundTrip(t *testing.T) {
	ctx := WithRequest(context.Background(), "10.0.0.2", "curl")
	if ri := FromContext(ctx); ri.IP != "10.0.0.2" || ri.UA != "curl" {
		t.Fatalf("unexpected request info: %+v", ri)
	}
	if ri := FromContext(context.Background()); ri != (RequestInfo{}) {
		t.Fatalf("expected zero info, got %+v", ri)
	}
}
