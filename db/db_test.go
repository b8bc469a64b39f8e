package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/vod-excerpt/chat"
	"github.com/onnwee/vod-excerpt/db"
	"github.com/onnwee/vod-excerpt/testutil"
)

func insert(t *testing.T, dbc *sql.DB, id string) {
	t.Helper()
	rec := db.ExcerptRecord{
		ID:                 id,
		VideoNo:            "12345",
		WindowStartSeconds: 40,
		WindowEndSeconds:   70,
		Quality:            "best",
		ChatEnabled:        true,
	}
	if err := db.InsertExcerpt(context.Background(), dbc, rec); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestInsertAndGetExcerpt(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	insert(t, dbc, "e1")

	rec, err := db.GetExcerpt(context.Background(), dbc, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != db.StatePending {
		t.Errorf("state = %s, want pending", rec.State)
	}
	if rec.WindowStartSeconds != 40 || rec.WindowEndSeconds != 70 {
		t.Errorf("window = [%d,%d], want [40,70]", rec.WindowStartSeconds, rec.WindowEndSeconds)
	}
}

func TestClaimNextPendingOrdersByAge(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	insert(t, dbc, "older")
	time.Sleep(10 * time.Millisecond)
	insert(t, dbc, "newer")

	rec, err := db.ClaimNextPending(ctx, dbc)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if rec.ID != "older" {
		t.Errorf("claimed %s, want older", rec.ID)
	}
	if rec.State != db.StateProcessing {
		t.Errorf("state = %s, want processing", rec.State)
	}

	// second claim gets the other row, third finds nothing
	rec2, err := db.ClaimNextPending(ctx, dbc)
	if err != nil || rec2.ID != "newer" {
		t.Fatalf("second claim = %v, %v", rec2.ID, err)
	}
	if _, err := db.ClaimNextPending(ctx, dbc); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("third claim err = %v, want sql.ErrNoRows", err)
	}
}

func TestClaimSkipsCoolingDown(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	insert(t, dbc, "e1")

	if _, err := db.ClaimNextPending(ctx, dbc); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkFailed(ctx, dbc, "e1", "boom", true, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ClaimNextPending(ctx, dbc); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("claim during cooldown err = %v, want sql.ErrNoRows", err)
	}

	rec, err := db.GetExcerpt(ctx, dbc, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != db.StatePending || rec.Retries != 1 {
		t.Errorf("state/retries = %s/%d, want pending/1", rec.State, rec.Retries)
	}
}

func TestMarkFailedTerminal(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	insert(t, dbc, "e1")

	if err := db.MarkFailed(ctx, dbc, "e1", "window out of range", false, 0); err != nil {
		t.Fatal(err)
	}
	rec, err := db.GetExcerpt(ctx, dbc, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != db.StateError {
		t.Errorf("state = %s, want error", rec.State)
	}
	if rec.Error.String != "window out of range" {
		t.Errorf("error = %q", rec.Error.String)
	}
}

func TestMarkDoneRecordsArtifacts(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	insert(t, dbc, "e1")

	if err := db.MarkDone(ctx, dbc, "e1", "/data/out.mp4", "/data/out.chat.log", "", 12, 1); err != nil {
		t.Fatal(err)
	}
	rec, err := db.GetExcerpt(ctx, dbc, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != db.StateDone {
		t.Errorf("state = %s, want done", rec.State)
	}
	if rec.MediaPath.String != "/data/out.mp4" || rec.ChatEvents != 12 || rec.ChatDropped != 1 {
		t.Errorf("artifacts = %+v", rec)
	}
	if rec.MergedPath.Valid {
		t.Error("empty merged path stored as non-NULL")
	}
}

func TestMarkCanceledOnlyActiveStates(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	insert(t, dbc, "e1")

	ok, err := db.MarkCanceled(ctx, dbc, "e1")
	if err != nil || !ok {
		t.Fatalf("cancel pending = %v, %v", ok, err)
	}
	ok, err = db.MarkCanceled(ctx, dbc, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("canceled row canceled again")
	}
}

func TestInsertChatEvents(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	insert(t, dbc, "e1")

	events := []chat.Event{
		{Absolute: time.Now().UTC(), Offset: 45 * time.Second, Author: "alice", Message: "hi"},
		{Absolute: time.Now().UTC(), Offset: 50 * time.Second, Author: "whale", Message: "tip", Sponsored: true},
	}
	if err := db.InsertChatEvents(ctx, dbc, "e1", events, 40*time.Second); err != nil {
		t.Fatalf("insert events: %v", err)
	}

	var n int
	var firstRel float64
	if err := dbc.QueryRow(`SELECT COUNT(*), MIN(rel_seconds) FROM chat_events WHERE excerpt_id='e1'`).Scan(&n, &firstRel); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored %d events, want 2", n)
	}
	if firstRel != 5 {
		t.Errorf("first rel_seconds = %v, want 5 (re-zeroed to window start)", firstRel)
	}
}

func TestKVRoundTrip(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()

	if v, err := db.GetKV(ctx, dbc, "missing"); err != nil || v != "" {
		t.Errorf("missing key = %q, %v, want empty+nil", v, err)
	}
	if err := db.SetKV(ctx, dbc, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetKV(ctx, dbc, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetKV(ctx, dbc, "k"); v != "v2" {
		t.Errorf("kv = %q, want v2", v)
	}
}
