package revision

import (
	"bytes"
	"testing"
	"time"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

func mustState(t *testing.T, ops string) timeline.State {
	t.Helper()
	s, err := timeline.Build(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := timeline.ParseOperations([]byte(ops))
	if err != nil {
		t.Fatal(err)
	}
	s, err = timeline.Apply(s, parsed)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

const twoClips = `[
	{"op": "create_track", "kind": "VIDEO"},
	{"op": "add_clip", "track_id": "track_1", "in_ms": 0, "duration_ms": 1000},
	{"op": "add_clip", "track_id": "track_1", "in_ms": 1000, "duration_ms": 500}
]`

func TestHash_IgnoresRevisionLog(t *testing.T) {
	s := mustState(t, twoClips)
	h1, err := Hash(s)
	if err != nil {
		t.Fatal(err)
	}

	s.Revisions = append(s.Revisions, timeline.RevisionRecord{ID: "r1", Revision: 1})
	h2, _ := Hash(s)
	if h1 != h2 {
		t.Error("Hash() changed when only the revision log changed")
	}
	if len(h1) != 64 {
		t.Errorf("len(hash) = %d, want 64 hex chars", len(h1))
	}
}

func TestHash_Deterministic(t *testing.T) {
	a, _ := Hash(mustState(t, twoClips))
	b, _ := Hash(mustState(t, twoClips))
	if a != b {
		t.Errorf("Hash() = %s and %s for identical input", a, b)
	}

	c, _ := Hash(mustState(t, `[{"op": "create_track", "kind": "AUDIO"}]`))
	if a == c {
		t.Error("different states share a hash")
	}
}

func TestCommit_AdvancesRevision(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	blob, err := Decode(nil, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if blob.Revision != 0 {
		t.Errorf("initial Revision = %d, want 0", blob.Revision)
	}

	next := mustState(t, twoClips)
	committed, rec, err := Commit(blob, next, Entry{Source: SourceTimelinePatch, Actor: "tester"}, now)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if committed.Revision != 1 || rec.Revision != 1 {
		t.Errorf("Revision = %d/%d, want 1", committed.Revision, rec.Revision)
	}
	if rec.ID == "" || rec.Source != SourceTimelinePatch || !rec.CreatedAt.Equal(now) {
		t.Errorf("record = %+v", rec)
	}
	if len(committed.Timeline.Revisions) != 1 {
		t.Errorf("embedded log = %d entries, want 1", len(committed.Timeline.Revisions))
	}

	// Restoring the empty state still moves forward.
	restored, rec2, err := Commit(committed, blob.Timeline, Entry{Source: SourceUndo}, now)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Revision != 2 || rec2.Revision != 2 {
		t.Errorf("undo Revision = %d, want 2", restored.Revision)
	}
	if restored.TimelineHash != blob.TimelineHash {
		t.Error("restoring identical content should reproduce the hash")
	}
	if len(restored.Timeline.Revisions) != 2 {
		t.Errorf("embedded log = %d entries, want 2", len(restored.Timeline.Revisions))
	}
}

func TestCommit_CapsEmbeddedLog(t *testing.T) {
	blob, _ := Decode(nil, nil)
	state := mustState(t, twoClips)
	for i := 0; i < MaxEmbeddedRevisions+5; i++ {
		var err error
		blob, _, err = Commit(blob, state, Entry{Source: SourceTimelinePatch}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := len(blob.Timeline.Revisions); got != MaxEmbeddedRevisions {
		t.Errorf("embedded log = %d, want %d", got, MaxEmbeddedRevisions)
	}
	if blob.Timeline.Revisions[0].Revision != 6 {
		t.Errorf("oldest kept revision = %d, want 6", blob.Timeline.Revisions[0].Revision)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	blob, _ := Decode(nil, nil)
	blob, _, err := Commit(blob, mustState(t, twoClips), Entry{Source: SourceTimelinePatch}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}

	raw, err := Encode(blob)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	back, err := Decode(raw, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if back.Revision != blob.Revision || back.TimelineHash != blob.TimelineHash {
		t.Errorf("Decode() = rev %d hash %s, want rev %d hash %s", back.Revision, back.TimelineHash, blob.Revision, blob.TimelineHash)
	}
	raw2, _ := Encode(back)
	if !bytes.Equal(raw, raw2) {
		t.Errorf("re-encoding differs:\n%s\n%s", raw, raw2)
	}
}

func TestCodec_SnapshotRoundTrip(t *testing.T) {
	codec, err := NewCodec(3)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	blob, _ := Decode(nil, nil)
	blob, _, _ = Commit(blob, mustState(t, twoClips), Entry{Source: SourcePlanApply}, time.Now())

	snap, err := codec.SnapshotBlob(blob)
	if err != nil {
		t.Fatalf("SnapshotBlob() error = %v", err)
	}
	back, err := codec.RestoreBlob(snap, nil)
	if err != nil {
		t.Fatalf("RestoreBlob() error = %v", err)
	}
	if back.TimelineHash != blob.TimelineHash || back.Revision != blob.Revision {
		t.Errorf("restored %d/%s, want %d/%s", back.Revision, back.TimelineHash, blob.Revision, blob.TimelineHash)
	}

	if _, err := codec.Decompress([]byte("not zstd")); err == nil {
		t.Error("Decompress() should reject garbage")
	}
}
