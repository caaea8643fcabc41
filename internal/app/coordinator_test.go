package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
	"github.com/zoomvconnect/signaling/internal/store"
)

type publishedEnv struct {
	roomID domain.RoomID
	env    core.Envelope
}

// fakeBackplane records publishes and the subscription set.
type fakeBackplane struct {
	mu         sync.Mutex
	published  []publishedEnv
	subscribed map[domain.RoomID]bool
}

func newFakeBackplane() *fakeBackplane {
	return &fakeBackplane{subscribed: make(map[domain.RoomID]bool)}
}

func (f *fakeBackplane) Publish(_ context.Context, roomID domain.RoomID, env core.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEnv{roomID, env})
	return nil
}

func (f *fakeBackplane) Subscribe(_ context.Context, roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[roomID] = true
	return nil
}

func (f *fakeBackplane) Unsubscribe(_ context.Context, roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, roomID)
	return nil
}

func (f *fakeBackplane) Close() error { return nil }

func (f *fakeBackplane) isSubscribed(roomID domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[roomID]
}

func (f *fakeBackplane) publishes() []publishedEnv {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedEnv(nil), f.published...)
}

type coordHarness struct {
	coord *Coordinator
	reg   *Registry
	store *store.RedisStore
	bp    *fakeBackplane
}

func newCoordHarness(t *testing.T) *coordHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := NewRegistry()
	st := store.NewRedisStore(rdb, 24*time.Hour)
	bp := newFakeBackplane()
	return &coordHarness{
		coord: NewCoordinator(reg, st, bp),
		reg:   reg,
		store: st,
		bp:    bp,
	}
}

func (h *coordHarness) authedConn(t *testing.T, id core.ConnID, userID domain.UserID) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	h.reg.Register(id, conn)
	if !h.reg.Authenticate(id, userID) {
		t.Fatalf("Authenticate(%s) failed", id)
	}
	return conn
}

func TestJoinReturnsSnapshotWithSelf(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")

	snap, err := h.coord.Join(ctx, "c1", "r1", "p1", "Alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if snap.RoomID != "r1" {
		t.Fatalf("RoomID = %q, want r1", snap.RoomID)
	}
	if len(snap.Participants) != 1 {
		t.Fatalf("participants = %d, want 1", len(snap.Participants))
	}
	p := snap.Participants[0]
	if p.ParticipantID != "p1" || p.Identity != "u1" || p.DisplayName != "Alice" {
		t.Fatalf("participant = %+v", p)
	}
	if !p.IsMuted || p.IsVideoOn || p.IsHandRaised || p.IsScreenSharing {
		t.Fatalf("join defaults wrong: %+v", p)
	}
	if snap.IsRecording || snap.ActiveSpeakerID != nil {
		t.Fatalf("fresh room flags = %+v", snap.RoomFlags)
	}
	if !h.bp.isSubscribed("r1") {
		t.Fatal("room channel not subscribed after join")
	}
}

func TestSecondJoinSeesBothParticipants(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	h.authedConn(t, "c2", "u2")

	if _, err := h.coord.Join(ctx, "c1", "r1", "p1", ""); err != nil {
		t.Fatalf("Join(c1): %v", err)
	}
	snap, err := h.coord.Join(ctx, "c2", "r1", "p2", "")
	if err != nil {
		t.Fatalf("Join(c2): %v", err)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(snap.Participants))
	}
	seen := map[domain.ParticipantID]bool{}
	for _, p := range snap.Participants {
		if seen[p.ParticipantID] {
			t.Fatalf("duplicate participant %s", p.ParticipantID)
		}
		seen[p.ParticipantID] = true
	}
	if !seen["p1"] || !seen["p2"] {
		t.Fatalf("snapshot missing participants: %v", seen)
	}
}

func TestSnapshotOmitsDepartedParticipants(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	h.authedConn(t, "c2", "u2")

	if _, err := h.coord.Join(ctx, "c1", "r1", "p1", ""); err != nil {
		t.Fatalf("Join(c1): %v", err)
	}
	if _, _, ok := h.coord.Leave(ctx, "c1"); !ok {
		t.Fatal("Leave(c1) = false")
	}

	snap, err := h.coord.Join(ctx, "c2", "r1", "p2", "")
	if err != nil {
		t.Fatalf("Join(c2): %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].ParticipantID != "p2" {
		t.Fatalf("snapshot includes stale entries: %+v", snap.Participants)
	}
}

func TestJoinRequiresAuthentication(t *testing.T) {
	h := newCoordHarness(t)
	conn := newFakeConn()
	h.reg.Register("c1", conn)

	if _, err := h.coord.Join(context.Background(), "c1", "r1", "p1", ""); err != core.ErrNotAuthenticated {
		t.Fatalf("Join before auth error = %v, want ErrNotAuthenticated", err)
	}
}

func TestJoinWhileJoinedIsRejected(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")

	if _, err := h.coord.Join(ctx, "c1", "r1", "p1", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := h.coord.Join(ctx, "c1", "r2", "p1", ""); err != core.ErrAlreadyJoined {
		t.Fatalf("second Join error = %v, want ErrAlreadyJoined", err)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")

	if _, err := h.coord.Join(ctx, "c1", "r1", "p1", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	roomID, pid, ok := h.coord.Leave(ctx, "c1")
	if !ok || roomID != "r1" || pid != "p1" {
		t.Fatalf("Leave = (%q, %q, %v)", roomID, pid, ok)
	}
	if _, _, ok := h.coord.Leave(ctx, "c1"); ok {
		t.Fatal("second Leave = true, want false")
	}

	n, err := h.store.CountParticipants(ctx, "r1")
	if err != nil {
		t.Fatalf("CountParticipants: %v", err)
	}
	if n != 0 {
		t.Fatalf("participants after leave = %d, want 0", n)
	}
}

func TestLastLocalLeaveUnsubscribes(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	h.authedConn(t, "c2", "u2")

	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")
	_, _ = h.coord.Join(ctx, "c2", "r1", "p2", "")

	h.coord.Leave(ctx, "c1")
	if !h.bp.isSubscribed("r1") {
		t.Fatal("unsubscribed while local participants remain")
	}
	h.coord.Leave(ctx, "c2")
	if h.bp.isSubscribed("r1") {
		t.Fatal("still subscribed after last local participant left")
	}
}

func TestUpdateOwnStateRoundTrip(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")

	p, err := h.coord.UpdateOwnState(ctx, "c1", func(s *domain.ParticipantState) { s.IsMuted = false })
	if err != nil {
		t.Fatalf("UpdateOwnState: %v", err)
	}
	if p.IsMuted {
		t.Fatal("IsMuted still true after unmute")
	}

	p, err = h.coord.UpdateOwnState(ctx, "c1", func(s *domain.ParticipantState) { s.IsMuted = true })
	if err != nil {
		t.Fatalf("UpdateOwnState: %v", err)
	}
	if !p.IsMuted {
		t.Fatal("IsMuted not restored")
	}

	stored, found, err := h.store.GetParticipant(ctx, "r1", "p1")
	if err != nil || !found {
		t.Fatalf("GetParticipant: found=%v err=%v", found, err)
	}
	if !stored.IsMuted {
		t.Fatal("store does not reflect the final state")
	}
}

func TestUpdateOwnStateRequiresJoin(t *testing.T) {
	h := newCoordHarness(t)
	h.authedConn(t, "c1", "u1")
	if _, err := h.coord.UpdateOwnState(context.Background(), "c1", func(s *domain.ParticipantState) {}); err != core.ErrNotJoined {
		t.Fatalf("UpdateOwnState error = %v, want ErrNotJoined", err)
	}
}

func TestDepartureClearsMatchingActiveSpeaker(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	h.authedConn(t, "c2", "u2")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")
	_, _ = h.coord.Join(ctx, "c2", "r1", "p2", "")

	speaker := "p1"
	if _, err := h.coord.SetActiveSpeaker(ctx, "c1", &speaker); err != nil {
		t.Fatalf("SetActiveSpeaker: %v", err)
	}

	h.coord.Leave(ctx, "c1")
	flags, err := h.store.GetRoomFlags(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoomFlags: %v", err)
	}
	if flags.ActiveSpeakerID != nil {
		t.Fatalf("activeSpeakerId = %q after speaker departed, want nil", *flags.ActiveSpeakerID)
	}
}

func TestDepartureKeepsOtherActiveSpeaker(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	h.authedConn(t, "c2", "u2")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")
	_, _ = h.coord.Join(ctx, "c2", "r1", "p2", "")

	speaker := "p2"
	if _, err := h.coord.SetActiveSpeaker(ctx, "c1", &speaker); err != nil {
		t.Fatalf("SetActiveSpeaker: %v", err)
	}

	h.coord.Leave(ctx, "c1")
	flags, _ := h.store.GetRoomFlags(ctx, "r1")
	if flags.ActiveSpeakerID == nil || *flags.ActiveSpeakerID != "p2" {
		t.Fatalf("activeSpeakerId = %v, want p2", flags.ActiveSpeakerID)
	}
}

func TestSetRecording(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")

	flags, err := h.coord.SetRecording(ctx, "c1", true)
	if err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	if !flags.IsRecording {
		t.Fatal("IsRecording not set")
	}

	stored, _ := h.store.GetRoomFlags(ctx, "r1")
	if !stored.IsRecording {
		t.Fatal("store does not reflect recording flag")
	}
}

func TestBroadcastRoomPublishesTaggedEnvelope(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")

	h.coord.BroadcastRoom(ctx, "r1", core.Frame("evt"), "p1")

	pubs := h.bp.publishes()
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want 1", len(pubs))
	}
	env := pubs[0].env
	if env.Origin == "" {
		t.Fatal("envelope missing origin instance id")
	}
	if env.Exclude != "p1" {
		t.Fatalf("envelope exclude = %q, want p1", env.Exclude)
	}
	if string(env.Frame) != "evt" {
		t.Fatalf("envelope frame = %s", env.Frame)
	}
}

func TestHandleBackplaneDropsOwnOrigin(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	conn := h.authedConn(t, "c1", "u1")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")

	// Capture this instance's origin id from a publish.
	h.coord.BroadcastRoom(ctx, "r1", core.Frame("x"), "")
	own := h.bp.publishes()[0].env.Origin
	local := len(conn.sent())

	h.coord.HandleBackplane("r1", core.Envelope{Origin: own, Frame: core.Frame("dup")})
	if len(conn.sent()) != local {
		t.Fatal("own-origin envelope was delivered locally again")
	}

	h.coord.HandleBackplane("r1", core.Envelope{Origin: "remote-instance", Frame: core.Frame("remote")})
	frames := conn.sent()
	if len(frames) != local+1 || string(frames[len(frames)-1]) != "remote" {
		t.Fatalf("remote envelope not delivered: %v", frames)
	}
}

func TestHandleBackplaneHonorsExclude(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	a := h.authedConn(t, "c1", "u1")
	b := h.authedConn(t, "c2", "u2")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")
	_, _ = h.coord.Join(ctx, "c2", "r1", "p2", "")
	aBefore, bBefore := len(a.sent()), len(b.sent())

	h.coord.HandleBackplane("r1", core.Envelope{Origin: "remote", Exclude: "p1", Frame: core.Frame("evt")})

	if len(a.sent()) != aBefore {
		t.Fatal("excluded participant received remote envelope")
	}
	if len(b.sent()) != bBefore+1 {
		t.Fatal("peer did not receive remote envelope")
	}
}

func TestDeleteRoom(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()
	h.authedConn(t, "c1", "u1")
	_, _ = h.coord.Join(ctx, "c1", "r1", "p1", "")

	if err := h.coord.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if n, _ := h.store.CountParticipants(ctx, "r1"); n != 0 {
		t.Fatalf("participants after delete = %d, want 0", n)
	}
}
