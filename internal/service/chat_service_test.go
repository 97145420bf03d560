package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/hub"
	"github.com/graham924/blog-feng-yu/internal/sanitize"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type chatFixture struct {
	svc      ChatService
	registry *hub.Registry
	repo     *memChatRepo
	uploader *stubUploader
	pub      *capturePublisher
}

func newChatFixture(t *testing.T, repo *memChatRepo, opts ...ChatOption) *chatFixture {
	t.Helper()
	if repo == nil {
		repo = newMemChatRepo()
	}
	registry := hub.NewRegistry()
	f := &chatFixture{
		registry: registry,
		repo:     repo,
		uploader: &stubUploader{url: "/static/voice"},
		pub:      newCapturePublisher(),
	}
	opts = append([]ChatOption{
		WithClock(func() time.Time { return testNow }),
		WithPublisher(f.pub),
	}, opts...)
	f.svc = NewChatService(
		registry,
		hub.NewBroadcaster(registry, nil),
		repo,
		sanitize.New([]string{"badword"}),
		f.uploader,
		nil,
		12*time.Hour,
		opts...,
	)
	return f
}

func (f *chatFixture) open(t *testing.T, id, ip string) (*hub.Client, *recordingConn) {
	t.Helper()
	c, conn := startClient(t, id, ip)
	if err := f.svc.Open(context.Background(), c); err != nil {
		t.Fatalf("open %s: %v", id, err)
	}
	return c, conn
}

func onlineCount(t *testing.T, raw string) int {
	t.Helper()
	fr := parseFrame(t, raw)
	if fr.Type != domain.ChatOnlineCount {
		t.Fatalf("expected ONLINE_COUNT, got %s", fr.Type)
	}
	var n int
	if err := json.Unmarshal(fr.Data, &n); err != nil {
		t.Fatalf("count payload: %v", err)
	}
	return n
}

func TestOpenBroadcastsCountAndReplaysRecentHistory(t *testing.T) {
	repo := newMemChatRepo(
		domain.ChatRecord{ID: "old", Content: "stale", Type: domain.ChatSendMessage, CreatedAt: testNow.Add(-13 * time.Hour)},
		domain.ChatRecord{ID: "recent", Content: "hello", Type: domain.ChatSendMessage, CreatedAt: testNow.Add(-time.Hour)},
	)
	f := newChatFixture(t, repo)

	_, connA := f.open(t, "a", "10.0.0.1")
	frames := waitFrames(t, connA, 2)
	if n := onlineCount(t, frames[0]); n != 1 {
		t.Fatalf("first count = %d, want 1", n)
	}

	hist := parseFrame(t, frames[1])
	if hist.Type != domain.ChatHistoryRecord {
		t.Fatalf("second frame = %s, want HISTORY_RECORD", hist.Type)
	}
	var h domain.HistoryRecord
	if err := json.Unmarshal(hist.Data, &h); err != nil {
		t.Fatalf("history payload: %v", err)
	}
	if len(h.ChatRecords) != 1 || h.ChatRecords[0].ID != "recent" {
		t.Fatalf("history = %+v, want only the recent record", h.ChatRecords)
	}
	if h.IPAddress != "10.0.0.1" {
		t.Fatalf("history ip = %q", h.IPAddress)
	}

	_, connB := f.open(t, "b", "10.0.0.2")
	framesA := waitFrames(t, connA, 3)
	if n := onlineCount(t, framesA[2]); n != 2 {
		t.Fatalf("existing client saw count %d, want 2", n)
	}
	framesB := waitFrames(t, connB, 2)
	if n := onlineCount(t, framesB[0]); n != 2 {
		t.Fatalf("new client saw count %d, want 2", n)
	}
	if parseFrame(t, framesB[1]).Type != domain.ChatHistoryRecord {
		t.Fatal("history must only go to the new client")
	}
	for _, raw := range framesA[2:] {
		if parseFrame(t, raw).Type == domain.ChatHistoryRecord {
			t.Fatal("existing client received another client's history")
		}
	}
}

func TestOpenSkipsRecordsWithUnknownType(t *testing.T) {
	repo := newMemChatRepo(
		domain.ChatRecord{ID: "good", Content: "hello", Type: domain.ChatSendMessage, CreatedAt: testNow.Add(-time.Minute)},
		domain.ChatRecord{ID: "zero", Content: "legacy", CreatedAt: testNow.Add(-time.Minute)},
		domain.ChatRecord{ID: "big", Content: "future", Type: domain.ChatType(99), CreatedAt: testNow.Add(-time.Minute)},
	)
	f := newChatFixture(t, repo)

	c, conn := f.open(t, "a", "10.0.0.1")
	frames := waitFrames(t, conn, 2)

	var h domain.HistoryRecord
	if err := json.Unmarshal(parseFrame(t, frames[1]).Data, &h); err != nil {
		t.Fatalf("history payload: %v", err)
	}
	if len(h.ChatRecords) != 1 || h.ChatRecords[0].ID != "good" {
		t.Fatalf("history = %+v, want only the valid record", h.ChatRecords)
	}
	if c.State() != hub.StateActive {
		t.Fatalf("state = %s, want ACTIVE", c.State())
	}
}

func TestOpenSendsEmptyHistoryWhenLoadFails(t *testing.T) {
	repo := newMemChatRepo()
	repo.listErr = fmt.Errorf("%w: db down", domain.ErrStorage)
	f := newChatFixture(t, repo)

	c, conn := f.open(t, "a", "10.0.0.1")
	frames := waitFrames(t, conn, 2)

	var h domain.HistoryRecord
	if err := json.Unmarshal(parseFrame(t, frames[1]).Data, &h); err != nil {
		t.Fatalf("history payload: %v", err)
	}
	if h.ChatRecords == nil || len(h.ChatRecords) != 0 {
		t.Fatalf("expected empty history, got %+v", h.ChatRecords)
	}
	if c.State() != hub.StateActive {
		t.Fatalf("connection state = %s, want ACTIVE", c.State())
	}
}

func TestOpenRejectsClosedClient(t *testing.T) {
	f := newChatFixture(t, nil)
	c, _ := startClient(t, "a", "10.0.0.1")
	c.Close()

	if err := f.svc.Open(context.Background(), c); !errors.Is(err, hub.ErrClientClosed) {
		t.Fatalf("Open(closed) = %v, want ErrClientClosed", err)
	}
	if f.svc.OnlineCount() != 0 {
		t.Fatal("closed client must not be registered")
	}
}

func TestSendMessageSanitizesPersistsAndBroadcasts(t *testing.T) {
	f := newChatFixture(t, nil)
	a, connA := f.open(t, "a", "10.0.0.1")
	_, connB := f.open(t, "b", "10.0.0.2")
	waitFrames(t, connA, 3)
	waitFrames(t, connB, 2)

	msg := `{"type":"SEND_MESSAGE","data":{"user_id":"u1","nickname":"feng","content":"<script>x()</script>hi badword"}}`
	if err := f.svc.HandleMessage(context.Background(), a, []byte(msg)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if f.repo.len() != 1 {
		t.Fatalf("stored %d records, want 1", f.repo.len())
	}

	for conn, n := range map[*recordingConn]int{connA: 4, connB: 3} {
		frames := waitFrames(t, conn, n)
		fr := parseFrame(t, frames[n-1])
		if fr.Type != domain.ChatSendMessage {
			t.Fatalf("last frame = %s, want SEND_MESSAGE", fr.Type)
		}
		var rec domain.ChatRecord
		if err := json.Unmarshal(fr.Data, &rec); err != nil {
			t.Fatalf("record payload: %v", err)
		}
		if rec.Content != "hi *******" {
			t.Fatalf("content = %q", rec.Content)
		}
		if rec.IPAddress != "10.0.0.1" || rec.ID == "" || !rec.CreatedAt.Equal(testNow) {
			t.Fatalf("record not enriched: %+v", rec)
		}
	}

	if events := f.pub.on(pubsub.ChannelChatEvents); len(events) != 1 || events[0].Type != pubsub.EventChatSent {
		t.Fatalf("published events = %v", events)
	}
}

func TestSendMessageBroadcastsEvenWhenPersistFails(t *testing.T) {
	repo := newMemChatRepo()
	repo.insertErr = fmt.Errorf("%w: disk full", domain.ErrStorage)
	f := newChatFixture(t, repo)
	a, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	msg := `{"type":3,"data":{"nickname":"feng","content":"hello"}}`
	err := f.svc.HandleMessage(context.Background(), a, []byte(msg))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("HandleMessage = %v, want ErrStorage", err)
	}

	frames := waitFrames(t, conn, 3)
	if parseFrame(t, frames[2]).Type != domain.ChatSendMessage {
		t.Fatalf("expected broadcast despite persist failure, got %s", frames[2])
	}
	if len(f.pub.on(pubsub.ChannelChatEvents)) != 0 {
		t.Fatal("unsaved record must not be published")
	}
}

func TestRecallDeletesAndRebroadcastsVerbatim(t *testing.T) {
	repo := newMemChatRepo(domain.ChatRecord{ID: "r1", Content: "oops", Type: domain.ChatSendMessage, CreatedAt: testNow})
	f := newChatFixture(t, repo)
	a, connA := f.open(t, "a", "10.0.0.1")
	_, connB := f.open(t, "b", "10.0.0.2")
	waitFrames(t, connA, 3)
	waitFrames(t, connB, 2)

	msg := `{"type":"RECALL_MESSAGE","data":{"id":"r1","is_voice":false}}`
	if err := f.svc.HandleMessage(context.Background(), a, []byte(msg)); err != nil {
		t.Fatalf("recall: %v", err)
	}
	if f.repo.len() != 0 {
		t.Fatal("record was not deleted")
	}

	framesB := waitFrames(t, connB, 3)
	if framesB[2] != msg {
		t.Fatalf("recall frame = %s, want the original envelope", framesB[2])
	}
	framesA := waitFrames(t, connA, 4)
	if framesA[3] != msg {
		t.Fatalf("sender recall frame = %s", framesA[3])
	}
}

func TestRecallOfMissingRecordStillBroadcasts(t *testing.T) {
	f := newChatFixture(t, nil)
	a, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	msg := `{"type":"RECALL_MESSAGE","data":{"id":"gone"}}`
	if err := f.svc.HandleMessage(context.Background(), a, []byte(msg)); err != nil {
		t.Fatalf("recall of missing record: %v", err)
	}
	waitFrames(t, conn, 3)
}

func TestRecallRejectedByAuthorizer(t *testing.T) {
	repo := newMemChatRepo(domain.ChatRecord{ID: "r1", Type: domain.ChatSendMessage, CreatedAt: testNow})
	denied := errors.New("not your message")
	f := newChatFixture(t, repo, WithRecallAuthorizer(func(context.Context, *hub.Client, *domain.RecallPayload) error {
		return denied
	}))
	a, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	err := f.svc.HandleMessage(context.Background(), a, []byte(`{"type":"RECALL_MESSAGE","data":{"id":"r1"}}`))
	if !errors.Is(err, denied) {
		t.Fatalf("recall = %v, want authorizer error", err)
	}
	if f.repo.len() != 1 {
		t.Fatal("rejected recall must not delete")
	}
}

func TestRecallNotBroadcastWhenDeleteFails(t *testing.T) {
	repo := newMemChatRepo()
	repo.deleteErr = fmt.Errorf("%w: locked", domain.ErrStorage)
	f := newChatFixture(t, repo)
	a, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	err := f.svc.HandleMessage(context.Background(), a, []byte(`{"type":"RECALL_MESSAGE","data":{"id":"r1"}}`))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("recall = %v, want ErrStorage", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(conn.frames()); n != 2 {
		t.Fatalf("got %d frames, want no recall broadcast", n)
	}
}

func TestHeartBeatRepliesToSenderOnly(t *testing.T) {
	f := newChatFixture(t, nil)
	a, connA := f.open(t, "a", "10.0.0.1")
	_, connB := f.open(t, "b", "10.0.0.2")
	waitFrames(t, connA, 3)
	waitFrames(t, connB, 2)

	if err := f.svc.HandleMessage(context.Background(), a, []byte(`{"type":"HEART_BEAT","data":"ping"}`)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	frames := waitFrames(t, connA, 4)
	if frames[3] != `{"type":"HEART_BEAT","data":"pong"}` {
		t.Fatalf("heartbeat reply = %s", frames[3])
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(connB.frames()); n != 2 {
		t.Fatalf("other client got %d frames, want 2", n)
	}
}

func TestHandleMessageRejectsInvalidFrames(t *testing.T) {
	f := newChatFixture(t, nil)
	a, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	cases := map[string]string{
		"malformed":    `{"type":`,
		"unknown type": `{"type":"SHOUT","data":{}}`,
		"server only":  `{"type":"ONLINE_COUNT","data":5}`,
		"no data":      `{"type":"SEND_MESSAGE"}`,
		"recall no id": `{"type":"RECALL_MESSAGE","data":{}}`,
	}
	for name, raw := range cases {
		if err := f.svc.HandleMessage(context.Background(), a, []byte(raw)); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: err = %v, want ErrValidation", name, err)
		}
	}
	if a.State() != hub.StateActive {
		t.Fatal("invalid frames must not close the connection")
	}
}

func TestCloseIsIdempotentAndAnnouncesCountOnce(t *testing.T) {
	f := newChatFixture(t, nil)
	a, connA := f.open(t, "a", "10.0.0.1")
	b, connB := f.open(t, "b", "10.0.0.2")
	waitFrames(t, connA, 3)
	waitFrames(t, connB, 2)

	f.svc.Close(context.Background(), b)
	f.svc.Close(context.Background(), b)

	if f.svc.OnlineCount() != 1 {
		t.Fatalf("online count = %d, want 1", f.svc.OnlineCount())
	}
	if b.State() != hub.StateClosed {
		t.Fatal("closed client not in CLOSED state")
	}

	frames := waitFrames(t, connA, 4)
	if n := onlineCount(t, frames[3]); n != 1 {
		t.Fatalf("count after close = %d, want 1", n)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(connA.frames()); n != 4 {
		t.Fatalf("count was announced %d times", n-3)
	}

	// Broadcasts after close never reach the closed client.
	before := len(connB.frames())
	if err := f.svc.HandleMessage(context.Background(), a, []byte(`{"type":"SEND_MESSAGE","data":{"content":"x"}}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(connB.frames()) != before {
		t.Fatal("closed client received a broadcast")
	}
}

func TestSendVoiceUploadsPersistsAndBroadcasts(t *testing.T) {
	f := newChatFixture(t, nil)
	_, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	rec, err := f.svc.SendVoice(context.Background(), &domain.VoiceUpload{
		UserID:    "u1",
		Nickname:  "feng",
		IPAddress: "10.0.0.9",
		FileName:  "clip.webm",
		Content:   []byte("voice-bytes"),
	})
	if err != nil {
		t.Fatalf("SendVoice: %v", err)
	}
	if rec.VoiceURL != "/static/voice/clip.webm" || rec.Type != domain.ChatVoiceMessage {
		t.Fatalf("record = %+v", rec)
	}
	if f.repo.len() != 1 {
		t.Fatal("voice record not stored")
	}

	frames := waitFrames(t, conn, 3)
	if parseFrame(t, frames[2]).Type != domain.ChatVoiceMessage {
		t.Fatalf("broadcast = %s, want VOICE_MESSAGE", frames[2])
	}
	events := f.pub.on(pubsub.ChannelChatEvents)
	if len(events) != 1 || events[0].Type != pubsub.EventChatVoice {
		t.Fatalf("events = %v", events)
	}
}

func TestSendVoiceUploadFailureLeavesStateUntouched(t *testing.T) {
	f := newChatFixture(t, nil)
	f.uploader.err = fmt.Errorf("%w: bucket missing", domain.ErrStorage)
	_, conn := f.open(t, "a", "10.0.0.1")
	waitFrames(t, conn, 2)

	_, err := f.svc.SendVoice(context.Background(), &domain.VoiceUpload{FileName: "clip.webm", Content: []byte("x")})
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("SendVoice = %v, want ErrStorage", err)
	}
	if f.repo.len() != 0 || f.svc.OnlineCount() != 1 {
		t.Fatal("failed upload changed state")
	}
	time.Sleep(20 * time.Millisecond)
	if len(conn.frames()) != 2 {
		t.Fatal("failed upload was broadcast")
	}
}

func TestSendVoiceRejectsEmptyClip(t *testing.T) {
	f := newChatFixture(t, nil)
	_, err := f.svc.SendVoice(context.Background(), &domain.VoiceUpload{FileName: "clip.webm"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SendVoice(empty) = %v, want ErrValidation", err)
	}
	if f.uploader.calls != 0 {
		t.Fatal("empty clip must not be uploaded")
	}
}
