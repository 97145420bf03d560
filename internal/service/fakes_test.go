package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graham924/blog-feng-yu/internal/config"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/hub"
	"github.com/graham924/blog-feng-yu/internal/repository"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
)

// recordingConn is a hub.Conn that keeps every text frame written to it.
type recordingConn struct {
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []string
}

func newRecordingConn() *recordingConn {
	return &recordingConn{closed: make(chan struct{})}
}

func (f *recordingConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("use of closed connection")
}

func (f *recordingConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	if mt == websocket.TextMessage {
		f.mu.Lock()
		f.written = append(f.written, string(data))
		f.mu.Unlock()
	}
	return nil
}

func (f *recordingConn) SetReadLimit(int64)                {}
func (f *recordingConn) SetReadDeadline(time.Time) error   { return nil }
func (f *recordingConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *recordingConn) SetPongHandler(func(string) error) {}

func (f *recordingConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *recordingConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// waitFrames waits until conn has received at least n frames.
func waitFrames(t *testing.T, conn *recordingConn, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := conn.frames()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames, got %d: %v", n, len(got), got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startClient returns a client whose writer runs until the test ends.
func startClient(t *testing.T, id, ip string) (*hub.Client, *recordingConn) {
	t.Helper()
	conn := newRecordingConn()
	c := hub.NewClient(id, ip, conn, config.WebSocketConfig{SendBuffer: 64, PingInterval: time.Hour})
	go c.WritePump()
	t.Cleanup(c.Close)
	return c, conn
}

type frame struct {
	Type domain.ChatType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func parseFrame(t *testing.T, raw string) frame {
	t.Helper()
	var f frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("bad frame %q: %v", raw, err)
	}
	return f
}

type memChatRepo struct {
	mu        sync.Mutex
	records   map[string]domain.ChatRecord
	seq       int
	insertErr error
	listErr   error
	deleteErr error
	deleted   []string
}

func newMemChatRepo(records ...domain.ChatRecord) *memChatRepo {
	r := &memChatRepo{records: make(map[string]domain.ChatRecord)}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *memChatRepo) Insert(_ context.Context, rec *domain.ChatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.seq++
	if rec.ID == "" {
		rec.ID = "rec-" + string(rune('0'+r.seq))
	}
	r.records[rec.ID] = *rec
	return nil
}

func (r *memChatRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.records, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *memChatRepo) ListSince(_ context.Context, since time.Time) ([]domain.ChatRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.ChatRecord
	for _, rec := range r.records {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memChatRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type stubUploader struct {
	url   string
	err   error
	calls int
}

func (u *stubUploader) Upload(_ context.Context, fileName string, _ []byte) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	return u.url + "/" + fileName, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]*pubsub.Event
	err    error
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{events: make(map[string][]*pubsub.Event)}
}

func (p *capturePublisher) Publish(_ context.Context, channel string, event *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[channel] = append(p.events[channel], event)
	return p.err
}

func (p *capturePublisher) on(channel string) []*pubsub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*pubsub.Event(nil), p.events[channel]...)
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) RolesOf(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		return u.Roles, nil
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return repository.ErrUsernameExists
		}
	}
	if user.ID == "" {
		user.ID = "user-" + strings.ToLower(user.Username)
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

type memResourceRepo struct {
	mu      sync.Mutex
	rules   []domain.AccessRule
	nextID  int
	listErr error
}

func (r *memResourceRepo) ListRules(context.Context) ([]domain.AccessRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]domain.AccessRule(nil), r.rules...), nil
}

func (r *memResourceRepo) CreateResource(_ context.Context, rule *domain.AccessRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule.Method = domain.NormalizeMethod(rule.Method)
	for _, existing := range r.rules {
		if existing.PathPattern == rule.PathPattern && existing.Method == rule.Method {
			return repository.ErrResourceExists
		}
	}
	r.nextID++
	rule.ID = "res-" + string(rune('0'+r.nextID))
	r.rules = append(r.rules, *rule)
	return nil
}

func (r *memResourceRepo) DeleteResource(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return repository.ErrResourceNotFound
}

func (r *memResourceRepo) CountResources(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rules)), nil
}
