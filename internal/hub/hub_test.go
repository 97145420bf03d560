package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graham924/blog-feng-yu/internal/config"
	"github.com/graham924/blog-feng-yu/internal/domain"
)

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-f.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, m, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	if mt == websocket.TextMessage {
		f.mu.Lock()
		f.written = append(f.written, append([]byte(nil), data...))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func testClient(id string, buf int) *Client {
	return NewClient(id, "10.0.0.1", newFakeConn(), config.WebSocketConfig{SendBuffer: buf})
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case m := <-c.send:
			out = append(out, string(m))
		default:
			return out
		}
	}
}

func TestRegistryUnregisterOnlyOnce(t *testing.T) {
	r := NewRegistry()
	c := testClient("a", 4)

	if !r.Register(c) {
		t.Fatal("first register should succeed")
	}
	if r.Register(c) {
		t.Fatal("duplicate register should fail")
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
	if !r.Unregister(c) {
		t.Fatal("first unregister should report removal")
	}
	if r.Unregister(c) {
		t.Fatal("second unregister must not report removal")
	}
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
}

func TestRegistryRejectsClosedClient(t *testing.T) {
	r := NewRegistry()
	c := testClient("a", 4)
	c.Close()
	if r.Register(c) {
		t.Fatal("closed client must not be registered")
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	a, b := testClient("a", 4), testClient("b", 4)
	r.Register(a)
	snap := r.Snapshot()
	r.Register(b)
	if len(snap) != 1 {
		t.Fatalf("snapshot changed after register: %d entries", len(snap))
	}
}

func TestRegistryConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	const workers, perWorker = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c := testClient(fmt.Sprintf("w%d-%d", w, i), 1)
				if !r.Register(c) {
					t.Errorf("register %s failed", c.ID)
					return
				}
				_ = r.Snapshot()
				// Keep every other client, remove the rest twice.
				if i%2 == 1 {
					if !r.Unregister(c) {
						t.Errorf("unregister %s reported no removal", c.ID)
					}
					if r.Unregister(c) {
						t.Errorf("second unregister %s reported removal", c.ID)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	want := workers * perWorker / 2
	if n := r.Count(); n != want {
		t.Fatalf("count = %d, want %d", n, want)
	}
	snap := r.Snapshot()
	if len(snap) != want {
		t.Fatalf("snapshot has %d clients, want %d", len(snap), want)
	}
	seen := make(map[string]bool, len(snap))
	for _, c := range snap {
		if seen[c.ID] {
			t.Fatalf("client %s appears twice in snapshot", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestBroadcastSameOrderForAllClients(t *testing.T) {
	r := NewRegistry()
	clients := []*Client{testClient("a", 128), testClient("b", 128), testClient("c", 128)}
	for _, c := range clients {
		r.Register(c)
	}
	b := NewBroadcaster(r, nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := b.Broadcast(domain.ChatHeartBeat, fmt.Sprintf("%d-%d", w, i)); err != nil {
					t.Errorf("broadcast: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	want := drain(clients[0])
	if len(want) != 80 {
		t.Fatalf("client a got %d frames, want 80", len(want))
	}
	for _, c := range clients[1:] {
		got := drain(c)
		if len(got) != len(want) {
			t.Fatalf("client %s got %d frames, want %d", c.ID, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("client %s frame %d = %s, want %s", c.ID, i, got[i], want[i])
			}
		}
	}
}

func TestBroadcastSkipsClosedClient(t *testing.T) {
	r := NewRegistry()
	a, b := testClient("a", 4), testClient("b", 4)
	r.Register(a)
	r.Register(b)
	b.Close()

	n, err := NewBroadcaster(r, nil).Broadcast(domain.ChatOnlineCount, 2)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(drain(b)) != 0 {
		t.Fatal("closed client received a frame")
	}
	if got := drain(a); len(got) != 1 || got[0] != `{"type":"ONLINE_COUNT","data":2}` {
		t.Fatalf("client a frames = %v", got)
	}
}

func TestBroadcastFullQueueClosesClient(t *testing.T) {
	r := NewRegistry()
	slow, fast := testClient("slow", 1), testClient("fast", 8)
	r.Register(slow)
	r.Register(fast)
	b := NewBroadcaster(r, nil)

	b.BroadcastRaw([]byte(`{"type":"HEART_BEAT"}`))
	n := b.BroadcastRaw([]byte(`{"type":"HEART_BEAT"}`))

	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if slow.State() != StateClosed {
		t.Fatalf("slow client state = %v, want CLOSED", slow.State())
	}
	if err := slow.Enqueue([]byte("x")); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("enqueue after close err = %v", err)
	}
	if len(drain(fast)) != 2 {
		t.Fatal("fast client should receive both frames")
	}
}

func TestSendToTargetsOneClient(t *testing.T) {
	r := NewRegistry()
	a, b := testClient("a", 4), testClient("b", 4)
	r.Register(a)
	r.Register(b)

	if err := NewBroadcaster(r, nil).SendTo(a, domain.ChatHeartBeat, domain.HeartBeatAck); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got := drain(a); len(got) != 1 || got[0] != `{"type":"HEART_BEAT","data":"pong"}` {
		t.Fatalf("client a frames = %v", got)
	}
	if len(drain(b)) != 0 {
		t.Fatal("client b should receive nothing")
	}
}

func TestWritePumpWritesInOrder(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("a", "", conn, config.WebSocketConfig{SendBuffer: 8, PingInterval: time.Hour})
	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	for i := 0; i < 3; i++ {
		if err := c.Enqueue([]byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(conn.frames()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("frames written = %v", conn.frames())
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := conn.frames()
	if got[0] != "0" || got[1] != "1" || got[2] != "2" {
		t.Fatalf("frames out of order: %v", got)
	}

	c.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WritePump did not exit after Close")
	}
}

func TestReadPumpClosesClientOnDisconnect(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("a", "", conn, config.WebSocketConfig{})
	if c.RemoteIP != domain.UnknownIP {
		t.Fatalf("remote ip = %q, want %q", c.RemoteIP, domain.UnknownIP)
	}
	c.Activate()

	conn.in <- []byte("one")
	conn.in <- []byte("two")
	close(conn.in)

	var got []string
	c.ReadPump(func(_ *Client, m []byte) { got = append(got, string(m)) })

	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("handled = %v", got)
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", c.State())
	}
	if c.Activate() {
		t.Fatal("closed client must not become active")
	}
}
