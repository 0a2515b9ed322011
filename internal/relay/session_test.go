package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// trackedConn counts Close calls on a dialed server connection.
type trackedConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *trackedConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// dialRecorder wraps every remote dial and notes whether an older server
// connection was still open when a new one was dialed.
type dialRecorder struct {
	mu      sync.Mutex
	conns   []*trackedConn
	overlap bool
}

func (d *dialRecorder) dial(ctx context.Context, network, address string) (net.Conn, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: c}
	d.mu.Lock()
	for _, old := range d.conns {
		if old.closes.Load() == 0 {
			d.overlap = true
		}
	}
	d.conns = append(d.conns, tc)
	d.mu.Unlock()
	return tc, nil
}

func (d *dialRecorder) conn(i int) *trackedConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	waitFor(t, "session established", s.Connected)
}

func TestEchoRoundTrip(t *testing.T) {
	remote := startRemote(t, false)
	s := startSession(t, remote.port(), testOptions())
	c := dialSession(t, s)
	waitConnected(t, s)

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	rc := remote.conn(t, 0)
	readExactly(t, rc, []byte("hello"))
	if _, err := rc.Write([]byte("hello")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	readExactly(t, c, []byte("hello"))

	if s.State() != StateEstablished {
		t.Errorf("state = %v, want established", s.State())
	}
}

func TestReversingHook(t *testing.T) {
	remote := startRemote(t, false)
	opts := testOptions()
	opts.Hook = HookFunc(func(data []byte, h Handle, origin Role) error {
		if origin == RoleClient {
			out := make([]byte, len(data))
			for i, b := range data {
				out[len(data)-1-i] = b
			}
			data = out
		}
		h.SendData(origin.Opposite(), data)
		return nil
	})
	s := startSession(t, remote.port(), opts)
	c := dialSession(t, s)
	waitConnected(t, s)

	if _, err := c.Write([]byte("ABCD")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	readExactly(t, remote.conn(t, 0), []byte("DCBA"))
}

func TestSendOrderIsPreserved(t *testing.T) {
	remote := startRemote(t, false)
	s := startSession(t, remote.port(), testOptions())
	c := dialSession(t, s)
	waitConnected(t, s)

	var want bytes.Buffer
	for i := 0; i < 200; i++ {
		msg := []byte(fmt.Sprintf("%04d", i))
		want.Write(msg)
		s.SendToServer(msg)
	}
	readExactly(t, remote.conn(t, 0), want.Bytes())

	s.SendToClient([]byte("to client"))
	readExactly(t, c, []byte("to client"))
}

func TestNewClientPreemptsOld(t *testing.T) {
	remote := startRemote(t, false)
	rec := &dialRecorder{}
	opts := testOptions()
	opts.Dial = rec.dial
	s := startSession(t, remote.port(), opts)

	first := dialSession(t, s)
	waitConnected(t, s)
	firstRemote := remote.conn(t, 0)

	second := dialSession(t, s)
	expectClosed(t, first)
	expectClosed(t, firstRemote)
	secondRemote := remote.conn(t, 1)
	waitConnected(t, s)

	rec.mu.Lock()
	overlap := rec.overlap
	rec.mu.Unlock()
	if overlap {
		t.Error("new remote connection dialed while the old one was open")
	}
	if n := rec.conn(0).closes.Load(); n != 1 {
		t.Errorf("old server conn closed %d times, want 1", n)
	}

	if _, err := second.Write([]byte("second")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, secondRemote, []byte("second"))
}

func TestDisconnectTwice(t *testing.T) {
	remote := startRemote(t, false)
	rec := &dialRecorder{}
	opts := testOptions()
	opts.Dial = rec.dial
	s := startSession(t, remote.port(), opts)
	c := dialSession(t, s)
	waitConnected(t, s)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := s.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("second Disconnect = %v, want ErrNotConnected", err)
	}
	if s.Connected() {
		t.Error("still connected")
	}
	if s.State() != StateListening {
		t.Errorf("state = %v, want listening", s.State())
	}
	if n := rec.conn(0).closes.Load(); n != 1 {
		t.Errorf("server conn closed %d times, want 1", n)
	}
	expectClosed(t, c)
}

func TestConcurrentDisconnect(t *testing.T) {
	remote := startRemote(t, false)
	rec := &dialRecorder{}
	opts := testOptions()
	opts.Dial = rec.dial
	s := startSession(t, remote.port(), opts)
	dialSession(t, s)
	waitConnected(t, s)

	const callers = 8
	var wg sync.WaitGroup
	var torn atomic.Int32
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.Disconnect() == nil {
				torn.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if n := torn.Load(); n != 1 {
		t.Errorf("%d callers tore the connection down, want 1", n)
	}
	if n := rec.conn(0).closes.Load(); n != 1 {
		t.Errorf("server conn closed %d times, want 1", n)
	}
	if s.Connected() {
		t.Error("still connected")
	}
}

func TestFailedConnectReturnsToListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadPort := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	s := startSession(t, deadPort, testOptions())
	c := dialSession(t, s)
	expectClosed(t, c)

	if s.Connected() {
		t.Error("connected to a dead remote")
	}
	if s.State() != StateListening {
		t.Errorf("state = %v, want listening", s.State())
	}
	if st := s.Status(); st.Client != "" || st.Server != "" {
		t.Errorf("status still holds peers: %+v", st)
	}
}

func TestRemoteDeathThenNewClient(t *testing.T) {
	remote := startRemote(t, false)
	s := startSession(t, remote.port(), testOptions())
	first := dialSession(t, s)
	waitConnected(t, s)

	_ = remote.conn(t, 0).Close()
	expectClosed(t, first)
	waitFor(t, "teardown", func() bool { return !s.Connected() && s.State() == StateListening })

	second := dialSession(t, s)
	rc := remote.conn(t, 1)
	waitConnected(t, s)
	if _, err := second.Write([]byte("again")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, rc, []byte("again"))
}

func TestHookFailureKeepsPumping(t *testing.T) {
	remote := startRemote(t, false)
	var calls atomic.Int32
	opts := testOptions()
	opts.Hook = HookFunc(func(data []byte, h Handle, origin Role) error {
		switch calls.Add(1) {
		case 1:
			panic("malformed chunk")
		case 2:
			return errors.New("rejected")
		}
		h.SendData(origin.Opposite(), data)
		return nil
	})
	s := startSession(t, remote.port(), opts)
	c := dialSession(t, s)
	waitConnected(t, s)

	for i, msg := range []string{"boom", "nope"} {
		if _, err := c.Write([]byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		want := int32(i + 1)
		waitFor(t, "hook call", func() bool { return calls.Load() == want })
	}
	if _, err := c.Write([]byte("ok")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, remote.conn(t, 0), []byte("ok"))
	if !s.Connected() {
		t.Error("hook failure tore the connection down")
	}
}

func TestHookSwapKeepsConnection(t *testing.T) {
	remote := startRemote(t, false)
	s := startSession(t, remote.port(), testOptions())
	c := dialSession(t, s)
	waitConnected(t, s)
	rc := remote.conn(t, 0)

	if _, err := c.Write([]byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, rc, []byte("a"))

	s.SetHook(HookFunc(func(data []byte, h Handle, origin Role) error {
		h.SendData(origin.Opposite(), bytes.ToUpper(data))
		return nil
	}))
	if _, err := c.Write([]byte("b")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, rc, []byte("B"))

	s.SetHook(nil)
	if _, err := c.Write([]byte("c")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, rc, []byte("c"))
	if remote.count() != 1 {
		t.Errorf("hook swap caused %d remote connections", remote.count())
	}
}

func TestHookCanDisconnect(t *testing.T) {
	remote := startRemote(t, false)
	opts := testOptions()
	opts.Hook = HookFunc(func(data []byte, h Handle, origin Role) error {
		if string(data) == "bye" {
			h.SendToClient([]byte("closing"))
			h.Disconnect()
			return nil
		}
		h.SendData(origin.Opposite(), data)
		return nil
	})
	s := startSession(t, remote.port(), opts)
	c := dialSession(t, s)
	waitConnected(t, s)

	if _, err := c.Write([]byte("bye")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, c, []byte("closing"))
	expectClosed(t, c)
	waitFor(t, "listening", func() bool { return s.State() == StateListening })
}

func TestSessionDisconnectFromHook(t *testing.T) {
	remote := startRemote(t, false)
	var session atomic.Pointer[Session]
	disconnected := make(chan error, 1)
	opts := testOptions()
	opts.Hook = HookFunc(func(data []byte, h Handle, origin Role) error {
		if string(data) == "bye" {
			h.SendToClient([]byte("closing"))
			disconnected <- session.Load().Disconnect()
			return nil
		}
		h.SendData(origin.Opposite(), data)
		return nil
	})
	s := startSession(t, remote.port(), opts)
	session.Store(s)
	c := dialSession(t, s)
	waitConnected(t, s)

	if _, err := c.Write([]byte("bye")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-disconnected:
		if err != nil {
			t.Fatalf("Disconnect from hook: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Disconnect called from a hook never returned")
	}
	readExactly(t, c, []byte("closing"))
	expectClosed(t, c)
	expectClosed(t, remote.conn(t, 0))

	// The session keeps serving afterwards.
	c2 := dialSession(t, s)
	waitConnected(t, s)
	if _, err := c2.Write([]byte("again")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, remote.conn(t, 1), []byte("again"))
}

func TestSendWithoutConnectionIsDropped(t *testing.T) {
	remote := startRemote(t, false)
	s := startSession(t, remote.port(), testOptions())
	s.SendToServer([]byte("nobody"))
	s.SendToClient([]byte("nobody"))
	if err := s.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestBindErrors(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	s, err := NewSession(Mapping{Name: "clash", BindAddress: "127.0.0.1", BindPort: port, RemoteAddress: "127.0.0.1", RemotePort: 1}, testOptions())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Bind(); err == nil {
		t.Fatal("Bind on a taken port succeeded")
	}
	if err := s.Serve(context.Background()); !errors.Is(err, ErrNotBound) {
		t.Errorf("Serve before Bind = %v, want ErrNotBound", err)
	}

	ok, err := NewSession(Mapping{Name: "ok", BindAddress: "127.0.0.1", RemoteAddress: "127.0.0.1", RemotePort: 1}, testOptions())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer ok.Close()
	if err := ok.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := ok.Bind(); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Bind = %v, want ErrAlreadyBound", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s, err := NewSession(Mapping{Name: "cancel", BindAddress: "127.0.0.1", RemoteAddress: "127.0.0.1", RemotePort: 1}, testOptions())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()
	if err := s.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Serve ignored cancellation")
	}
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]Settings
}

func (m *memStore) Load(name string) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.saved[name]
	return s, ok, nil
}

func (m *memStore) Save(name string, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[name] = s
	return nil
}

func TestSessionSettings(t *testing.T) {
	stored := DefaultSettings()
	stored.Hook.BytesPerLine = 8
	store := &memStore{saved: map[string]Settings{"test": stored}}
	opts := testOptions()
	opts.Store = store

	s, err := NewSession(Mapping{Name: "test", BindAddress: "127.0.0.1", RemoteAddress: "127.0.0.1", RemotePort: 1}, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if v, err := s.Setting(KeyBytesPerLine); err != nil || v != 8 {
		t.Fatalf("Setting(bytes per line) = %v, %v; want 8", v, err)
	}

	if _, err := s.Setting("nope"); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("unknown key: %v", err)
	}
	if err := s.SetSetting(KeyChunkSize, "big"); !errors.Is(err, ErrSettingType) {
		t.Errorf("wrong type: %v", err)
	}
	if err := s.SetSetting(KeyChunkSize, 0); !errors.Is(err, ErrSettingValue) {
		t.Errorf("out of range: %v", err)
	}
	if got := s.Settings().Session.ChunkSize; got != 4096 {
		t.Errorf("rejected update leaked: chunk size %d", got)
	}

	if err := s.SetSetting(KeyHexdump, false); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	saved, _, _ := store.Load("test")
	if saved.Hook.Hexdump {
		t.Error("setting change not saved")
	}
}

func TestStatusWhileConnected(t *testing.T) {
	remote := startRemote(t, false)
	s := startSession(t, remote.port(), testOptions())
	c := dialSession(t, s)
	waitConnected(t, s)

	st := s.Status()
	if !st.Connected || st.State != "established" {
		t.Errorf("status = %+v", st)
	}
	if st.Client != c.LocalAddr().String() {
		t.Errorf("client = %q, want %q", st.Client, c.LocalAddr().String())
	}
	if st.Server != remote.ln.Addr().String() || s.Server() != st.Server {
		t.Errorf("server = %q, want %q", st.Server, remote.ln.Addr().String())
	}
	if st.ID == "" {
		t.Error("missing connection id")
	}
}

type denyAfter struct {
	mu      sync.Mutex
	allowed int
}

func (d *denyAfter) AllowConnection(string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allowed == 0 {
		return false
	}
	d.allowed--
	return true
}

func TestLimiterRejectsWithoutPreempting(t *testing.T) {
	remote := startRemote(t, true)
	opts := testOptions()
	opts.Limiter = &denyAfter{allowed: 1}
	s := startSession(t, remote.port(), opts)

	first := dialSession(t, s)
	waitConnected(t, s)

	second := dialSession(t, s)
	expectClosed(t, second)

	if !s.Connected() {
		t.Fatal("rejected client tore down the established pair")
	}
	if _, err := first.Write([]byte("still here")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, first, []byte("still here"))
	if n := remote.count(); n != 1 {
		t.Errorf("remote saw %d connections, want 1", n)
	}
}
