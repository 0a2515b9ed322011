package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FalcoGer/pmp/internal/netutil"
	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/jpillora/backoff"
)

var (
	ErrAlreadyBound = errors.New("session already bound")
	ErrNotBound     = errors.New("session not bound")
	ErrClosed       = errors.New("session closed")
	ErrNotConnected = errors.New("not connected")
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateListening State = iota
	StateClientPending
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateClientPending:
		return "client-pending"
	case StateEstablished:
		return "established"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Limiter decides whether a freshly accepted client may proceed.
type Limiter interface {
	AllowConnection(name string) bool
}

// Options tune a Session. Zero fields take the defaults below.
type Options struct {
	// AcceptTimeout bounds each wait in Accept so cancellation is noticed.
	AcceptTimeout time.Duration
	// PollInterval bounds each read and write wait inside a pump.
	PollInterval time.Duration
	// ConnectTimeout bounds the dial to the remote target.
	ConnectTimeout time.Duration
	// FlushGrace is how long a stopping pump may spend writing what is
	// still queued.
	FlushGrace time.Duration

	Store   SettingsStore
	Limiter Limiter
	Hook    Hook

	Listen func(ctx context.Context, network, address string) (net.Listener, error)
	Dial   func(ctx context.Context, network, address string) (net.Conn, error)
}

const (
	DefaultAcceptTimeout  = 3 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultFlushGrace     = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = DefaultAcceptTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.FlushGrace <= 0 {
		o.FlushGrace = DefaultFlushGrace
	}
	if o.Listen == nil {
		o.Listen = netutil.Listen
	}
	if o.Dial == nil {
		d := &net.Dialer{}
		o.Dial = d.DialContext
	}
	return o
}

// Session relays one bind address to one remote target. It holds at most one
// client/server pair at a time; a new client always replaces the old one.
type Session struct {
	mapping Mapping
	opts    Options
	hook    atomic.Pointer[hookBox]

	mu       sync.Mutex
	listener net.Listener
	pair     *pumpPair
	state    State
	retiring map[*pumpPair]struct{}
	settings Settings
	closed   bool
}

// NewSession creates an unbound session. Settings come from opts.Store when
// it has a valid entry for the mapping name, otherwise DefaultSettings.
func NewSession(m Mapping, opts Options) (*Session, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		mapping:  m,
		opts:     opts.withDefaults(),
		retiring: make(map[*pumpPair]struct{}),
		settings: DefaultSettings(),
	}
	s.SetHook(opts.Hook)
	if s.opts.Store != nil {
		stored, ok, err := s.opts.Store.Load(m.Name)
		switch {
		case err != nil:
			obs.Error("session.settings.load", obs.Fields{"session": m.Name, "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("settings_load").Inc()
		case ok:
			if err := stored.Validate(); err != nil {
				obs.Error("session.settings.invalid", obs.Fields{"session": m.Name, "err": err.Error()})
			} else {
				s.settings = stored
			}
		}
	}
	return s, nil
}

func (s *Session) Name() string     { return s.mapping.Name }
func (s *Session) Mapping() Mapping { return s.mapping }

// Bind creates the listening socket. It is called once; failures are
// returned, never retried.
func (s *Session) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.listener != nil {
		return ErrAlreadyBound
	}
	addr := s.mapping.BindAddr()
	ln, err := s.opts.Listen(context.Background(), "tcp", addr)
	if err != nil {
		obs.Error("session.bind", obs.Fields{"session": s.mapping.Name, "addr": addr, "err": err.Error()})
		return fmt.Errorf("session %s: bind %s: %w", s.mapping.Name, addr, err)
	}
	s.listener = ln
	obs.Info("session.bind", obs.Fields{"session": s.mapping.Name, "addr": ln.Addr().String(), "remote": s.mapping.RemoteAddr()})
	return nil
}

// Addr is the bound address, or nil before Bind.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. The current connection is torn down on return.
func (s *Session) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotBound
	}
	defer func() { _ = s.Disconnect() }()

	deadliner, _ := ln.(interface{ SetDeadline(time.Time) error })
	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: 5 * time.Second}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if deadliner != nil {
			_ = deadliner.SetDeadline(time.Now().Add(s.opts.AcceptTimeout))
		}
		c, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			d := b.Duration()
			obs.Error("session.accept", obs.Fields{"session": s.mapping.Name, "err": err.Error(), "retry_in": d.String()})
			obs.ErrorsTotal.WithLabelValues("accept").Inc()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d):
			}
			continue
		}
		b.Reset()
		s.handleClient(ctx, c)
	}
}

func (s *Session) handleClient(ctx context.Context, c net.Conn) {
	name := s.mapping.Name
	if s.opts.Limiter != nil && !s.opts.Limiter.AllowConnection(name) {
		obs.Error("session.accept.rate_limited", obs.Fields{"session": name, "client": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("rate_limited").Inc()
		_ = c.Close()
		return
	}
	obs.ClientsAcceptedTotal.WithLabelValues(name).Inc()

	if s.Disconnect() == nil {
		obs.Info("session.preempted", obs.Fields{"session": name, "client": c.RemoteAddr().String()})
	}

	pair := newPumpPair(s)
	pair.client = newPump(c, RoleClient, pair, s.opts)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pair.client.Stop()
		return
	}
	s.pair = pair
	s.state = StateClientPending
	s.mu.Unlock()
	obs.Info("session.client", obs.Fields{"session": name, "id": pair.id, "client": pair.client.peer, "remote": s.mapping.RemoteAddr()})

	dctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	sc, err := s.opts.Dial(dctx, "tcp", s.mapping.RemoteAddr())
	cancel()
	if err != nil {
		obs.Error("session.connect", obs.Fields{"session": name, "id": pair.id, "remote": s.mapping.RemoteAddr(), "err": err.Error()})
		obs.ConnectFailuresTotal.WithLabelValues(name).Inc()
		s.retire(pair)
		s.waitRetired()
		return
	}

	s.mu.Lock()
	if s.pair != pair {
		s.mu.Unlock()
		_ = sc.Close()
		return
	}
	pair.server = newPump(sc, RoleServer, pair, s.opts)
	pair.established = time.Now()
	s.state = StateEstablished
	obs.SessionsEstablished.WithLabelValues(name).Set(1)
	s.mu.Unlock()

	pair.client.Start()
	pair.server.Start()
	obs.Info("session.established", obs.Fields{"session": name, "id": pair.id, "client": pair.client.peer, "server": pair.server.peer})
}

// retire detaches pair if it is still current and stops its pumps. Joining
// happens on a separate goroutine, so pumps and hooks may call this.
func (s *Session) retire(pair *pumpPair) bool {
	s.mu.Lock()
	if s.pair != pair || pair == nil {
		s.mu.Unlock()
		return false
	}
	s.pair = nil
	s.state = StateListening
	s.retiring[pair] = struct{}{}
	s.mu.Unlock()

	pair.stop()
	go func() {
		pair.wait()
		s.mu.Lock()
		delete(s.retiring, pair)
		s.mu.Unlock()
	}()
	return true
}

// waitRetired blocks until every retired pair has closed its sockets.
func (s *Session) waitRetired() {
	s.mu.Lock()
	pending := make([]*pumpPair, 0, len(s.retiring))
	for p := range s.retiring {
		pending = append(pending, p)
	}
	s.mu.Unlock()
	for _, p := range pending {
		p.join(s.opts.PollInterval)
	}
}

// Disconnect tears down the current connection, waits for both sockets to
// close and returns the session to listening. It returns ErrNotConnected when
// there was nothing to tear down. Safe to call repeatedly and from any
// goroutine, including a hook, though hooks normally use Handle.Disconnect,
// which does not wait.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	pair := s.pair
	s.mu.Unlock()
	detached := s.retire(pair)
	s.waitRetired()
	if !detached {
		return ErrNotConnected
	}
	return nil
}

// Connected reports whether both pumps exist and are running.
func (s *Session) Connected() bool {
	_, client, server := s.pumps()
	if client == nil || server == nil {
		return false
	}
	return client.Running() && server.Running()
}

// pumps reads the current pair and its pumps under the lock.
func (s *Session) pumps() (pair *pumpPair, client, server *pump) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return nil, nil, nil
	}
	return s.pair, s.pair.client, s.pair.server
}

// Client is the peer address of the accepted client, or "" when idle.
func (s *Session) Client() string {
	if _, c, _ := s.pumps(); c != nil {
		return c.peer
	}
	return ""
}

// Server is the peer address of the remote target connection, or "".
func (s *Session) Server() string {
	if _, _, sv := s.pumps(); sv != nil {
		return sv.peer
	}
	return ""
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) current() *pumpPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair
}

// SendData queues data for the side named by to. Without a live pump for
// that side the data is dropped.
func (s *Session) SendData(to Role, data []byte) {
	if pair := s.current(); pair != nil {
		pair.SendData(to, data)
	}
}

func (s *Session) SendToClient(data []byte) { s.SendData(RoleClient, data) }
func (s *Session) SendToServer(data []byte) { s.SendData(RoleServer, data) }

// SetHook installs h for all subsequent chunks. Live pumps keep running.
// A nil hook restores PassThrough.
func (s *Session) SetHook(h Hook) {
	if h == nil {
		h = PassThrough
	}
	s.hook.Store(&hookBox{hook: h})
}

func (s *Session) Hook() Hook {
	if b := s.hook.Load(); b != nil {
		return b.hook
	}
	return PassThrough
}

// Settings returns a copy of the current settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) Setting(key SettingKey) (any, error) {
	return s.Settings().Get(key)
}

func (s *Session) SetSetting(key SettingKey, value any) error {
	return s.UpdateSettings(func(st *Settings) error { return st.Set(key, value) })
}

// UpdateSettings applies fn to a copy of the settings and commits the result
// when fn succeeds and the result validates. Committed settings are saved to
// the store.
func (s *Session) UpdateSettings(fn func(*Settings) error) error {
	s.mu.Lock()
	next := s.settings
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings = next
	s.mu.Unlock()

	if s.opts.Store == nil {
		return nil
	}
	if err := s.opts.Store.Save(s.mapping.Name, next); err != nil {
		obs.Error("session.settings.save", obs.Fields{"session": s.mapping.Name, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("settings_save").Inc()
		return fmt.Errorf("session %s: save settings: %w", s.mapping.Name, err)
	}
	return nil
}

// Status is a point-in-time summary for listings and the state API.
type Status struct {
	Name        string    `json:"name"`
	Mapping     string    `json:"mapping"`
	Listen      string    `json:"listen"`
	State       string    `json:"state"`
	Connected   bool      `json:"connected"`
	ID          string    `json:"id,omitempty"`
	Client      string    `json:"client,omitempty"`
	Server      string    `json:"server,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	ClientBytes int64     `json:"client_bytes"`
	ServerBytes int64     `json:"server_bytes"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{Name: s.mapping.Name, Mapping: s.mapping.String(), State: s.state.String()}
	if s.listener != nil {
		st.Listen = s.listener.Addr().String()
	}
	s.mu.Unlock()
	pair, client, server := s.pumps()
	if pair == nil {
		return st
	}
	st.ID = pair.id
	st.Client = client.peer
	st.ClientBytes = client.Received()
	if server != nil {
		st.Server = server.peer
		st.ServerBytes = server.Received()
		st.Since = pair.established
		st.Connected = client.Running() && server.Running()
	}
	return st
}

func (s *Session) String() string {
	st := s.Status()
	if st.Client != "" && st.Server != "" {
		return fmt.Sprintf("%s: %s -> %s [%s]", st.Name, st.Client, st.Server, st.State)
	}
	return fmt.Sprintf("%s: %s [%s]", st.Name, st.Mapping, st.State)
}

// Close stops accepting, tears down the current connection and waits for all
// sockets to close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	_ = s.Disconnect()
	return err
}
