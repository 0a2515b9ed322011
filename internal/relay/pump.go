package relay

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// pumpOwner is what a pump reports to. In practice the connection pair.
type pumpOwner interface {
	handleChunk(p *pump, data []byte)
	pumpFailed(p *pump, op string, err error)
	chunkSize() int
}

// pump moves bytes for one live socket: reads go to the hook, the outbound
// queue goes to the socket. It runs a read loop and a write loop and closes
// the socket after both have exited.
type pump struct {
	conn  net.Conn
	role  Role
	peer  string
	queue *Queue
	owner pumpOwner

	pollInterval time.Duration
	flushGrace   time.Duration

	mu      sync.Mutex
	running bool
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}

	readDone  chan struct{}
	writeDone chan struct{}
	inHook    atomic.Bool

	closeOnce sync.Once
	received  atomic.Int64
	sent      atomic.Int64
}

func newPump(conn net.Conn, role Role, owner pumpOwner, opts Options) *pump {
	peer := ""
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	return &pump{
		conn:         conn,
		role:         role,
		peer:         peer,
		queue:        NewQueue(),
		owner:        owner,
		pollInterval: opts.PollInterval,
		flushGrace:   opts.FlushGrace,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		readDone:     make(chan struct{}),
		writeDone:    make(chan struct{}),
	}
}

// Start launches the loops. Starting a stopped pump does nothing.
func (p *pump) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.running = true
	go p.run()
}

// Stop asks the loops to exit. It does not wait; use Wait. A pump that was
// never started closes its socket right away. Safe to call repeatedly.
func (p *pump) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.running = false
	started := p.started
	close(p.stopCh)
	p.mu.Unlock()

	if !started {
		p.closeConn()
		close(p.done)
		return
	}
	// Release a blocked read now instead of at the next poll boundary.
	_ = p.conn.SetReadDeadline(time.Now())
}

// Wait blocks until the socket has been closed.
func (p *pump) Wait() { <-p.done }

// Running reports whether the loops are live and no stop was requested.
func (p *pump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Received and Sent count bytes read from and written to the socket.
func (p *pump) Received() int64 { return p.received.Load() }
func (p *pump) Sent() int64     { return p.sent.Load() }

func (p *pump) markDead() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *pump) isStopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// heldByHook reports whether the socket is only kept open by a hook call
// still running on the read goroutine: writing has finished and reading
// has either finished too or is inside the hook.
func (p *pump) heldByHook() bool {
	if closed(p.done) || !closed(p.writeDone) {
		return false
	}
	return closed(p.readDone) || p.inHook.Load()
}

func (p *pump) closeConn() {
	p.closeOnce.Do(func() { _ = p.conn.Close() })
}

func (p *pump) run() {
	defer close(p.done)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); defer close(p.readDone); p.readLoop() }()
	go func() { defer wg.Done(); defer close(p.writeDone); p.writeLoop() }()
	wg.Wait()
	p.closeConn()
}

func (p *pump) readLoop() {
	buf := make([]byte, MaxChunkSize)
	for !p.isStopping() {
		size := p.owner.chunkSize()
		if size < 1 || size > len(buf) {
			size = len(buf)
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(p.pollInterval))
		n, err := p.conn.Read(buf[:size])
		if n > 0 {
			p.received.Add(int64(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			p.inHook.Store(true)
			p.owner.handleChunk(p, data)
			p.inHook.Store(false)
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			continue
		}
		if p.isStopping() {
			return
		}
		p.markDead()
		p.owner.pumpFailed(p, "read", err)
		return
	}
}

func (p *pump) writeLoop() {
	for {
		select {
		case <-p.queue.Ready():
			if err := p.flush(time.Time{}); err != nil {
				if !p.isStopping() {
					p.markDead()
					p.owner.pumpFailed(p, "write", err)
				}
				return
			}
		case <-p.stopCh:
			if p.queue.Len() > 0 {
				_ = p.flush(time.Now().Add(p.flushGrace))
			}
			return
		}
	}
}

// flush writes everything queued. A zero until means no overall limit, but
// each write attempt is still bounded by the poll interval so a stop request
// switches the remainder to the flush grace window.
func (p *pump) flush(until time.Time) error {
	for _, buf := range p.queue.Drain() {
		if err := p.writeFull(buf, &until); err != nil {
			return err
		}
	}
	return nil
}

func (p *pump) writeFull(buf []byte, until *time.Time) error {
	for len(buf) > 0 {
		if until.IsZero() && p.isStopping() {
			*until = time.Now().Add(p.flushGrace)
		}
		deadline := time.Now().Add(p.pollInterval)
		if !until.IsZero() && until.Before(deadline) {
			deadline = *until
		}
		_ = p.conn.SetWriteDeadline(deadline)
		n, err := p.conn.Write(buf)
		if n > 0 {
			p.sent.Add(int64(n))
			buf = buf[n:]
		}
		if err == nil {
			if n == 0 {
				return io.ErrShortWrite
			}
			continue
		}
		if isTimeout(err) && (until.IsZero() || time.Now().Before(*until)) {
			continue
		}
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
