package relay

import (
	"fmt"
	"time"

	"github.com/FalcoGer/pmp/internal/netutil"
	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/google/uuid"
	"github.com/jpillora/sizestr"
)

// pumpPair is one accepted client and, once connected, its server side.
// Hooks receive it as their Handle, which scopes their sends and disconnects
// to the connection the chunk arrived on.
type pumpPair struct {
	s           *Session
	id          string
	client      *pump
	server      *pump
	established time.Time
	done        chan struct{}
}

var _ Handle = (*pumpPair)(nil)

func newPumpPair(s *Session) *pumpPair {
	return &pumpPair{s: s, id: uuid.NewString(), done: make(chan struct{})}
}

func (pp *pumpPair) pump(role Role) *pump {
	pp.s.mu.Lock()
	defer pp.s.mu.Unlock()
	if role == RoleClient {
		return pp.client
	}
	return pp.server
}

func (pp *pumpPair) stop() {
	pp.client.Stop()
	if pp.server != nil {
		pp.server.Stop()
	}
}

// wait joins both pumps, records the teardown and closes done.
func (pp *pumpPair) wait() {
	pp.client.Wait()
	if pp.server == nil {
		close(pp.done)
		return
	}
	pp.server.Wait()
	name := pp.s.mapping.Name
	obs.SessionsEstablished.WithLabelValues(name).Set(0)
	obs.ConnectionDurationSeconds.Observe(time.Since(pp.established).Seconds())
	obs.Info("session.disconnected", obs.Fields{
		"session":       name,
		"id":            pp.id,
		"client":        pp.client.peer,
		"from_client":   sizestr.ToString(pp.client.Received()),
		"from_server":   sizestr.ToString(pp.server.Received()),
		"duration":      time.Since(pp.established).Round(time.Millisecond).String(),
		"queued_client": pp.client.queue.Len(),
		"queued_server": pp.server.queue.Len(),
	})
	close(pp.done)
}

// join waits until the pair has closed its sockets. A hook that calls
// Session.Disconnect blocks its own read goroutine here, so once nothing but
// hook calls keeps the pumps alive their sockets are closed directly and the
// pair finishes after the hooks return.
func (pp *pumpPair) join(poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-pp.done:
			return
		case <-ticker.C:
		}
		client, server := pp.pump(RoleClient), pp.pump(RoleServer)
		if !client.heldByHook() && !closed(client.done) {
			continue
		}
		if server != nil && !server.heldByHook() && !closed(server.done) {
			continue
		}
		if !client.inHook.Load() && (server == nil || !server.inHook.Load()) {
			continue
		}
		client.closeConn()
		if server != nil {
			server.closeConn()
		}
		return
	}
}

func (pp *pumpPair) chunkSize() int {
	return pp.s.Settings().Session.ChunkSize
}

func (pp *pumpPair) handleChunk(p *pump, data []byte) {
	name := pp.s.mapping.Name
	obs.BytesTotal.WithLabelValues(name, p.role.String()).Add(float64(len(data)))
	if err := pp.invokeHook(data, p.role); err != nil {
		obs.Error("hook.failure", obs.Fields{"session": name, "id": pp.id, "origin": p.role.String(), "bytes": len(data), "err": err.Error()})
		obs.HookFailuresTotal.WithLabelValues(name).Inc()
	}
}

func (pp *pumpPair) invokeHook(data []byte, origin Role) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return pp.s.Hook().Handle(data, pp, origin)
}

func (pp *pumpPair) pumpFailed(p *pump, op string, err error) {
	fields := obs.Fields{"session": pp.s.mapping.Name, "id": pp.id, "role": p.role.String(), "peer": p.peer, "op": op, "err": err.Error()}
	if netutil.IsExpectedCloseError(err) {
		obs.Debug("pump.closed", fields)
	} else {
		obs.Error("pump.io", fields)
		obs.ErrorsTotal.WithLabelValues(op).Inc()
	}
	pp.s.retire(pp)
}

func (pp *pumpPair) Name() string { return pp.s.mapping.Name }

func (pp *pumpPair) SendData(to Role, data []byte) {
	p := pp.pump(to)
	if p == nil {
		return
	}
	p.queue.Push(data)
}

func (pp *pumpPair) SendToClient(data []byte) { pp.SendData(RoleClient, data) }
func (pp *pumpPair) SendToServer(data []byte) { pp.SendData(RoleServer, data) }

func (pp *pumpPair) Disconnect() { pp.s.retire(pp) }

func (pp *pumpPair) Settings() Settings                  { return pp.s.Settings() }
func (pp *pumpPair) Setting(key SettingKey) (any, error) { return pp.s.Setting(key) }
func (pp *pumpPair) SetSetting(key SettingKey, value any) error {
	return pp.s.SetSetting(key, value)
}
