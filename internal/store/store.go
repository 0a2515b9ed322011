// Package store persists per-session settings so hook configuration outlives
// both hook reloads and process restarts.
package store

import (
	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
)

// Store is a relay.SettingsStore that also carries the process readiness
// flags served on /readyz.
type Store interface {
	relay.SettingsStore
	SetReady(ready bool)
	SetClosing(closing bool)
	IsReady() bool
	IsClosing() bool
	// Names lists the sessions with saved settings.
	Names() ([]string, error)
	Close() error
}

// New returns an in-memory store when redisAddr is empty, otherwise a Redis
// backed one.
func New(redisAddr, redisPassword string, redisDB int) (Store, error) {
	if redisAddr == "" {
		obs.Info("store.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(), nil
	}
	obs.Info("store.backend", obs.Fields{"type": "redis", "addr": redisAddr, "db": redisDB})
	return NewRedis(redisAddr, redisPassword, redisDB)
}
