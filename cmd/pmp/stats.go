package main

import (
	"time"

	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/FalcoGer/pmp/internal/store"
)

// Stats is the process summary served on /api/sessions.
type Stats struct {
	Sessions    []relay.Status `json:"sessions"`
	Established int            `json:"established"`
	Selected    string         `json:"selected,omitempty"`
	// Unconfigured names sessions that have saved settings in the store but
	// no mapping in this process, e.g. left over from an earlier run.
	Unconfigured []string `json:"unconfigured,omitempty"`
	Now          string   `json:"now"`
}

func collectStats(reg *relay.Registry, st store.Store) Stats {
	stats := Stats{Sessions: reg.Statuses(), Now: time.Now().UTC().Format(time.RFC3339)}
	configured := make(map[string]bool, len(stats.Sessions))
	for _, s := range stats.Sessions {
		configured[s.Name] = true
		if s.State == relay.StateEstablished.String() {
			stats.Established++
		}
	}
	if sel := reg.Selected(); sel != nil {
		stats.Selected = sel.Name()
	}
	names, err := st.Names()
	if err != nil {
		obs.Error("stats.store.names", obs.Fields{"err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("store_names").Inc()
	}
	for _, name := range names {
		if !configured[name] {
			stats.Unconfigured = append(stats.Unconfigured, name)
		}
	}
	return stats
}

// ToTemplateMap returns the keys the dashboard template expects.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Sessions":     s.Sessions,
		"Established":  s.Established,
		"Selected":     s.Selected,
		"Unconfigured": s.Unconfigured,
	}
}
