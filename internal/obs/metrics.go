package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsEstablished       = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "pmp_sessions_established", Help: "1 while a session has a live client/server pair"}, []string{"session"})
	ClientsAcceptedTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "pmp_clients_accepted_total", Help: "Clients accepted per session"}, []string{"session"})
	ConnectFailuresTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "pmp_connect_failures_total", Help: "Failed connects to the remote target"}, []string{"session"})
	BytesTotal                = promauto.NewCounterVec(prometheus.CounterOpts{Name: "pmp_bytes_total", Help: "Bytes read from each side"}, []string{"session", "direction"})
	HookFailuresTotal         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "pmp_hook_failures_total", Help: "Interception hook errors and panics"}, []string{"session"})
	HookReloadsTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "pmp_hook_reloads_total", Help: "Rule file reloads by result"}, []string{"result"})
	ErrorsTotal               = promauto.NewCounterVec(prometheus.CounterOpts{Name: "pmp_errors_total", Help: "Errors by type"}, []string{"type"})
	ConnectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "pmp_connection_duration_seconds", Help: "Established connection lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
