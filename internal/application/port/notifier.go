package port

import "context"

// Notification is the single operator-visible message produced for every
// terminal outcome (spec §7: "every terminal outcome produces exactly one
// operator notification").
type Notification struct {
	Severity    string // "info" | "warn" | "critical"
	Direction   string
	NotionalUSD float64
	PnL         float64
	Code        string // error code, empty on clean success
	Message     string
}

// Notifier is the operator notification channel, out of scope for the core
// per spec §1 ("only their interfaces are specified") — a messaging bot,
// email, or any other transport can implement it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Broadcaster publishes the latest edge payload to any connected read-only
// observer (spec §6 Broadcast feed).
type Broadcaster interface {
	Publish(ctx context.Context, payload EdgePayload) error
}

// LiveConfigStore persists control-surface-set values so a live
// reconfiguration survives a process restart. The engine reads through its
// own in-process mirror on every tick/dispatch (no per-tick Redis round
// trip); this store exists purely for restart durability and for the
// "config" command's read-only dump.
type LiveConfigStore interface {
	GetFloat(ctx context.Context, key string, def float64) float64
	SetFloat(ctx context.Context, key string, v float64) error
	GetBool(ctx context.Context, key string, def bool) bool
	SetBool(ctx context.Context, key string, v bool) error
	GetString(ctx context.Context, key, def string) string
	SetString(ctx context.Context, key, v string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// EdgePayload is the wire shape of the broadcast feed.
type EdgePayload struct {
	Ts           int64   `json:"ts"`
	Base         string  `json:"base"`
	SpotIndex    int     `json:"spot_index"`
	EdgePsMMBps  float64 `json:"edge_ps_mm_bps"`
	EdgeSpMMBps  float64 `json:"edge_sp_mm_bps"`
	MidRef       float64 `json:"mid_ref"`
	LatencyMs    int64   `json:"latency_ms"`
	ThresholdBps float64 `json:"threshold_bps"`
}
