package network

import "time"

// Endpoint is one RPC endpoint in a chain's redundant pool.
type Endpoint struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	// Latency of the last successful liveness probe.
	Latency time.Duration `json:"latency"`
	// ConsecutiveFailures counts probe failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// Status classifies a chain's overall endpoint health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Uptime thresholds: below degradedUptime the chain is reported degraded,
// below failoverUptime the monitor forces a failover.
const (
	degradedUptime = 0.8
	failoverUptime = 0.5
)

// Health is the rolling health snapshot for one chain.
type Health struct {
	ChainID         uint64   `json:"chain_id"`
	Status          Status   `json:"status"`
	ActiveEndpoint  string   `json:"active_endpoint"`
	FailedEndpoints []string `json:"failed_endpoints,omitempty"`
	// Uptime is an exponential moving average of probe successes in [0,1].
	Uptime    float64      `json:"uptime"`
	LastGas   *FeeEstimate `json:"last_gas,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}
