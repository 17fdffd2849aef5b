package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxLatencySamples = 1000

// Config はレイテンシのサンプリング設定
type Config struct {
	MaxLatencySamples int
}

// Metrics はサーバーが処理した接続とコマンドのメトリクスを収集する
type Metrics struct {
	accepted atomic.Uint64
	dropped  atomic.Uint64

	saves          atomic.Uint64
	reads          atomic.Uint64
	readMisses     atomic.Uint64
	clears         atomic.Uint64
	protocolErrors atomic.Uint64
	capacityErrors atomic.Uint64
	totalLatencyNs atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	latencies         []time.Duration
	next              int
	maxLatencySamples int
}

// New はデフォルト設定で新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewWithConfig はサンプル数を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	n := config.MaxLatencySamples
	if n <= 0 {
		n = defaultMaxLatencySamples
	}
	return &Metrics{
		startTime:         time.Now(),
		latencies:         make([]time.Duration, 0, n),
		maxLatencySamples: n,
	}
}

// ConnectionAccepted は登録された接続を記録する
func (m *Metrics) ConnectionAccepted() {
	m.accepted.Add(1)
}

// ConnectionDropped はハンドラが終了した接続を記録する
func (m *Metrics) ConnectionDropped() {
	m.dropped.Add(1)
}

// ActiveConnections は現在の接続数を返す
func (m *Metrics) ActiveConnections() uint64 {
	return m.accepted.Load() - m.dropped.Load()
}

// RecordSave は適用された save を記録する
func (m *Metrics) RecordSave(latency time.Duration) {
	m.saves.Add(1)
	m.recordLatency(latency)
}

// RecordRead は read を記録する（変数が無ければ hit は false）
func (m *Metrics) RecordRead(latency time.Duration, hit bool) {
	m.reads.Add(1)
	if !hit {
		m.readMisses.Add(1)
	}
	m.recordLatency(latency)
}

// RecordClear は適用された clear を記録する
func (m *Metrics) RecordClear(latency time.Duration) {
	m.clears.Add(1)
	m.recordLatency(latency)
}

// RecordProtocolError は拒否されたリクエスト行を記録する
func (m *Metrics) RecordProtocolError() {
	m.protocolErrors.Add(1)
}

// RecordCapacityError はテーブルが満杯で拒否された save を記録する
func (m *Metrics) RecordCapacityError() {
	m.capacityErrors.Add(1)
}

// recordLatency は直近のサンプルをリングに保持する
func (m *Metrics) recordLatency(latency time.Duration) {
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
		return
	}
	m.latencies[m.next] = latency
	m.next = (m.next + 1) % m.maxLatencySamples
}

// Commands は適用されたコマンド数を返す
func (m *Metrics) Commands() uint64 {
	return m.saves.Load() + m.reads.Load() + m.clears.Load()
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.Commands()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	ConnectionsAccepted uint64        `json:"connections_accepted"`
	ConnectionsDropped  uint64        `json:"connections_dropped"`
	ActiveConnections   uint64        `json:"active_connections"`
	Saves               uint64        `json:"saves"`
	Reads               uint64        `json:"reads"`
	ReadMisses          uint64        `json:"read_misses"`
	Clears              uint64        `json:"clears"`
	ProtocolErrors      uint64        `json:"protocol_errors"`
	CapacityErrors      uint64        `json:"capacity_errors"`
	AverageLatency      time.Duration `json:"average_latency_ns"`
	P99Latency          time.Duration `json:"p99_latency_ns"`
	Uptime              time.Duration `json:"uptime_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	accepted := m.accepted.Load()
	dropped := m.dropped.Load()
	return Snapshot{
		ConnectionsAccepted: accepted,
		ConnectionsDropped:  dropped,
		ActiveConnections:   accepted - dropped,
		Saves:               m.saves.Load(),
		Reads:               m.reads.Load(),
		ReadMisses:          m.readMisses.Load(),
		Clears:              m.clears.Load(),
		ProtocolErrors:      m.protocolErrors.Load(),
		CapacityErrors:      m.capacityErrors.Load(),
		AverageLatency:      m.AverageLatency(),
		P99Latency:          m.P99Latency(),
		Uptime:              time.Since(m.startTime),
	}
}
