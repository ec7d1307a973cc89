package vedra

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type pebbleMetric struct {
	desc  *prometheus.Desc
	vtype prometheus.ValueType
	read  func(*pebble.Metrics) float64
}

// pebbleCollector exposes the storage engine's own counters next to the
// match/dispatch metrics, so queue stalls can be correlated with
// compaction debt.
type pebbleCollector struct {
	db      *pebble.DB
	metrics []pebbleMetric
}

func newPebbleCollector(db *pebble.DB) *pebbleCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("pebble_"+name, help, nil, nil)
	}
	return &pebbleCollector{
		db: db,
		metrics: []pebbleMetric{
			{
				desc("compaction_count_total", "Total number of compactions performed"),
				prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) },
			},
			{
				desc("compaction_estimated_debt_bytes", "Estimated bytes to compact to reach a stable state"),
				prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) },
			},
			{
				desc("compaction_in_progress_bytes", "Bytes being compacted currently"),
				prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.InProgressBytes) },
			},
			{
				desc("memtable_size_bytes", "Current size of the memtable in bytes"),
				prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) },
			},
			{
				desc("memtable_count_total", "Current count of memtables"),
				prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) },
			},
			{
				desc("wal_files_total", "Number of live WAL files"),
				prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) },
			},
			{
				desc("wal_size_bytes", "Size of live WAL data in bytes"),
				prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) },
			},
			{
				desc("wal_bytes_written_total", "Total physical bytes written to the WAL"),
				prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) },
			},
		},
	}
}

func (pc *pebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, pm := range pc.metrics {
		ch <- pm.desc
	}
}

func (pc *pebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.db.Metrics()
	for _, pm := range pc.metrics {
		ch <- prometheus.MustNewConstMetric(pm.desc, pm.vtype, pm.read(m))
	}
}
