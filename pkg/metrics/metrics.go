package metrics

import (
	"errors"
	"os"
	"path"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

var (
	mu       sync.RWMutex
	storage  tstorage.Storage
	counters = make(map[string]int64)
	gauges   = make(map[string]int64)
)

// InitMetrics opens the time series storage under workdir/data/metrics.
func InitMetrics(workdir string) error {
	dataPath := path.Join(workdir, "data", "metrics")
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return err
	}
	st, err := tstorage.NewStorage(
		tstorage.WithDataPath(dataPath),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithPartitionDuration(time.Hour),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = st
	mu.Unlock()
	return nil
}

// Close flushes and closes the storage.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}

// Inc increments a counter and records its running total.
func Inc(name string, labels ...tstorage.Label) int64 {
	mu.Lock()
	counters[name]++
	v := counters[name]
	st := storage
	mu.Unlock()
	insert(st, name, v, labels)
	return v
}

// SetGauge records the current value of a gauge.
func SetGauge(name string, value int64, labels ...tstorage.Label) {
	mu.Lock()
	gauges[name] = value
	st := storage
	mu.Unlock()
	insert(st, name, value, labels)
}

// Counter returns the in-process total of a counter.
func Counter(name string) int64 {
	mu.RLock()
	defer mu.RUnlock()
	return counters[name]
}

// Gauge returns the last value of a gauge.
func Gauge(name string) int64 {
	mu.RLock()
	defer mu.RUnlock()
	return gauges[name]
}

// Query returns the stored points of a metric in [start, end).
func Query(name string, start, end time.Time, labels ...tstorage.Label) ([]*tstorage.DataPoint, error) {
	mu.RLock()
	st := storage
	mu.RUnlock()
	if st == nil {
		return nil, nil
	}
	points, err := st.Select(name, labels, start.Unix(), end.Unix())
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return nil, nil
	}
	return points, err
}

func insert(st tstorage.Storage, name string, value int64, labels []tstorage.Label) {
	if st == nil {
		return
	}
	_ = st.InsertRows([]tstorage.Row{{
		Metric:    name,
		Labels:    labels,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: float64(value)},
	}})
}
