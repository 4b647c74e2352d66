// Package metrics keeps process and bot gauges in an embedded time-series store.
package metrics

import (
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nakabonne/tstorage"
	"go.uber.org/zap"
)

type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

var (
	storage  tstorage.Storage
	mu       sync.RWMutex
	counters sync.Map
)

// InitMetrics opens the series store under <workdir>/data/metrics.
func InitMetrics(workdir string) error {
	mu.Lock()
	defer mu.Unlock()
	if storage != nil {
		return nil
	}
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(path.Join(workdir, "data", "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithPartitionDuration(time.Hour),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	storage = s
	return nil
}

func insert(name string, value float64) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	err := storage.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: value},
	}})
	if err != nil {
		zap.L().Debug("metrics: insert failed", zap.String("metric", name), zap.Error(err))
	}
}

func SetGauge(name string, value int64) {
	insert(name, float64(value))
}

// Incr bumps a process lifetime counter and records its new value.
func Incr(name string) {
	v, _ := counters.LoadOrStore(name, new(int64))
	n := atomic.AddInt64(v.(*int64), 1)
	insert(name, float64(n))
}

// Query returns the points of name recorded within the last window.
func Query(name string, window time.Duration) ([]Point, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil, errors.New("metrics not initialized")
	}
	end := time.Now().Unix() + 1
	start := end - int64(window.Seconds()) - 1
	pts, err := storage.Select(name, nil, start, end)
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return []Point{}, nil
	}
	if err != nil {
		return nil, err
	}
	result := make([]Point, 0, len(pts))
	for _, p := range pts {
		result = append(result, Point{Timestamp: p.Timestamp, Value: p.Value})
	}
	return result, nil
}

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
