package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersWithoutStorage(t *testing.T) {
	before := Counter("test_nostorage")
	Inc("test_nostorage")
	Inc("test_nostorage")
	assert.Equal(t, before+2, Counter("test_nostorage"))

	SetGauge("test_gauge", 7)
	SetGauge("test_gauge", 9)
	assert.Equal(t, int64(9), Gauge("test_gauge"))
}

func TestInsertAndQuery(t *testing.T) {
	require.NoError(t, InitMetrics(t.TempDir()))
	defer func() { _ = Close() }()

	Inc("test_stored")
	points, err := Query("test_stored", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, float64(Counter("test_stored")), points[len(points)-1].Value)
}
