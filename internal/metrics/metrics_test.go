package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestCounters(t *testing.T) {
	Register()

	before := testutil.ToFloat64(itemsSynced)
	IncSynced()
	assert.Equal(t, before+1, testutil.ToFloat64(itemsSynced))

	before = testutil.ToFloat64(itemsFailed)
	IncFailed()
	assert.Equal(t, before+1, testutil.ToFloat64(itemsFailed))

	before = testutil.ToFloat64(drains.WithLabelValues("ok"))
	IncDrain("ok")
	assert.Equal(t, before+1, testutil.ToFloat64(drains.WithLabelValues("ok")))

	before = testutil.ToFloat64(cacheRequests.WithLabelValues("api", "hit"))
	IncCache("api", "hit")
	assert.Equal(t, before+1, testutil.ToFloat64(cacheRequests.WithLabelValues("api", "hit")))

	SetQueueDepth(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(queueDepth))
}
