package metrics

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordInference(t *testing.T) {
	c := NewCollector("mlforge_test")

	c.RecordInference("churn-model", 2, 15*time.Millisecond)
	c.RecordInference("churn-model", 2, 25*time.Millisecond)

	got := testutil.ToFloat64(c.inferenceRequestsTotal.WithLabelValues("churn-model", "2"))
	assert.Equal(t, 2.0, got)
}

func TestRecordInferenceError(t *testing.T) {
	c := NewCollector("mlforge_test")

	c.RecordInferenceError("inference_failed")
	c.RecordInferenceError("inference_failed")
	c.RecordInferenceError("model_not_ready")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.inferenceErrorsTotal.WithLabelValues("inference_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inferenceErrorsTotal.WithLabelValues("model_not_ready")))
}

func TestRecordStageSeparatesHitsAndMisses(t *testing.T) {
	c := NewCollector("mlforge_test")

	c.RecordStage("churn", "train", false, 2*time.Second)
	c.RecordStage("churn", "train", true, 0)
	c.RecordStage("churn", "train", true, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageExecutionsTotal.WithLabelValues("churn", "train", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stageExecutionsTotal.WithLabelValues("churn", "train", "hit")))
	// Only executed stages contribute latency samples.
	assert.Equal(t, 1, testutil.CollectAndCount(c.stageDuration))
}

func TestSnapshotGathersAllFamilies(t *testing.T) {
	c := NewCollector("mlforge_test")
	c.RecordInference("churn-model", 1, time.Millisecond)
	c.RecordModelLoad("ok")

	families, err := c.Snapshot()
	require.NoError(t, err)

	names := make(map[string]struct{}, len(families))
	for _, family := range families {
		names[family.GetName()] = struct{}{}
	}
	assert.Contains(t, names, "mlforge_test_inference_requests_total")
	assert.Contains(t, names, "mlforge_test_model_loads_total")
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollector("mlforge_test")
	c.RecordInference("churn-model", 1, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "mlforge_test_inference_requests_total")
}

func TestConcurrentIncrements(t *testing.T) {
	c := NewCollector("mlforge_test")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordInference("churn-model", 1, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	got := testutil.ToFloat64(c.inferenceRequestsTotal.WithLabelValues("churn-model", "1"))
	assert.Equal(t, 800.0, got)
}
