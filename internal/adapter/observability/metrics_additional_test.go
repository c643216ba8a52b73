package observability_test

import (
	"testing"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	"github.com/stretchr/testify/assert"
)

func TestRecordTransform(t *testing.T) {
	t.Parallel()
	observability.RecordTransform("inpaint", "success", 2*time.Second)
	observability.RecordTransform("crop", "failure", 100*time.Millisecond)
	assert.True(t, true)
}

func TestRecordDownloadStrategy(t *testing.T) {
	t.Parallel()
	observability.RecordDownloadStrategy("direct_http", "success")
	observability.RecordDownloadStrategy("yt_dlp", "failure")
	observability.RecordDownloadStrategy("headless_browser", "success")
	assert.True(t, true)
}

func TestRecordLedgerOp(t *testing.T) {
	t.Parallel()
	observability.RecordLedgerOp("reserve", "success")
	observability.RecordLedgerOp("finalize", "success")
	observability.RecordLedgerOp("release", "success")
	assert.True(t, true)
}

func TestRecordCircuitBreakerStatus(t *testing.T) {
	t.Parallel()
	observability.RecordCircuitBreakerStatus("inpaint-backend", "call", 0)
	observability.RecordCircuitBreakerStatus("inpaint-backend", "call", 1)
	observability.RecordCircuitBreakerStatus("inpaint-backend", "call", 2)
	assert.True(t, true)
}

func TestRecordDependencyUp(t *testing.T) {
	t.Parallel()
	observability.RecordDependencyUp("postgres", true)
	observability.RecordDependencyUp("redis", false)
	assert.True(t, true)
}

func TestMetricsFunctions_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(index int) {
			observability.RecordTransform("inpaint", "success", time.Duration(index)*time.Millisecond)
			observability.RecordDownloadStrategy("curl", "success")
			observability.RecordLedgerOp("reserve", "success")
			observability.RecordCircuitBreakerStatus("inpaint-backend", "call", index%3)
			observability.RecordDependencyUp("postgres", index%2 == 0)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.True(t, true)
}

func TestMetricsFunctions_Performance(t *testing.T) {
	t.Parallel()
	start := time.Now()
	for i := 0; i < 1000; i++ {
		observability.RecordTransform("crop", "success", time.Millisecond)
		observability.RecordDownloadStrategy("direct_http", "success")
		observability.RecordLedgerOp("finalize", "success")
	}
	duration := time.Since(start)
	assert.Less(t, duration, time.Second)
}
