package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "error", Outcome(errors.New("x")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("current_time", "ok"))
	ToolCallsTotal.WithLabelValues("current_time", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ToolCallsTotal.WithLabelValues("current_time", "ok")))
}
