package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePoll(PollChanged)
	m.ObservePoll(PollChanged)
	m.ObservePoll(PollFailed)
	m.ObserveTransition("live")
	m.ObserveDiscovery("online")
	m.ObserveRound(20*time.Millisecond, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues(PollChanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues(PollFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discoveries.WithLabelValues("online")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.polled))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoll(PollChanged)
		m.ObserveTransition("live")
		m.ObserveDiscovery("offline")
		m.ObserveRound(time.Second, 1)
	})
}
