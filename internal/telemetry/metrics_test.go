package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
)

func TestQuorumMetrics(t *testing.T) {
	m := QuorumMetrics{}
	before := testutil.ToFloat64(VotesTotal.WithLabelValues("down", string(quorum.ReasonMajorityUnreachable)))

	m.ObserveVote(quorum.Result{Down: true, Reason: quorum.ReasonMajorityUnreachable, Electorate: 3, Duration: 10 * time.Millisecond})
	m.ObserveProbe(true)
	m.ObserveProbe(false)

	after := testutil.ToFloat64(VotesTotal.WithLabelValues("down", string(quorum.ReasonMajorityUnreachable)))
	require.Equal(t, before+1, after)
	require.Equal(t, float64(3), testutil.ToFloat64(ElectorateSize))
	require.GreaterOrEqual(t, testutil.ToFloat64(ProbesTotal.WithLabelValues("success")), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(ProbesTotal.WithLabelValues("failure")), float64(1))
}

func TestElectorateSurvivesFastPathVotes(t *testing.T) {
	m := QuorumMetrics{}
	m.ObserveVote(quorum.Result{Reason: quorum.ReasonMajorityReachable, Electorate: 3, Completed: 3, Successes: 3})
	m.ObserveVote(quorum.Result{Down: true, Reason: quorum.ReasonTargetAbsent})
	m.ObserveVote(quorum.Result{Down: true, Reason: quorum.ReasonNoElectorate})
	require.Equal(t, float64(3), testutil.ToFloat64(ElectorateSize))
}

func TestInstrumentAndHandler(t *testing.T) {
	h := Instrument("test", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, float64(1), testutil.ToFloat64(RequestsTotal.WithLabelValues("test", "4xx")))

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "zephyrquorum_requests_total"))
}
