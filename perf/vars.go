package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	RoundLatency      = metric.NewHistogram("1m1s")
	RoundsPerSecond   = metric.NewCounter("10s1s")
	PolicyEvaluations = metric.NewCounter("10s1s")
	ExportedRoutes    = metric.NewCounter("10s1s")
	DirtyAdjacencies  = metric.NewHistogram("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("ribsim:Rounds/s", RoundsPerSecond)
	expvar.Publish("ribsim:PolicyEvaluations/s", PolicyEvaluations)
	expvar.Publish("ribsim:ExportedRoutes/s", ExportedRoutes)
	expvar.Publish("ribsim:DirtyAdjacencies", DirtyAdjacencies)
	expvar.Publish("ribsim:RoundLatency (µs)", RoundLatency)
}
