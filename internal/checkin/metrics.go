package checkin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verdictCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkin_verdicts_total",
	Help: "Check-in verdicts by result and primary rejection reason.",
}, []string{"result", "reason"})

func observeVerdict(v Verdict) {
	if v.Accepted {
		verdictCounter.WithLabelValues("accepted", "").Inc()
		return
	}
	reason := ""
	if len(v.Reasons) > 0 {
		reason = string(v.Reasons[0].Code)
	}
	verdictCounter.WithLabelValues("rejected", reason).Inc()
}
