package quorum

import "time"

type Reason string

const (
	ReasonTargetAbsent        Reason = "target-absent"
	ReasonNoElectorate        Reason = "no-electorate"
	ReasonMajorityUnreachable Reason = "majority-unreachable"
	ReasonMajorityReachable   Reason = "majority-reachable"
)

// Result records one vote. Down is the verdict; the rest explains it.
type Result struct {
	ID         string        `json:"id"`
	Target     string        `json:"target"`
	Down       bool          `json:"down"`
	Reason     Reason        `json:"reason"`
	Electorate int           `json:"electorate"`
	Successes  int           `json:"successes"`
	Completed  int           `json:"completed"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

func (r Result) Outcome() string {
	if r.Down {
		return "down"
	}
	return "alive"
}

// majorityDown applies the quorum rule: the target is down when fewer than
// half of the polled electorate were reachable.
func majorityDown(successes, electorate int) bool {
	return 2*successes < electorate
}

// Metrics receives vote and probe observations.
type Metrics interface {
	ObserveVote(r Result)
	ObserveProbe(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveVote(Result) {}
func (nopMetrics) ObserveProbe(bool) {}
