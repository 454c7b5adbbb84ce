package model

import "time"

// Stats are the counters collected by the combinators. Each combinator keeps
// its own and merges those of the solver it wraps in Statistics.
type Stats struct {
	EngineCalls     int             `json:"engine_calls"`
	EngineTime      time.Duration   `json:"engine_time_ns"`
	EngineSolutions int             `json:"engine_solutions"`
	SolutionTimes   []time.Duration `json:"solution_times_ns,omitempty"`

	OracleCalls    int           `json:"oracle_calls"`
	OracleTime     time.Duration `json:"oracle_time_ns"`
	OracleAccepted int           `json:"oracle_accepted"`
	OracleRejected int           `json:"oracle_rejected"`
	Verdicts       []bool        `json:"verdicts,omitempty"` // true when accepted, in call order

	Backtracks int `json:"backtracks"`

	// Set by the post-hoc front filter.
	Filtered          bool    `json:"filtered"`
	HypervolumeBefore float64 `json:"hypervolume_before"`
}

// Merge adds the counters of o to s.
func (s *Stats) Merge(o Stats) {
	s.EngineCalls += o.EngineCalls
	s.EngineTime += o.EngineTime
	s.EngineSolutions += o.EngineSolutions
	s.SolutionTimes = append(s.SolutionTimes, o.SolutionTimes...)
	s.OracleCalls += o.OracleCalls
	s.OracleTime += o.OracleTime
	s.OracleAccepted += o.OracleAccepted
	s.OracleRejected += o.OracleRejected
	s.Verdicts = append(s.Verdicts, o.Verdicts...)
	s.Backtracks += o.Backtracks
	if o.Filtered {
		s.Filtered = true
		s.HypervolumeBefore = o.HypervolumeBefore
	}
}

// RecordVerdict counts one oracle call.
func (s *Stats) RecordVerdict(st Status, d time.Duration) {
	s.OracleCalls++
	s.OracleTime += d
	accepted := st == Accepted
	if accepted {
		s.OracleAccepted++
	} else {
		s.OracleRejected++
	}
	s.Verdicts = append(s.Verdicts, accepted)
}
