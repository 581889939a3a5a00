package job

// Summary is a point-in-time aggregation over the registry.
type Summary struct {
	TotalJobs          int
	ByStatus           map[Status]int
	PredictorAvailable bool
}

// StatusReporter serves read-only health and summary queries. The
// predictor-available flag is fixed at startup and never mutated.
type StatusReporter struct {
	registry    *Registry
	modelLoaded bool
}

func NewStatusReporter(registry *Registry, modelLoaded bool) *StatusReporter {
	return &StatusReporter{registry: registry, modelLoaded: modelLoaded}
}

// Summary aggregates current registry state.
func (r *StatusReporter) Summary() Summary {
	return Summary{
		TotalJobs:          r.registry.Len(),
		ByStatus:           r.registry.CountByStatus(),
		PredictorAvailable: r.modelLoaded,
	}
}
