package observability

import (
	"context"

	"transkript/internal/pipeline"
)

// RunFinished satisfies pipeline.RunHook.
func (m *Metrics) RunFinished(_ context.Context, res pipeline.ProcessResult) {
	if m == nil {
		return
	}
	m.ObservePipelineRun(string(res.Outcome), res.Duration)

	if st, ok := res.Stage(pipeline.StageNormalize); ok && st.Status == pipeline.StatusFailed && st.Recovered {
		m.IncNormalizeFallback()
	}
	if st, ok := res.Stage(pipeline.StageInvoke); ok && st.Status != pipeline.StatusSkipped {
		m.ObserveWorker(workerStatus(res, st), st.Duration)
	}
}

func workerStatus(res pipeline.ProcessResult, st pipeline.StageOutcome) string {
	switch {
	case res.Outcome == pipeline.OutcomeTimedOut:
		return "timeout"
	case st.Status == pipeline.StatusSucceeded:
		return "ok"
	default:
		return "failed"
	}
}
