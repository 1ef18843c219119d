package httpapi

import (
	"net/url"
	"path/filepath"
	"time"

	"transkript/internal/artifact"
	"transkript/internal/model"
	"transkript/internal/pipeline"
)

func downloadURL(sessionID, name string) string {
	return "/download/" + url.PathEscape(sessionID) + "/" + url.PathEscape(name)
}

func toModelArtifact(a *artifact.Artifact) *model.Artifact {
	if a == nil {
		return nil
	}
	return &model.Artifact{
		Kind:        string(a.Kind),
		Name:        a.Name,
		Size:        a.Size,
		ModifiedAt:  a.ModTime.UTC().Format(time.RFC3339),
		DownloadURL: downloadURL(a.SessionID, a.Name),
	}
}

func toModelArtifacts(in []artifact.Artifact) []model.Artifact {
	out := make([]model.Artifact, 0, len(in))
	for i := range in {
		out = append(out, *toModelArtifact(&in[i]))
	}
	return out
}

func toModelStages(in []pipeline.StageOutcome) []model.Stage {
	out := make([]model.Stage, 0, len(in))
	for _, st := range in {
		m := model.Stage{
			Stage:      string(st.Stage),
			Status:     string(st.Status),
			Recovered:  st.Recovered,
			Message:    st.Message,
			DurationMS: st.Duration.Milliseconds(),
		}
		if st.Stage == pipeline.StageInvoke && st.Status != pipeline.StatusSkipped {
			code := st.ExitCode
			m.ExitCode = &code
		}
		out = append(out, m)
	}
	return out
}

func toTranscriptionResponse(res pipeline.ProcessResult) model.TranscriptionResponse {
	resp := model.TranscriptionResponse{
		SessionID:  res.SessionID,
		Status:     string(res.Outcome),
		Summary:    toModelArtifact(res.Summary),
		Artifacts:  toModelArtifacts(res.Artifacts),
		Stages:     toModelStages(res.Stages),
		Warnings:   res.Warnings,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Transcript != nil {
		resp.Transcript = &model.Transcript{
			Text:   res.Transcript.Text,
			Source: string(res.Transcript.Source),
		}
		if res.Transcript.Path != "" {
			resp.Transcript.DownloadURL = downloadURL(res.SessionID, filepath.Base(res.Transcript.Path))
		}
	}
	if res.Outcome == pipeline.OutcomeNoTranscript {
		resp.Message = "worker finished but no transcript was located"
	}
	return resp
}

// workerDetails carries the worker's streams verbatim into the error body.
func workerDetails(res pipeline.ProcessResult, st pipeline.StageOutcome) map[string]any {
	return map[string]any{
		"session_id": res.SessionID,
		"exit_code":  st.ExitCode,
		"stdout":     st.Stdout,
		"stderr":     st.Stderr,
		"stages":     toModelStages(res.Stages),
	}
}
