package model

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type ReadyResponse struct {
	OK          bool              `json:"ok"`
	ServiceName string            `json:"service_name,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

type Artifact struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ModifiedAt  string `json:"modified_at"`
	DownloadURL string `json:"download_url"`
}

type Transcript struct {
	Text        string `json:"text"`
	Source      string `json:"source"`
	DownloadURL string `json:"download_url,omitempty"`
}

type Stage struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Recovered  bool   `json:"recovered,omitempty"`
	Message    string `json:"message,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type TranscriptionResponse struct {
	SessionID  string      `json:"session_id"`
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`
	Summary    *Artifact   `json:"summary,omitempty"`
	Artifacts  []Artifact  `json:"artifacts"`
	Stages     []Stage     `json:"stages"`
	Warnings   []string    `json:"warnings,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

type ArtifactListResponse struct {
	SessionID string     `json:"session_id"`
	Summary   *Artifact  `json:"summary,omitempty"`
	Artifacts []Artifact `json:"artifacts"`
}
