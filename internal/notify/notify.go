// Package notify publishes run-completion events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"transkript/internal/pipeline"
)

// Event is the JSON payload published once per finished run.
type Event struct {
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Transcript bool      `json:"transcript_found"`
	Summary    string    `json:"summary,omitempty"`
	Artifacts  []string  `json:"artifacts"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Conn is the subset of *nats.Conn the notifier uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Notifier struct {
	conn    Conn
	subject string
	logger  *slog.Logger
	close   func()
	now     func() time.Time
}

// Connect dials NATS with reconnects enabled. A server that is down at
// startup does not fail the coordinator; publishes are buffered until the
// connection comes up.
func Connect(url, subject string, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("transkript-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n := New(nc, subject, logger)
	n.close = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return n, nil
}

func New(conn Conn, subject string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{conn: conn, subject: subject, logger: logger, now: time.Now}
}

// RunFinished satisfies pipeline.RunHook. Publish failures are logged only.
func (n *Notifier) RunFinished(_ context.Context, res pipeline.ProcessResult) {
	data, err := json.Marshal(NewEvent(res, n.now()))
	if err != nil {
		n.logger.Error("encode run event", "session_id", res.SessionID, "err", err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.logger.Warn("publish run event", "session_id", res.SessionID, "subject", n.subject, "err", err)
	}
}

func (n *Notifier) Close() {
	if n.close != nil {
		n.close()
	}
}

func NewEvent(res pipeline.ProcessResult, finished time.Time) Event {
	ev := Event{
		SessionID:  res.SessionID,
		Status:     string(res.Outcome),
		Transcript: res.Transcript != nil,
		Artifacts:  make([]string, 0, len(res.Artifacts)),
		DurationMS: res.Duration.Milliseconds(),
		FinishedAt: finished.UTC(),
	}
	if st, ok := res.Stage(pipeline.StageInvoke); ok {
		ev.ExitCode = st.ExitCode
	}
	if res.Summary != nil {
		ev.Summary = res.Summary.Name
	}
	for _, a := range res.Artifacts {
		ev.Artifacts = append(ev.Artifacts, a.Name)
	}
	return ev
}
