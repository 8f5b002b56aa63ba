package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/gitops-agent/internal/deploy"
)

const (
	contentTypeNDJSON = "application/x-ndjson"
	contentTypeSSE    = "text/event-stream"
)

// eventWriter writes one JSON document per event, as NDJSON lines or as
// server-sent events, flushing after each
type eventWriter struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	sse bool
}

func newEventWriter(w http.ResponseWriter, r *http.Request) *eventWriter {
	sse := strings.Contains(r.Header.Get("Accept"), contentTypeSSE)
	contentType := contentTypeNDJSON
	if sse {
		contentType = contentTypeSSE
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// a deployment may outlive the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("Could not clear write deadline", "error", err)
	}
	w.WriteHeader(http.StatusOK)
	return &eventWriter{w: w, rc: rc, sse: sse}
}

func (e *eventWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if e.sse {
		_, err = fmt.Fprintf(e.w, "data: %s\n\n", data)
	} else {
		_, err = fmt.Fprintf(e.w, "%s\n", data)
	}
	if err != nil {
		return err
	}
	return e.rc.Flush()
}

// deployFunc runs a deployment reporting to sink
type deployFunc func(ctx context.Context, sink deploy.Sink) (deploy.DeploymentState, error)

// stream runs fn in a producer goroutine and writes its events to the client
// as they arrive. An error that is not a deployment failure, which the
// failed event already reports, ends the stream with an error event.
func (rr *Routes) stream(w http.ResponseWriter, r *http.Request, fn deployFunc) {
	out := newEventWriter(w, r)
	ch := make(chan any, rr.streamBuffer)

	go func() {
		defer close(ch)
		_, err := fn(r.Context(), func(ev deploy.Event) { ch <- ev })
		if err != nil && deploy.KindOf(err) == "" {
			ch <- streamError{Status: string(deploy.EventError), Error: err.Error()}
		}
	}()

	clientGone := false
	for ev := range ch {
		if clientGone {
			// keep draining so the deployment is never blocked on us
			continue
		}
		if err := out.write(ev); err != nil {
			slog.Debug("Event stream client went away", "error", err)
			clientGone = true
		}
	}
}
