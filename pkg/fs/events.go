package fs

import (
	"context"

	"github.com/gatefs/gatefs/internal/logger"
)

// Reason classifies the mutation behind an invalidation event.
type Reason string

const (
	ReasonUpload            Reason = "upload"
	ReasonMkdir             Reason = "mkdir"
	ReasonRename            Reason = "rename"
	ReasonCopy              Reason = "copy"
	ReasonBatchRemove       Reason = "batch-remove"
	ReasonMultipartComplete Reason = "multipart-complete"
)

// Event is one cache-invalidation notice emitted after a successful
// mutation. Paths are mount-rooted slash paths; a trailing slash marks a
// path known to be a directory.
type Event struct {
	MountID         string
	StorageConfigID string
	Paths           []string
	Reason          Reason
}

// EventSink consumes invalidation events.
type EventSink interface {
	Apply(ctx context.Context, ev Event) error
}

// Notifier fans events out to every sink. Sink failures are logged and
// swallowed: invalidation is advisory, the mutation already happened and
// the reconciler heals missed rows on the next rebuild.
type Notifier struct {
	sinks []EventSink
}

// NewNotifier builds a notifier over the given sinks. Nil sinks are skipped.
func NewNotifier(sinks ...EventSink) *Notifier {
	kept := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Notifier{sinks: kept}
}

// Emit delivers the event to every sink. The mutation already committed, so
// delivery survives request cancellation.
func (n *Notifier) Emit(ctx context.Context, ev Event) {
	if n == nil || len(ev.Paths) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, sink := range n.sinks {
		if err := sink.Apply(ctx, ev); err != nil {
			logger.Warn("invalidation sink failed",
				logger.Mount(ev.MountID),
				"reason", string(ev.Reason),
				"paths", len(ev.Paths),
				logger.Err(err))
		}
	}
}
