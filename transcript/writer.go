package transcript

import (
	"context"
	"slices"
	"time"

	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/conversation"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "transcript")

// ensure Writer implements conversation.Callback
var _ conversation.Callback = (*Writer)(nil)

// TimeNowFn returns the finish time of the records
var TimeNowFn = time.Now

// Writer saves a Record when a query ends, successful or not.
type Writer struct {
	callbacks.Noop

	store Store
}

// NewWriter returns the Writer saving to the store
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// OnQueryEnd saves the transcript of the query
func (w *Writer) OnQueryEnd(ctx context.Context, q *conversation.Query, messages []llms.Message, err error) {
	rec := &Record{
		ID:         q.ID,
		StartedAt:  q.StartedAt,
		FinishedAt: TimeNowFn().UTC(),
		Model:      q.Model,
		Query:      q.Text,
		Messages:   slices.Clone(messages),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	location, serr := w.store.Save(ctx, rec)
	if serr != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "transcript_failed",
			"id", q.ID,
			"err", serr.Error())
		return
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "transcript_saved",
		"id", q.ID,
		"location", location)
}
