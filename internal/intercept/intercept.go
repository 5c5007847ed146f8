// Package intercept rewrites outbound model requests: pruned tool outputs are
// replaced by a placeholder and pruning guidance is appended to the last user
// turn. The canonical transcript held by the host is never touched.
package intercept

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/router-for-me/prunepilot/internal/formats"
	"github.com/router-for-me/prunepilot/internal/metrics"
	"github.com/router-for-me/prunepilot/internal/prune"
	"github.com/router-for-me/prunepilot/internal/session"
	log "github.com/sirupsen/logrus"
)

// Options are the hot-reloadable knobs of the interceptor.
type Options struct {
	Enabled        bool
	InjectGuidance bool
	NudgeFrequency int
}

// DefaultOptions enables replacement and guidance with the default nudge.
func DefaultOptions() Options {
	return Options{Enabled: true, InjectGuidance: true, NudgeFrequency: prune.DefaultNudgeFrequency}
}

// Outcome describes one processed request.
type Outcome struct {
	Format   formats.Format
	Replaced int
	Injected bool
}

// Interceptor processes outbound request bodies.
type Interceptor struct {
	transcripts session.TranscriptSource
	sessions    *prune.SessionManager
	opts        atomic.Pointer[Options]
}

func New(transcripts session.TranscriptSource, sessions *prune.SessionManager, opts Options) *Interceptor {
	i := &Interceptor{transcripts: transcripts, sessions: sessions}
	i.SetOptions(opts)
	return i
}

// SetOptions swaps the options used by subsequent requests.
func (i *Interceptor) SetOptions(opts Options) {
	i.opts.Store(&opts)
}

// Options returns the active options.
func (i *Interceptor) Options() Options {
	return *i.opts.Load()
}

// Process returns the body to forward for sessionID. path selects the wire
// format when it is recognisable; otherwise the body shape decides. Any
// failure yields the original body: forwarding it untouched is always safe.
// The bool reports whether the returned body differs from body.
func (i *Interceptor) Process(ctx context.Context, sessionID, path string, body []byte) ([]byte, bool) {
	out, oc, err := i.process(ctx, sessionID, path, body)
	if err != nil {
		log.WithError(err).WithField("session", sessionID).Debug("request interception skipped")
		return body, false
	}
	if oc.Format == "" {
		return body, false
	}
	changed := oc.Replaced > 0 || oc.Injected
	metrics.RequestsRewritten.WithLabelValues(string(oc.Format), strconv.FormatBool(changed)).Inc()
	if oc.Replaced > 0 {
		metrics.OutputsReplaced.WithLabelValues(string(oc.Format)).Add(float64(oc.Replaced))
	}
	if !changed {
		return body, false
	}
	log.WithFields(log.Fields{
		"session":  sessionID,
		"format":   oc.Format,
		"replaced": oc.Replaced,
		"injected": oc.Injected,
	}).Debug("outbound request rewritten")
	return out, true
}

func (i *Interceptor) process(ctx context.Context, sessionID, path string, body []byte) (out []byte, oc Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, oc, err = nil, Outcome{}, fmt.Errorf("intercept: panic: %v", r)
		}
	}()

	opts := i.Options()
	if !opts.Enabled || sessionID == "" || len(body) == 0 {
		return body, oc, nil
	}
	adapter := formats.ForPath(path)
	if adapter == nil || !adapter.Detect(body) {
		adapter = formats.Detect(body)
	}
	if adapter == nil {
		return body, oc, nil
	}
	oc.Format = adapter.Format()

	msgs, err := i.transcripts.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, Outcome{}, err
	}
	sess := i.sessions.Acquire(ctx, sessionID)
	sess.Sync(msgs)

	out = body
	if opts.InjectGuidance {
		g := BuildGuidance(sess.Turn(), sess.Prunable(), opts.NudgeFrequency)
		if !g.Empty() {
			out, oc.Injected = g.inject(adapter, out)
		}
	}

	if !adapter.HasToolOutputs(out) {
		return out, oc, nil
	}
	for _, o := range adapter.ExtractToolOutputs(out, sess) {
		if !sess.IsPruned(o.ID) {
			continue
		}
		if next, ok := adapter.ReplaceToolOutput(out, sess, o.ID, prune.Placeholder); ok {
			out = next
			oc.Replaced++
		}
	}
	return out, oc, nil
}
