// Package engine is the entry point of the pruning engine for the host: the
// prune tool invoked by the acting model, the idle trigger, the transcript
// transform hook and per-session status.
package engine

import (
	"context"
	"net/http"
	"sync/atomic"

	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/janitor"
	"github.com/router-for-me/prunepilot/internal/persist"
	"github.com/router-for-me/prunepilot/internal/prune"
	"github.com/router-for-me/prunepilot/internal/session"
	"github.com/router-for-me/prunepilot/internal/tokens"
	log "github.com/sirupsen/logrus"
)

// Options select the strategies run by each trigger.
type Options struct {
	OnIdle []string
	// OnTool strategies run right after a manual prune.
	OnTool       []string
	Notification string
}

// Engine ties the session state, the janitor and the host together.
type Engine struct {
	host      session.Host
	sessions  *prune.SessionManager
	janitor   *janitor.Janitor
	estimator tokens.Estimator

	opts atomic.Pointer[Options]
}

func New(host session.Host, sessions *prune.SessionManager, j *janitor.Janitor, estimator tokens.Estimator, opts Options) *Engine {
	if estimator == nil {
		estimator = tokens.HeuristicEstimator{}
	}
	e := &Engine{host: host, sessions: sessions, janitor: j, estimator: estimator}
	e.SetOptions(opts)
	return e
}

// SetOptions swaps the trigger configuration.
func (e *Engine) SetOptions(opts Options) {
	if opts.Notification == "" {
		opts.Notification = prune.NotifyMinimal
	}
	e.opts.Store(&opts)
}

// Options returns the active trigger configuration.
func (e *Engine) Options() Options {
	return *e.opts.Load()
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *prune.SessionManager {
	return e.sessions
}

// SessionIDs lists the sessions held in memory.
func (e *Engine) SessionIDs() []string {
	return e.sessions.IDs()
}

// PruneByNumericIDs prunes the calls the acting model referenced by number.
// Every number must map to a known, unprotected, unpruned call; otherwise
// ErrInvalidPruneID is returned and nothing changes. Batches are expanded to
// their children.
func (e *Engine) PruneByNumericIDs(ctx context.Context, sessionID string, ids []int, reason string) (*janitor.PruningResult, error) {
	if len(ids) == 0 {
		return nil, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, "no ids to prune", nil)
	}
	msgs, err := e.host.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := e.sessions.Acquire(ctx, sessionID)
	sess.Sync(msgs)
	protected := e.sessions.Protected()

	var invalid []int
	actual := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, n := range ids {
		id, ok := sess.ResolveNumeric(n)
		if !ok {
			invalid = append(invalid, n)
			continue
		}
		rec, ok := sess.Record(id)
		if !ok || protected.Has(rec.Tool) || sess.IsPruned(id) {
			invalid = append(invalid, n)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		actual = append(actual, rec.ID)
	}
	if len(invalid) > 0 {
		log.WithFields(log.Fields{"session": sessionID, "ids": invalid}).Info("rejected prune request")
		return nil, apperrors.InvalidPruneID(invalid)
	}

	expanded := janitor.ExpandBatches(sess, actual)
	est, err := janitor.EstimateOutputs(ctx, e.estimator, msgs, expanded)
	if err != nil {
		return nil, err
	}
	added := sess.Apply(expanded, est, janitor.StrategyManual)
	opts := e.Options()
	res := &janitor.PruningResult{
		SessionID: sessionID,
		Trigger:   janitor.TriggerTool,
		PrunedIDs: added,
		Tokens:    est,
		Reasoning: reason,
	}
	res.Notification = janitor.Notify(ctx, e.host, sessionID, opts.Notification, prune.Report{
		Items:     janitor.ReportItems(sess, added),
		Tokens:    est,
		Reasoning: reason,
		Strategy:  janitor.StrategyManual,
	})
	log.WithFields(log.Fields{
		"session": sessionID,
		"pruned":  len(added),
		"tokens":  est,
	}).Info("manual prune applied")

	if e.janitor != nil && len(opts.OnTool) > 0 {
		// Best effort: the manual prune already succeeded.
		res.FollowUp, _ = e.janitor.RunWith(ctx, sessionID, janitor.TriggerTool, opts.OnTool)
	}
	return res, nil
}

// OnIdle runs the idle strategies for sessionID.
func (e *Engine) OnIdle(ctx context.Context, sessionID string) (*janitor.PruningResult, error) {
	if e.janitor == nil {
		return nil, nil
	}
	return e.janitor.RunWith(ctx, sessionID, janitor.TriggerIdle, e.Options().OnIdle)
}

// Analyze runs the janitor's configured strategies on demand.
func (e *Engine) Analyze(ctx context.Context, sessionID string) (*janitor.PruningResult, error) {
	if e.janitor == nil {
		return nil, nil
	}
	return e.janitor.RunAnalysis(ctx, sessionID, janitor.TriggerManual)
}

// TransformTranscript returns msgs as the model should see them: hidden
// messages are dropped and pruned tool outputs carry the placeholder. msgs is
// never modified.
func (e *Engine) TransformTranscript(ctx context.Context, sessionID string, msgs []session.Message) []session.Message {
	sess := e.sessions.Acquire(ctx, sessionID)
	out := make([]session.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Info.ID != "" && sess.IsMessagePruned(m.Info.ID) {
			continue
		}
		cp := m
		cp.Parts = make([]session.Part, len(m.Parts))
		for i, p := range m.Parts {
			if p.Type == session.PartTool && p.State != nil && p.CallID != "" && sess.IsPruned(p.CallID) {
				st := *p.State
				if st.Status == session.StatusCompleted {
					st.Output = prune.Placeholder
				}
				p.State = &st
			}
			cp.Parts[i] = p
		}
		out = append(out, cp)
	}
	return out
}

// HideMessages removes transcript messages from what the model sees.
func (e *Engine) HideMessages(ctx context.Context, sessionID string, messageIDs []string) int {
	return e.sessions.Acquire(ctx, sessionID).HideMessages(messageIDs)
}

// PrunableCall is one entry of the prunable list.
type PrunableCall struct {
	Number int    `json:"number"`
	ID     string `json:"id"`
	Tool   string `json:"tool"`
	Key    string `json:"key,omitempty"`
}

// Status is the observable state of one session.
type Status struct {
	SessionID      string         `json:"sessionId"`
	Phase          string         `json:"phase"`
	SinceLastPrune int            `json:"sinceLastPrune"`
	Tracked        int            `json:"tracked"`
	PrunedIDs      []string       `json:"prunedIds"`
	Prunable       []PrunableCall `json:"prunable"`
	Stats          persist.Stats  `json:"stats"`
}

// Status syncs sessionID with the host and reports its state.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Status, error) {
	msgs, err := e.host.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := e.sessions.Acquire(ctx, sessionID)
	sess.Sync(msgs)

	turn := sess.Turn()
	st := &Status{
		SessionID:      sessionID,
		Phase:          turn.Phase.String(),
		SinceLastPrune: turn.SinceLastPrune,
		Tracked:        len(sess.Records()),
		PrunedIDs:      sess.PrunedIDs(),
		Stats:          sess.Stats(),
		Prunable:       []PrunableCall{},
	}
	if st.PrunedIDs == nil {
		st.PrunedIDs = []string{}
	}
	for _, p := range sess.Prunable() {
		st.Prunable = append(st.Prunable, PrunableCall{Number: p.Number, ID: p.ID, Tool: p.Tool, Key: p.Key})
	}
	return st, nil
}

// Reset clears the prune state of sessionID.
func (e *Engine) Reset(ctx context.Context, sessionID string) {
	e.sessions.Reset(ctx, sessionID)
}
