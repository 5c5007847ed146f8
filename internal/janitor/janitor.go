package janitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/prunepilot/internal/llm"
	"github.com/router-for-me/prunepilot/internal/metrics"
	"github.com/router-for-me/prunepilot/internal/prune"
	"github.com/router-for-me/prunepilot/internal/session"
	"github.com/router-for-me/prunepilot/internal/tokens"
	log "github.com/sirupsen/logrus"
)

// Triggers of an analysis pass.
const (
	TriggerIdle   = "idle"
	TriggerTool   = "tool"
	TriggerManual = "manual"
)

// Strategy names.
const (
	StrategyDeduplication = "deduplication"
	StrategyAIAnalysis    = "ai-analysis"
	StrategyManual        = "manual"
)

// Options are the hot-reloadable knobs of the janitor.
type Options struct {
	// Strategies run by the pass; unknown names are ignored.
	Strategies []string
	// Notification is off, minimal or detailed.
	Notification string
	// MinMessages is the transcript length below which the pass is a no-op.
	MinMessages     int
	AnalysisTimeout time.Duration
	// StrictModelSelection skips LLM analysis when only a fallback model was
	// reachable after a preferred one failed.
	StrictModelSelection bool
}

func (o Options) has(strategy string) bool {
	for _, s := range o.Strategies {
		if strings.EqualFold(strings.TrimSpace(s), strategy) {
			return true
		}
	}
	return false
}

// DefaultOptions runs both strategies with minimal notifications.
func DefaultOptions() Options {
	return Options{
		Strategies:      []string{StrategyDeduplication, StrategyAIAnalysis},
		Notification:    prune.NotifyMinimal,
		MinMessages:     3,
		AnalysisTimeout: 60 * time.Second,
	}
}

// PruningResult describes what a pass added to the prune set.
type PruningResult struct {
	SessionID   string   `json:"sessionId"`
	Trigger     string   `json:"trigger"`
	PrunedIDs   []string `json:"prunedIds"`
	DedupIDs    []string `json:"dedupIds,omitempty"`
	AnalysisIDs []string `json:"analysisIds,omitempty"`
	Tokens      int      `json:"tokens"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Model       string   `json:"model,omitempty"`
	Source      Source   `json:"source,omitempty"`
	FailedModel string   `json:"failedModel,omitempty"`
	// Dropped counts analysis ids that were not candidates.
	Dropped      int    `json:"dropped,omitempty"`
	Notification string `json:"notification,omitempty"`
	// FollowUp is the analysis pass run after a manual prune, if any.
	FollowUp *PruningResult `json:"followUp,omitempty"`
}

// Janitor runs analysis passes.
type Janitor struct {
	host      session.Host
	sessions  *prune.SessionManager
	selector  *ModelSelector
	generator llm.Generator
	estimator tokens.Estimator

	opts atomic.Pointer[Options]
}

func New(host session.Host, sessions *prune.SessionManager, selector *ModelSelector, generator llm.Generator, estimator tokens.Estimator, opts Options) *Janitor {
	if estimator == nil {
		estimator = tokens.HeuristicEstimator{}
	}
	j := &Janitor{
		host:      host,
		sessions:  sessions,
		selector:  selector,
		generator: generator,
		estimator: estimator,
	}
	j.SetOptions(opts)
	return j
}

// SetOptions swaps the options used by subsequent passes.
func (j *Janitor) SetOptions(opts Options) {
	if opts.MinMessages <= 0 {
		opts.MinMessages = 3
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 60 * time.Second
	}
	j.opts.Store(&opts)
}

// Options returns the active options.
func (j *Janitor) Options() Options {
	return *j.opts.Load()
}

// RunAnalysis runs one best-effort pass with the configured strategies.
func (j *Janitor) RunAnalysis(ctx context.Context, sessionID, trigger string) (*PruningResult, error) {
	return j.RunWith(ctx, sessionID, trigger, j.Options().Strategies)
}

// RunWith runs one best-effort pass with strategies. A nil result means
// nothing was pruned; a non-nil error explains why the pass aborted and is
// meant for logging only. Session state is only changed after every remote
// call of the pass succeeded.
func (j *Janitor) RunWith(ctx context.Context, sessionID, trigger string, strategies []string) (res *PruningResult, err error) {
	if len(strategies) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("janitor: panic: %v", r)
		}
		outcome := "noop"
		switch {
		case err != nil:
			outcome = "error"
			log.WithError(err).WithFields(log.Fields{"session": sessionID, "trigger": trigger}).Warn("prune analysis aborted")
		case res != nil:
			outcome = "pruned"
		}
		metrics.AnalysisRuns.WithLabelValues(trigger, outcome).Inc()
	}()
	opts := j.Options()
	opts.Strategies = strategies
	return j.run(ctx, sessionID, trigger, opts)
}

func (j *Janitor) run(ctx context.Context, sessionID, trigger string, opts Options) (*PruningResult, error) {

	info, err := j.host.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if info.IsSubagent() {
		return nil, nil
	}
	msgs, err := j.host.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) < opts.MinMessages {
		return nil, nil
	}

	sess := j.sessions.Acquire(ctx, sessionID)
	sess.Sync(msgs)
	protected := j.sessions.Protected()

	unpruned := sess.UnprunedIDs()
	var dedup prune.DedupResult
	if opts.has(StrategyDeduplication) {
		dedup = prune.DetectDuplicates(sess, terminalOnly(sess, unpruned), protected)
	}

	res := &PruningResult{SessionID: sessionID, Trigger: trigger}
	var llmIDs []string
	if opts.has(StrategyAIAnalysis) {
		candidates := analyzable(sess, unpruned, protected, dedup.Candidates)
		if len(candidates) > 0 {
			ids, aerr := j.analyze(ctx, sess, msgs, candidates, res, opts)
			if aerr != nil {
				// Exhaustion and model failures end the LLM part only; dedup
				// results are still applied below.
				if len(dedup.Candidates) == 0 {
					return nil, aerr
				}
				log.WithError(aerr).WithField("session", sessionID).Warn("llm analysis skipped, applying deduplication only")
			}
			llmIDs = ids
		}
	}

	if len(dedup.Candidates) == 0 && len(llmIDs) == 0 {
		return nil, nil
	}

	dedupTokens, err := EstimateOutputs(ctx, j.estimator, msgs, dedup.Candidates)
	if err != nil {
		return nil, err
	}
	llmTokens, err := EstimateOutputs(ctx, j.estimator, msgs, llmIDs)
	if err != nil {
		return nil, err
	}

	res.DedupIDs = sess.Apply(dedup.Candidates, dedupTokens, StrategyDeduplication)
	res.AnalysisIDs = sess.Apply(llmIDs, llmTokens, StrategyAIAnalysis)
	res.PrunedIDs = append(append([]string(nil), res.DedupIDs...), res.AnalysisIDs...)
	if len(res.PrunedIDs) == 0 {
		return nil, nil
	}
	if len(res.DedupIDs) > 0 {
		res.Tokens += dedupTokens
	}
	if len(res.AnalysisIDs) > 0 {
		res.Tokens += llmTokens
	}

	strategy := StrategyDeduplication
	switch {
	case len(res.DedupIDs) > 0 && len(res.AnalysisIDs) > 0:
		strategy = StrategyDeduplication + " + " + StrategyAIAnalysis
	case len(res.AnalysisIDs) > 0:
		strategy = StrategyAIAnalysis
	}
	res.Notification = j.notify(ctx, sess, opts.Notification, prune.Report{
		Items:     ReportItems(sess, res.PrunedIDs),
		Tokens:    res.Tokens,
		Reasoning: res.Reasoning,
		Strategy:  strategy,
	})

	log.WithFields(log.Fields{
		"session":  sessionID,
		"trigger":  trigger,
		"dedup":    len(res.DedupIDs),
		"analysis": len(res.AnalysisIDs),
		"tokens":   res.Tokens,
	}).Info("pruned tool outputs")
	return res, nil
}

// analyze selects a model, asks it for obsolete ids and returns the validated,
// batch-expanded answer.
func (j *Janitor) analyze(ctx context.Context, sess *prune.Session, msgs []session.Message, candidates []string, res *PruningResult, opts Options) ([]string, error) {
	if j.selector == nil || j.generator == nil {
		return nil, errors.New("janitor: no model backend configured")
	}
	provider, modelID := session.LastModel(msgs)
	sel, err := j.selector.Select(ctx, sess.ID, llm.Model{Provider: provider, ID: modelID})
	if err != nil {
		return nil, err
	}
	res.Model, res.Source, res.FailedModel = sel.Model.String(), sel.Source, sel.FailedModel
	if opts.StrictModelSelection && sel.Source == SourceFallback && sel.FailedModel != "" {
		log.WithFields(log.Fields{
			"session":      sess.ID,
			"model":        sel.Model.String(),
			"failed_model": sel.FailedModel,
		}).Info("strict model selection: skipping analysis on fallback model")
		return nil, nil
	}

	allowed := make(map[string]string, len(candidates))
	numbers := make([]int, 0, len(candidates))
	for _, id := range candidates {
		n := sess.NumericID(id)
		allowed[strings.ToLower(id)] = id
		numbers = append(numbers, n)
	}

	prompt := buildPrompt(minimize(session.SinceCompaction(msgs), sess, j.sessions.Protected()), numbers)
	callCtx, cancel := context.WithTimeout(ctx, opts.AnalysisTimeout)
	defer cancel()
	answer, err := j.generator.GenerateStructured(callCtx, sel.Model, analysisSchema, prompt)
	if err != nil {
		j.selector.Invalidate(sess.ID)
		return nil, err
	}
	res.Reasoning = strings.TrimSpace(answer.Get(fieldReasoning).String())

	var accepted []string
	seen := make(map[string]struct{})
	for _, raw := range answer.Get(fieldIDs).Array() {
		id, ok := resolveAnswer(sess, raw.String())
		if ok {
			id, ok = allowed[strings.ToLower(id)]
		}
		if !ok {
			res.Dropped++
			metrics.HallucinatedIDs.Inc()
			log.WithFields(log.Fields{
				"session": sess.ID,
				"id":      raw.String(),
				"model":   sel.Model.String(),
			}).Debug("dropped analysis id outside the candidate set")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		accepted = append(accepted, id)
	}
	return ExpandBatches(sess, accepted), nil
}

func resolveAnswer(sess *prune.Session, s string) (string, bool) {
	n, ok := parseNumericID(s)
	if !ok {
		return "", false
	}
	return sess.ResolveNumeric(n)
}

// ExpandBatches appends the recorded children of batch calls so a batch is
// never pruned partially.
func ExpandBatches(lookup prune.RecordLookup, ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	add := func(id string) {
		k := strings.ToLower(id)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, id)
	}
	for _, id := range ids {
		add(id)
		rec, ok := lookup.Get(id)
		if !ok {
			continue
		}
		for _, child := range rec.Children {
			if _, ok := lookup.Get(child); ok {
				add(child)
			}
		}
	}
	return out
}

// ReportItems describes ids for a notification.
func ReportItems(lookup prune.RecordLookup, ids []string) []prune.PrunedItem {
	items := make([]prune.PrunedItem, 0, len(ids))
	for _, id := range ids {
		rec, ok := lookup.Get(id)
		if !ok {
			continue
		}
		items = append(items, prune.PrunedItem{Tool: rec.Tool, Key: prune.PrimaryKey(rec.Params)})
	}
	return items
}

func (j *Janitor) notify(ctx context.Context, sess *prune.Session, mode string, report prune.Report) string {
	return Notify(ctx, j.host, sess.ID, mode, report)
}

// Notify renders report and shows it to the user of sessionID. Delivery
// failures are logged only. It returns the rendered text.
func Notify(ctx context.Context, sender session.GuidanceSender, sessionID, mode string, report prune.Report) string {
	text := prune.BuildNotification(mode, report)
	if text == "" || sender == nil {
		return text
	}
	if err := sender.SendGuidanceMessage(ctx, sessionID, text); err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("failed to send prune notification")
	}
	return text
}

// EstimateOutputs estimates the tokens held by the outputs of ids in msgs.
func EstimateOutputs(ctx context.Context, est tokens.Estimator, msgs []session.Message, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	outputs := outputsByCallID(msgs)
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		texts = append(texts, outputs[strings.ToLower(id)])
	}
	return tokens.EstimateBatch(ctx, est, texts)
}

// terminalOnly keeps ids whose call has finished; running calls have no
// output worth comparing yet.
func terminalOnly(sess *prune.Session, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, ok := sess.Record(id)
		if !ok {
			continue
		}
		if rec.Status == session.StatusCompleted || rec.Status == session.StatusError {
			out = append(out, id)
		}
	}
	return out
}

// analyzable is the LLM candidate set: finished, unpruned, unprotected calls
// that deduplication has not already claimed. Batch children are reached
// through their parent.
func analyzable(sess *prune.Session, unpruned []string, protected prune.Protected, dedup []string) []string {
	claimed := make(map[string]struct{}, len(dedup))
	for _, id := range dedup {
		claimed[strings.ToLower(id)] = struct{}{}
	}
	var out []string
	for _, id := range terminalOnly(sess, unpruned) {
		if _, ok := claimed[strings.ToLower(id)]; ok {
			continue
		}
		rec, _ := sess.Record(id)
		if protected.Has(rec.Tool) {
			continue
		}
		if rec.ParentCallID != "" {
			if _, ok := sess.Record(rec.ParentCallID); ok {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// outputsByCallID maps lower-cased call ids to their output or error text.
func outputsByCallID(msgs []session.Message) map[string]string {
	out := make(map[string]string)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Type != session.PartTool || p.State == nil || p.CallID == "" {
				continue
			}
			text := p.State.Output
			if text == "" {
				text = p.State.Error
			}
			out[strings.ToLower(p.CallID)] = text
		}
	}
	return out
}
