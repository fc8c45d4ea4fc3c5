// Package scheduler drives the processing pipeline: pulling mail,
// triaging it through the analyzers, pushing outcomes back to the
// provider, and generating the daily brief.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/analysis"
	"mailmind/core/service/brief"
	"mailmind/core/service/intelligence"
	"mailmind/core/service/rules"
	"mailmind/pkg/apperr"
)

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline holds the single-run pipeline operations. The long-running
// Scheduler composes them; the CLI calls them directly.
type Pipeline struct {
	store     out.Store
	connector out.Connector // nil means local-only, apply becomes a no-op
	engine    *rules.Engine
	analyzers []analysis.Analyzer
	collab    *analysis.Collaborator
	index     *intelligence.Index
	briefs    *brief.Generator
	log       zerolog.Logger
	now       func() time.Time
}

func NewPipeline(
	store out.Store,
	connector out.Connector,
	engine *rules.Engine,
	analyzers []analysis.Analyzer,
	collab *analysis.Collaborator,
	index *intelligence.Index,
	briefs *brief.Generator,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:     store,
		connector: connector,
		engine:    engine,
		analyzers: analyzers,
		collab:    collab,
		index:     index,
		briefs:    briefs,
		log:       log.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

// ReloadRules loads builtin plus stored rules into the engine. Rules
// that fail to compile are persisted back with their reason so the CLI
// can show them as disabled.
func (p *Pipeline) ReloadRules(ctx context.Context) ([]rules.CompileIssue, error) {
	stored, err := p.store.Rules().List(ctx, false)
	if err != nil {
		return nil, err
	}

	all := append(rules.BuiltinRules(), stored...)
	issues := p.engine.Load(all)

	for _, issue := range issues {
		for _, r := range stored {
			if r.ID != issue.RuleID {
				continue
			}
			r.CompileError = issue.Reason
			if err := p.store.Rules().Put(ctx, r); err != nil {
				p.log.Warn().Err(err).Str("rule_id", r.ID).Msg("failed to persist compile error")
			}
		}
	}
	return issues, nil
}

// RunPullOnce pulls one batch from the connector and persists it. The
// watermark advances only after every message of the batch is stored,
// so a crash mid-batch re-pulls rather than drops.
func (p *Pipeline) RunPullOnce(ctx context.Context, max int) (int, error) {
	if p.connector == nil {
		return 0, apperr.Validation("no connector configured")
	}

	since, err := p.store.State().GetWatermark(ctx, p.connector.Name())
	if err != nil {
		return 0, err
	}

	result, err := p.connector.Pull(ctx, since, max)
	if err != nil {
		p.logPipelineError(ctx, "", "pull", err, 1)
		return 0, err
	}

	for _, m := range result.Messages {
		if err := p.store.Messages().Upsert(ctx, m); err != nil {
			return 0, err
		}
	}
	if err := p.index.Fold(ctx, result.Messages); err != nil {
		p.log.Warn().Err(err).Msg("index fold failed after pull")
	}

	if result.NextSince.After(since) {
		if err := p.store.State().SetWatermark(ctx, p.connector.Name(), result.NextSince); err != nil {
			return 0, err
		}
	}
	p.log.Info().Int("messages", len(result.Messages)).Time("watermark", result.NextSince).Msg("pull complete")
	return len(result.Messages), nil
}

// PullSince pulls with an explicit lower bound, ignoring the stored
// watermark but still advancing it when the pull reaches further.
func (p *Pipeline) PullSince(ctx context.Context, since time.Time, max int) (int, error) {
	if p.connector == nil {
		return 0, apperr.Validation("no connector configured")
	}

	result, err := p.connector.Pull(ctx, since, max)
	if err != nil {
		return 0, err
	}
	for _, m := range result.Messages {
		if err := p.store.Messages().Upsert(ctx, m); err != nil {
			return 0, err
		}
	}
	if err := p.index.Fold(ctx, result.Messages); err != nil {
		p.log.Warn().Err(err).Msg("index fold failed after pull")
	}

	current, err := p.store.State().GetWatermark(ctx, p.connector.Name())
	if err != nil {
		return 0, err
	}
	if result.NextSince.After(current) {
		if err := p.store.State().SetWatermark(ctx, p.connector.Name(), result.NextSince); err != nil {
			return 0, err
		}
	}
	return len(result.Messages), nil
}

// TriageMessage runs one message through rules and analysis to a
// decision. Stage stamps make the operation resumable: stages already
// stamped are skipped, stages only stamp after their writes land.
func (p *Pipeline) TriageMessage(ctx context.Context, m *domain.Message, dryRun bool) (*domain.Decision, error) {
	if !m.Stamps.Has(domain.StageRulesApplied) {
		res := p.engine.Apply(m)
		if !dryRun {
			if err := p.store.Messages().Update(ctx, m); err != nil {
				return nil, err
			}
			at := p.now().UTC()
			for _, ruleID := range res.Fired {
				if err := p.store.Rules().RecordHit(ctx, ruleID, at); err != nil &&
					!apperr.IsKind(err, apperr.KindNotFound) {
					p.log.Warn().Err(err).Str("rule_id", ruleID).Msg("failed to record rule hit")
				}
			}
			if err := p.store.Messages().Stamp(ctx, m.ID, domain.StageRulesApplied); err != nil {
				return nil, err
			}
			m.Stamps = m.Stamps.Add(domain.StageRulesApplied)
		}
	}

	assessments := make([]*domain.Assessment, 0, len(p.analyzers))
	for _, a := range p.analyzers {
		if as := a.Analyze(ctx, m); as != nil {
			assessments = append(assessments, as)
		}
	}

	decision := p.collab.Decide(m, assessments)
	if dryRun {
		return decision, nil
	}

	if err := p.store.Decisions().Put(ctx, decision); err != nil {
		return nil, err
	}
	if err := p.store.Messages().Stamp(ctx, m.ID, domain.StageAnalyzed); err != nil {
		return nil, err
	}
	if err := p.store.Messages().Stamp(ctx, m.ID, domain.StageDecided); err != nil {
		return nil, err
	}
	m.Stamps = m.Stamps.Add(domain.StageAnalyzed)
	m.Stamps = m.Stamps.Add(domain.StageDecided)
	return decision, nil
}

// RunTriageOnce triages up to limit undecided messages. A failure on
// one message is logged and skipped; the batch keeps going.
func (p *Pipeline) RunTriageOnce(ctx context.Context, limit int, dryRun bool) ([]*domain.Decision, error) {
	if _, err := p.ReloadRules(ctx); err != nil {
		return nil, err
	}

	pending, err := p.store.Messages().ListMissingStamp(ctx, domain.StageDecided, limit)
	if err != nil {
		return nil, err
	}

	decisions := make([]*domain.Decision, 0, len(pending))
	for _, m := range pending {
		d, err := p.TriageMessage(ctx, m, dryRun)
		if err != nil {
			p.logPipelineError(ctx, m.ID, "analyze", err, 1)
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// RunApplyOnce pushes decided outcomes back to the provider and stamps
// labels_pushed. Transient connector failures leave the message
// unstamped so the next run retries it.
func (p *Pipeline) RunApplyOnce(ctx context.Context, limit int) (int, error) {
	pending, err := p.store.Messages().ListMissingStamp(ctx, domain.StageLabelsPushed, limit)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range pending {
		if !m.Stamps.Has(domain.StageDecided) {
			continue
		}
		d, err := p.store.Decisions().Get(ctx, m.ID)
		if err != nil {
			return applied, err
		}
		if d == nil {
			continue
		}

		if err := p.pushDecision(ctx, m, d); err != nil {
			p.logPipelineError(ctx, m.ID, "apply", err, 1)
			if apperr.IsKind(err, apperr.KindConnectorAuth) {
				return applied, err
			}
			continue
		}
		if err := p.store.Messages().Stamp(ctx, m.ID, domain.StageLabelsPushed); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (p *Pipeline) pushDecision(ctx context.Context, m *domain.Message, d *domain.Decision) error {
	if p.connector == nil || !p.connector.Capabilities().SupportsLabels {
		return nil
	}

	// A rule can mark the message read locally while the provider still
	// carries UNREAD from the pull; push that state change back.
	if m.IsRead && hasProviderLabel(m, "UNREAD") {
		if err := p.connector.MarkRead(ctx, m.ExternalID, true); err != nil {
			return err
		}
	}

	switch d.Bucket {
	case domain.BucketSpamFolder:
		return p.connector.ApplyLabels(ctx, m.ExternalID, []string{"MailMind/Spam"}, nil)
	case domain.BucketAutoArchive:
		if err := p.connector.Archive(ctx, m.ExternalID); err != nil {
			return err
		}
		return p.connector.ApplyLabels(ctx, m.ExternalID, []string{"MailMind/Archived"}, nil)
	case domain.BucketPriorityInbox:
		labels := append([]string{"MailMind/Priority"}, prefixLabels(d.AppliedLabels)...)
		return p.connector.ApplyLabels(ctx, m.ExternalID, labels, nil)
	default:
		if len(d.AppliedLabels) == 0 {
			return nil
		}
		return p.connector.ApplyLabels(ctx, m.ExternalID, prefixLabels(d.AppliedLabels), nil)
	}
}

func hasProviderLabel(m *domain.Message, label string) bool {
	for _, l := range m.ProviderLabels {
		if l == label {
			return true
		}
	}
	return false
}

func prefixLabels(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = "MailMind/" + l
	}
	return out
}

// GenerateBrief builds and persists the brief for one UTC date.
func (p *Pipeline) GenerateBrief(ctx context.Context, dateUTC string) (*domain.DailyBrief, error) {
	b, err := p.briefs.Generate(ctx, dateUTC)
	if err != nil {
		p.logPipelineError(ctx, "", "brief", err, 1)
		return nil, err
	}
	return b, nil
}

// PendingAnalysis reports how many messages received on the date still
// await a decision; the evening brief waits for zero.
func (p *Pipeline) PendingAnalysis(ctx context.Context, dateUTC string) (int, error) {
	msgs, err := p.store.Messages().ListByDateUTC(ctx, dateUTC)
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, m := range msgs {
		if !m.Stamps.Has(domain.StageDecided) {
			pending++
		}
	}
	return pending, nil
}

func (p *Pipeline) logPipelineError(ctx context.Context, messageID, phase string, err error, attempt int) {
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "UNCLASSIFIED"
	}
	logErr := p.store.Errors().Log(ctx, &domain.PipelineError{
		MessageID: messageID,
		Phase:     phase,
		Kind:      kind,
		Detail:    fmt.Sprintf("%v", err),
		Attempt:   attempt,
		LoggedAt:  p.now().UTC(),
	})
	if logErr != nil {
		p.log.Warn().Err(logErr).Msg("failed to persist pipeline error")
	}
	p.log.Warn().Err(err).Str("phase", phase).Str("message_id", messageID).Msg("pipeline step failed")
}
