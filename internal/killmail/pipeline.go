package killmail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-wanderer/internal/dedup"
	"go-wanderer/internal/notifier"
	"go-wanderer/internal/tracking"
)

// DefaultQueueSize bounds the enrichment-to-dispatch queue.
const DefaultQueueSize = 500

// LicenseGate is the slice of the license service the pipeline needs.
type LicenseGate interface {
	NotificationsAllowed(ctx context.Context) bool
	CountNotification(kind string)
}

// ProcessingStats feed the telemetry collector.
type ProcessingStats struct {
	Received        int64   `json:"received"`
	Duplicates      int64   `json:"duplicates"`
	Enriched        int64   `json:"enriched"`
	EnrichFailed    int64   `json:"enrich_failed"`
	Notified        int64   `json:"notified"`
	Skipped         int64   `json:"skipped"`
	Backpressure    int64   `json:"backpressure"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
	QueueDepth      int     `json:"queue_depth"`
}

// Pipeline runs killmail references through dedup, enrichment, the tracking
// filter and formatting, then hands notifications to the dispatcher.
type Pipeline struct {
	dedup      *dedup.Service
	enricher   *Enricher
	registry   *tracking.Registry
	license    LicenseGate
	dispatcher *notifier.Dispatcher
	override   *Override

	refs chan Reference
	out  chan *Enriched

	workers int
	wg      sync.WaitGroup

	received     atomic.Int64
	duplicates   atomic.Int64
	enriched     atomic.Int64
	enrichFailed atomic.Int64
	notified     atomic.Int64
	skipped      atomic.Int64
	backpressure atomic.Int64
	totalNanos   atomic.Int64
	timedCount   atomic.Int64
}

// PipelineConfig wires the pipeline.
type PipelineConfig struct {
	Dedup      *dedup.Service
	Enricher   *Enricher
	Registry   *tracking.Registry
	License    LicenseGate
	Dispatcher *notifier.Dispatcher
	Override   *Override
	// Workers bounds concurrent enrichment; <= 0 uses the enricher default.
	Workers int
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
}

// NewPipeline creates a stopped pipeline; call Run to start the workers.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = cfg.Enricher.workers
	}
	return &Pipeline{
		dedup:      cfg.Dedup,
		enricher:   cfg.Enricher,
		registry:   cfg.Registry,
		license:    cfg.License,
		dispatcher: cfg.Dispatcher,
		override:   cfg.Override,
		refs:       make(chan Reference, size),
		out:        make(chan *Enriched, size),
		workers:    workers,
	}
}

// Run starts the enrichment workers and the dispatch stage, returning when
// ctx is cancelled and the workers have drained.
func (p *Pipeline) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.enrichWorker(ctx)
	}
	p.wg.Add(1)
	go p.dispatchWorker(ctx)
	p.wg.Wait()
}

// Submit runs receive, normalise and dedup for one feed package, then queues
// it for enrichment. Order across killmails is not preserved past this point.
func (p *Pipeline) Submit(ctx context.Context, pkg *Package) error {
	p.received.Add(1)

	ref := Reference{
		KillmailID: pkg.KillmailID,
		Hash:       pkg.ZKB.Hash,
		TotalValue: pkg.ZKB.TotalValue,
		Points:     pkg.ZKB.Points,
		NPC:        pkg.ZKB.NPC,
		Solo:       pkg.ZKB.Solo,
		ReceivedAt: time.Now(),
	}
	if ref.Hash == "" {
		return fmt.Errorf("killmail %d missing hash", ref.KillmailID)
	}

	if p.dedup.Check("kill", ref.KillmailID) == dedup.Duplicate {
		p.duplicates.Add(1)
		p.dedup.MarkKillStatus(ref.KillmailID, "skipped", SkipDuplicate)
		slog.DebugContext(ctx, "Duplicate killmail skipped", "killmail_id", ref.KillmailID)
		return nil
	}

	// Single shot: the armed path applies to this killmail only.
	if p.override != nil {
		ref.Forced = p.override.Consume()
	}

	select {
	case p.refs <- ref:
		return nil
	default:
		p.backpressure.Add(1)
		p.dedup.MarkKillStatus(ref.KillmailID, "skipped", SkipBackpressure)
		slog.WarnContext(ctx, "Killmail rejected, enrichment queue full", "killmail_id", ref.KillmailID)
		return nil
	}
}

// InjectMapKill feeds a stream map_kill payload into the pipeline.
func (p *Pipeline) InjectMapKill(ctx context.Context, payload map[string]any) error {
	id, ok := numField(payload, "killmail_id")
	if !ok {
		id, ok = numField(payload, "killID")
	}
	if !ok {
		return fmt.Errorf("map_kill payload missing killmail_id")
	}
	hash, _ := payload["hash"].(string)
	if hash == "" {
		if zkb, ok := payload["zkb"].(map[string]any); ok {
			hash, _ = zkb["hash"].(string)
		}
	}

	return p.Submit(ctx, &Package{KillmailID: id, ZKB: ZKB{Hash: hash}})
}

func (p *Pipeline) enrichWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-p.refs:
			p.enrichOne(ctx, ref)
		}
	}
}

func (p *Pipeline) enrichOne(ctx context.Context, ref Reference) {
	enriched, err := p.enricher.Enrich(ctx, ref)
	if err != nil {
		p.enrichFailed.Add(1)
		p.dedup.MarkKillStatus(ref.KillmailID, "failed", SkipEnrichFailed)
		slog.ErrorContext(ctx, "Killmail enrichment failed", "killmail_id", ref.KillmailID, "error", err)
		return
	}
	p.enriched.Add(1)

	// Bounded handoff: the newest result is rejected when the dispatch stage
	// cannot keep up, never the in-flight ones.
	select {
	case p.out <- enriched:
	default:
		p.backpressure.Add(1)
		p.dedup.MarkKillStatus(ref.KillmailID, "skipped", SkipBackpressure)
		slog.WarnContext(ctx, "Killmail rejected, dispatch queue full", "killmail_id", ref.KillmailID)
	}
}

func (p *Pipeline) dispatchWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case enriched := <-p.out:
			p.finish(ctx, enriched)
		}
	}
}

// finish runs filter, format and dispatch for one enriched killmail.
func (p *Pipeline) finish(ctx context.Context, e *Enriched) {
	defer func() {
		p.totalNanos.Add(int64(time.Since(e.Reference.ReceivedAt)))
		p.timedCount.Add(1)
	}()

	relevant, why := p.relevance(e)
	if !relevant {
		p.skipped.Add(1)
		p.dedup.MarkKillStatus(e.Reference.KillmailID, "skipped", SkipNoTrackedEntity)
		slog.DebugContext(ctx, "Killmail not relevant", "killmail_id", e.Reference.KillmailID)
		return
	}

	if !p.license.NotificationsAllowed(ctx) {
		p.skipped.Add(1)
		p.dedup.MarkKillStatus(e.Reference.KillmailID, "skipped", SkipLicense)
		return
	}

	n := formatKill(e, why)
	if err := p.dispatcher.Enqueue(n); err != nil {
		p.skipped.Add(1)
		p.dedup.MarkKillStatus(e.Reference.KillmailID, "skipped", SkipBackpressure)
		return
	}

	p.notified.Add(1)
	p.license.CountNotification("kill")
	p.dedup.MarkKillStatus(e.Reference.KillmailID, "notified", why)
	slog.InfoContext(ctx, "Killmail notification dispatched",
		"killmail_id", e.Reference.KillmailID,
		"system", e.SystemName,
		"value", e.Reference.TotalValue,
		"reason", why)
}

// relevance applies the tracking filter, honouring a forced path.
func (p *Pipeline) relevance(e *Enriched) (bool, string) {
	switch e.Reference.Forced {
	case ForcedSystem:
		return true, "forced_system"
	case ForcedCharacter:
		return true, "forced_character"
	}

	if e.VictimCharacterID != nil && p.registry.IsTrackedCharacter(*e.VictimCharacterID) {
		return true, "tracked_victim"
	}
	for _, id := range e.AttackerCharacterIDs {
		if p.registry.IsTrackedCharacter(id) {
			return true, "tracked_attacker"
		}
	}
	if p.registry.IsTrackedSystem(e.SolarSystemID) {
		return true, "tracked_system"
	}
	return false, SkipNoTrackedEntity
}

// Stats snapshots the pipeline counters.
func (p *Pipeline) Stats() ProcessingStats {
	st := ProcessingStats{
		Received:     p.received.Load(),
		Duplicates:   p.duplicates.Load(),
		Enriched:     p.enriched.Load(),
		EnrichFailed: p.enrichFailed.Load(),
		Notified:     p.notified.Load(),
		Skipped:      p.skipped.Load(),
		Backpressure: p.backpressure.Load(),
		QueueDepth:   len(p.refs) + len(p.out),
	}
	if n := p.timedCount.Load(); n > 0 {
		st.AvgProcessingMs = float64(p.totalNanos.Load()) / float64(n) / 1e6
	}
	return st
}

func numField(payload map[string]any, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
