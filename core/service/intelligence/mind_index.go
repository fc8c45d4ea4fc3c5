// Package intelligence maintains the cross-message aggregates: sender
// profiles, thread profiles and the contact graph.
package intelligence

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mailmind/core/domain"
	"mailmind/core/port/out"

	"github.com/rs/zerolog"
)

// recentWindow bounds the "recent messages" counter on sender profiles.
const recentWindow = 30 * 24 * time.Hour

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the index. Readers get the whole
// snapshot atomically; folds publish a new one.
type Snapshot struct {
	Senders  map[string]*domain.SenderProfile
	Threads  map[string]*domain.ThreadProfile
	Contacts map[string]ContactStrength

	// keywordFreq backs TopKeywords; threadTimes backs rhythm and status.
	keywordFreq map[string]map[string]int
	threadMsgs  map[string][]threadEntry

	BuiltAt time.Time
}

type threadEntry struct {
	ID         string
	Subject    string
	Body       string
	Sender     string
	Recipients []string
	ReceivedAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Senders:     make(map[string]*domain.SenderProfile),
		Threads:     make(map[string]*domain.ThreadProfile),
		Contacts:    make(map[string]ContactStrength),
		keywordFreq: make(map[string]map[string]int),
		threadMsgs:  make(map[string][]threadEntry),
	}
}

// clone deep-copies the snapshot so folds never mutate a published view.
func (s *Snapshot) clone() *Snapshot {
	c := emptySnapshot()
	for k, v := range s.Senders {
		cp := *v
		c.Senders[k] = &cp
	}
	for k, v := range s.Threads {
		cp := *v
		c.Threads[k] = &cp
	}
	for k, v := range s.Contacts {
		c.Contacts[k] = v
	}
	for k, freq := range s.keywordFreq {
		m := make(map[string]int, len(freq))
		for w, n := range freq {
			m[w] = n
		}
		c.keywordFreq[k] = m
	}
	for k, v := range s.threadMsgs {
		c.threadMsgs[k] = append([]threadEntry(nil), v...)
	}
	c.BuiltAt = s.BuiltAt
	return c
}

// =============================================================================
// Index
// =============================================================================

// Config narrows relationship classification.
type Config struct {
	VIPAddresses    []string
	InternalDomains []string
}

// Index is the single-writer, snapshot-reader intelligence index.
type Index struct {
	cfg      Config
	profiles out.ProfileRepository
	log      zerolog.Logger

	mu       sync.Mutex // serializes folds and rebuilds
	current  atomic.Pointer[Snapshot]
	vips     map[string]bool
	internal map[string]bool

	// learnedWeights overrides senderImportance, maintained by the learner.
	learnedMu      sync.RWMutex
	learnedWeights map[string]float64
}

// New creates an index with an empty snapshot.
func New(cfg Config, profiles out.ProfileRepository, log zerolog.Logger) *Index {
	idx := &Index{
		cfg:            cfg,
		profiles:       profiles,
		log:            log.With().Str("component", "intelligence_index").Logger(),
		vips:           make(map[string]bool),
		internal:       make(map[string]bool),
		learnedWeights: make(map[string]float64),
	}
	for _, a := range cfg.VIPAddresses {
		idx.vips[normalizeAddr(a)] = true
	}
	for _, d := range cfg.InternalDomains {
		idx.internal[normalizeAddr(d)] = true
	}
	idx.current.Store(emptySnapshot())
	return idx
}

// Snapshot returns the current published view.
func (idx *Index) Snapshot() *Snapshot {
	return idx.current.Load()
}

// Sender returns the profile for an address, or nil when unknown.
func (idx *Index) Sender(address string) *domain.SenderProfile {
	return idx.Snapshot().Senders[normalizeAddr(address)]
}

// Thread returns the profile for a thread, or nil when unknown.
func (idx *Index) Thread(threadID string) *domain.ThreadProfile {
	return idx.Snapshot().Threads[threadID]
}

// Contact returns the graph strength for an address.
func (idx *Index) Contact(address string) ContactStrength {
	if s, ok := idx.Snapshot().Contacts[normalizeAddr(address)]; ok {
		return s
	}
	return StrengthNew
}

// Load hydrates the snapshot from persisted profiles, typically at startup.
func (idx *Index) Load(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	senders, err := idx.profiles.ListSenderProfiles(ctx)
	if err != nil {
		return err
	}
	threads, err := idx.profiles.ListThreadProfiles(ctx)
	if err != nil {
		return err
	}

	snap := emptySnapshot()
	for _, p := range senders {
		snap.Senders[normalizeAddr(p.Address)] = p
		snap.Contacts[normalizeAddr(p.Address)] = strengthFor(p.TotalMessages)
	}
	for _, t := range threads {
		snap.Threads[t.ThreadID] = t
	}
	snap.BuiltAt = time.Now()
	idx.current.Store(snap)

	idx.log.Info().Int("senders", len(senders)).Int("threads", len(threads)).Msg("index loaded")
	return nil
}

// Fold incrementally merges a persisted batch into the aggregates without
// re-reading history, then publishes and persists the new snapshot.
func (idx *Index) Fold(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := idx.Snapshot().clone()
	now := time.Now()

	touchedSenders := make(map[string]bool)
	touchedThreads := make(map[string]bool)

	for _, m := range msgs {
		addr := normalizeAddr(m.Sender.Address)
		if addr != "" {
			idx.foldSender(snap, m, now)
			touchedSenders[addr] = true
		}
		if m.ThreadID != "" {
			idx.foldThread(snap, m, now)
			touchedThreads[m.ThreadID] = true
		}
	}

	for addr := range touchedSenders {
		snap.Contacts[addr] = strengthFor(snap.Senders[addr].TotalMessages)
	}

	snap.BuiltAt = now
	idx.current.Store(snap)

	return idx.persist(ctx, snap, touchedSenders, touchedThreads)
}

// Rebuild recomputes every aggregate from the full message history.
// Operator-triggered; folds are the normal path.
func (idx *Index) Rebuild(ctx context.Context, messages out.MessageRepository) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := emptySnapshot()
	now := time.Now()

	const page = 500
	filter := &out.MessageFilter{Limit: page}
	for offset := 0; ; offset += page {
		filter.Offset = offset
		batch, _, err := messages.Query(ctx, filter)
		if err != nil {
			return err
		}
		for _, m := range batch {
			if normalizeAddr(m.Sender.Address) != "" {
				idx.foldSender(snap, m, now)
			}
			if m.ThreadID != "" {
				idx.foldThread(snap, m, now)
			}
		}
		if len(batch) < page {
			break
		}
	}

	all := make(map[string]bool, len(snap.Senders))
	for addr, p := range snap.Senders {
		snap.Contacts[addr] = strengthFor(p.TotalMessages)
		all[addr] = true
	}
	allThreads := make(map[string]bool, len(snap.Threads))
	for id := range snap.Threads {
		allThreads[id] = true
	}

	snap.BuiltAt = now
	idx.current.Store(snap)
	idx.log.Info().Int("senders", len(snap.Senders)).Int("threads", len(snap.Threads)).Msg("index rebuilt")

	return idx.persist(ctx, snap, all, allThreads)
}

func (idx *Index) persist(ctx context.Context, snap *Snapshot, senders, threads map[string]bool) error {
	sp := make([]*domain.SenderProfile, 0, len(senders))
	for addr := range senders {
		if p := snap.Senders[addr]; p != nil {
			sp = append(sp, p)
		}
	}
	tp := make([]*domain.ThreadProfile, 0, len(threads))
	for id := range threads {
		if t := snap.Threads[id]; t != nil {
			tp = append(tp, t)
		}
	}
	sort.Slice(sp, func(i, j int) bool { return sp[i].Address < sp[j].Address })
	sort.Slice(tp, func(i, j int) bool { return tp[i].ThreadID < tp[j].ThreadID })

	if len(sp) > 0 {
		if err := idx.profiles.PutSenderProfiles(ctx, sp); err != nil {
			return err
		}
	}
	if len(tp) > 0 {
		if err := idx.profiles.PutThreadProfiles(ctx, tp); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Sender Importance (learned overrides)
// =============================================================================

// SetLearnedWeights replaces the learner-maintained overrides.
func (idx *Index) SetLearnedWeights(weights map[string]float64) {
	cp := make(map[string]float64, len(weights))
	for k, v := range weights {
		cp[normalizeAddr(k)] = v
	}
	idx.learnedMu.Lock()
	idx.learnedWeights = cp
	idx.learnedMu.Unlock()
}

// SenderImportance returns the sender weight in [0,1]: the learned
// override when present, else the profile score, else a domain heuristic
// around the 0.4 unknown-sender baseline.
func (idx *Index) SenderImportance(address string) float64 {
	addr := normalizeAddr(address)

	idx.learnedMu.RLock()
	w, ok := idx.learnedWeights[addr]
	idx.learnedMu.RUnlock()
	if ok {
		return w
	}

	if p := idx.Snapshot().Senders[addr]; p != nil {
		return p.ImportanceScore / 100
	}

	if idx.internal[domainOf(addr)] {
		return 0.7
	}
	if idx.vips[addr] {
		return 0.8
	}
	return 0.4
}
