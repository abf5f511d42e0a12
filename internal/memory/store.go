package memory

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/metisos/arccore/internal/config"
)

// Store is the three-tier memory container: an in-process working FIFO plus
// the SQLite-backed episodic and semantic tiers. Contextual gating happens
// upstream of Record; the store enforces only the capacity invariants.
type Store struct {
	cfg     config.MemoryConfig
	working *WorkingMemory
	engine  *Engine
	scorer  Scorer
	log     *log.Logger
}

func NewStore(cfg config.MemoryConfig, scorer Scorer) (*Store, error) {
	if scorer == nil {
		scorer = NewHashingScorer()
	}
	engine, err := NewEngine(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open memory engine: %w", err)
	}
	s := &Store{
		cfg:    cfg,
		engine: engine,
		scorer: scorer,
		log:    log.WithPrefix("memory"),
	}
	s.working = NewWorkingMemory(cfg.WorkingCapacity, s.onWorkingEvict)
	return s, nil
}

func (s *Store) Close() error {
	return s.engine.Close()
}

func (s *Store) Scorer() Scorer { return s.scorer }

// Record inserts an interaction into working memory. Eviction beyond the
// working cap promotes the evicted item into the episodic tier with the
// salience it was recorded at.
func (s *Store) Record(it Interaction) {
	it.TierOrigin = TierWorking
	s.working.Add(it)
}

func (s *Store) onWorkingEvict(it Interaction) {
	if err := s.PromoteToEpisodic(it, it.Salience); err != nil {
		s.log.Error("promote evicted interaction", "err", err)
	}
}

// PromoteToEpisodic inserts an interaction into the episodic tier, evicting
// the lowest (salience, age) row when over capacity.
func (s *Store) PromoteToEpisodic(it Interaction, salience float64) error {
	it.TierOrigin = TierEpisodic
	var embedding []byte
	if vec := s.scorer.Vector(it.Input + " " + it.Response); len(vec) > 0 {
		if blob, err := EncodeVector(vec); err == nil {
			embedding = blob
		}
	}
	return s.engine.InsertEpisode(it, salience, embedding, s.cfg.EpisodicCapacity)
}

// Novelty scores how unfamiliar input is relative to everything stored:
// 1 - max similarity over working items and episodic rows. An empty memory
// makes everything maximally novel.
func (s *Store) Novelty(input string) float64 {
	maxSim := 0.0
	for _, it := range s.working.Items() {
		if sim := s.scorer.Similarity(input, it.Input+" "+it.Response); sim > maxSim {
			maxSim = sim
		}
	}
	queryVec := s.scorer.Vector(input)
	rows, err := s.engine.VectorRows()
	if err != nil {
		s.log.Warn("novelty vector scan", "err", err)
	}
	for _, row := range rows {
		vec, err := DecodeVector(row.Embedding)
		if err != nil {
			continue
		}
		sim, err := CosineSimilarity(queryVec, vec)
		if err != nil || sim < 0 {
			continue
		}
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

// RetrieveContext returns, in priority order: all working items (oldest
// first), episodic rows above the similarity threshold by salience
// descending, then matching semantic concepts by reinforcement descending.
// The caller truncates to its context budget.
func (s *Store) RetrieveContext(query string) ([]ContextItem, error) {
	items := make([]ContextItem, 0)

	for _, it := range s.working.Items() {
		items = append(items, ContextItem{
			Tier:  TierWorking,
			Score: 1,
			Text:  formatTurn(it.Input, it.Response),
		})
	}

	episodic, err := s.episodicMatches(query)
	if err != nil {
		return nil, err
	}
	items = append(items, episodic...)

	concepts, err := s.engine.MatchConcepts(ExtractKeywords(query))
	if err != nil {
		return nil, fmt.Errorf("retrieve concepts: %w", err)
	}
	for _, c := range concepts {
		items = append(items, ContextItem{
			Tier:       TierSemantic,
			Score:      float64(c.Reinforcement),
			Text:       c.Key,
			ConceptKey: c.Key,
		})
	}
	return items, nil
}

// episodicMatches fuses FTS keyword candidates with a cosine scan over the
// stored feature vectors, keeps rows above the similarity threshold and
// orders them by salience descending (id ascending on ties).
func (s *Store) episodicMatches(query string) ([]ContextItem, error) {
	keywords := ExtractKeywords(query)
	queryVec := s.scorer.Vector(query)

	candidates := make(map[int64]Episode)

	ftsRows, err := s.engine.SearchFTS(keywords, 40)
	if err != nil {
		return nil, fmt.Errorf("retrieve episodic fts: %w", err)
	}
	for _, ep := range ftsRows {
		candidates[ep.ID] = ep
	}

	vecRows, err := s.engine.VectorRows()
	if err != nil {
		return nil, fmt.Errorf("retrieve episodic vectors: %w", err)
	}
	sims := make(map[int64]float64, len(vecRows))
	for _, row := range vecRows {
		vec, err := DecodeVector(row.Embedding)
		if err != nil {
			continue
		}
		sim, err := CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		sims[row.Episode.ID] = sim
		if sim > s.cfg.SimilarityThreshold {
			candidates[row.Episode.ID] = row.Episode
		}
	}

	matched := make([]Episode, 0, len(candidates))
	for id, ep := range candidates {
		if sims[id] > s.cfg.SimilarityThreshold {
			matched = append(matched, ep)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Salience == matched[j].Salience {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Salience > matched[j].Salience
	})

	items := make([]ContextItem, 0, len(matched))
	ids := make([]int64, 0, len(matched))
	for _, ep := range matched {
		items = append(items, ContextItem{
			Tier:      TierEpisodic,
			Score:     ep.Salience,
			Text:      formatTurn(ep.Interaction.Input, ep.Interaction.Response),
			EpisodeID: ep.ID,
		})
		ids = append(ids, ep.ID)
	}
	// Access bookkeeping is deferred off the read path so a sweep holding
	// the writer mutex never blocks retrieval.
	if len(ids) > 0 {
		go func() {
			if err := s.engine.TouchAll(ids); err != nil {
				s.log.Warn("touch episodes", "err", err)
			}
		}()
	}
	return items, nil
}

// Consolidate runs one sweep: unabsorbed episodes are grouped by concept
// key, and any group reaching the consolidation threshold creates or
// strengthens a semantic concept. Episodes are never deleted here; running
// a second sweep with no new interactions yields an empty report.
func (s *Store) Consolidate() (ConsolidationReport, error) {
	pending, err := s.engine.PendingEpisodes()
	if err != nil {
		return ConsolidationReport{}, fmt.Errorf("consolidate pending: %w", err)
	}

	groups := make(map[string][]int64)
	for _, ep := range pending {
		key := s.scorer.ConceptKey(ep.Interaction.Input + " " + ep.Interaction.Response)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], ep.ID)
	}
	for key, ids := range groups {
		if len(ids) < s.cfg.ConsolidationThreshold {
			delete(groups, key)
		}
	}

	report, err := s.engine.CommitSweep(groups, s.cfg.SalienceDecay)
	if err != nil {
		return report, fmt.Errorf("consolidate sweep: %w", err)
	}
	if !report.Empty() {
		s.log.Info("consolidation sweep",
			"created", report.ConceptsCreated,
			"strengthened", report.ConceptsStrengthened,
			"absorbed", report.EpisodesAbsorbed,
			"pruned", report.RefsPruned)
	}
	return report, nil
}

// Working exposes the working tier for inspection.
func (s *Store) Working() *WorkingMemory { return s.working }

// Episodes exposes the episodic tier in insertion order.
func (s *Store) Episodes() ([]Episode, error) { return s.engine.Episodes() }

// Concepts exposes the semantic tier, strongest first.
func (s *Store) Concepts() ([]Concept, error) { return s.engine.Concepts() }

func (s *Store) Stats() Stats {
	st := Stats{
		Working:         s.working.Len(),
		WorkingCapacity: s.working.Cap(),
		EpisodicCap:     s.cfg.EpisodicCapacity,
	}
	if n, err := s.engine.EpisodeCount(); err == nil {
		st.Episodic = n
	}
	if n, err := s.engine.ConceptCount(); err == nil {
		st.Semantic = n
	}
	if n, err := s.engine.PendingCount(); err == nil {
		st.PendingEpisodes = n
	}
	return st
}

func formatTurn(input, response string) string {
	if response == "" {
		return input
	}
	return input + " -> " + response
}
