package memory

import "time"

// Tier identifies which memory tier produced an item.
type Tier string

const (
	TierWorking  Tier = "working"
	TierEpisodic Tier = "episodic"
	TierSemantic Tier = "semantic"
)

// Interaction is one completed user turn. Immutable once recorded.
type Interaction struct {
	ID         string
	Input      string
	Response   string
	Timestamp  time.Time
	Salience   float64
	TierOrigin Tier
}

// Episode is an episodic-tier row: an interaction plus a decaying salience
// score. Absorbed marks episodes already counted into a semantic concept;
// absorbed episodes are still evictable and retrievable.
type Episode struct {
	ID          int64
	Interaction Interaction
	Salience    float64
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int
	Absorbed    bool
}

// Concept is a semantic-tier entry: an aggregated pattern keyed by its
// dominant phrase. EpisodeRefs are weak references; dangling ids are pruned
// lazily during sweeps.
type Concept struct {
	ID            int64
	Key           string
	Reinforcement int
	EpisodeRefs   []int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ContextItem is one ranked entry returned by RetrieveContext.
type ContextItem struct {
	Tier       Tier
	Score      float64
	Text       string
	EpisodeID  int64
	ConceptKey string
}

// ConsolidationReport summarizes one sweep.
type ConsolidationReport struct {
	ConceptsCreated      int
	ConceptsStrengthened int
	EpisodesAbsorbed     int
	RefsPruned           int
}

func (r ConsolidationReport) Empty() bool {
	return r.ConceptsCreated == 0 && r.ConceptsStrengthened == 0 && r.EpisodesAbsorbed == 0
}

// Stats is the per-tier occupancy snapshot used by status reporting.
type Stats struct {
	Working         int
	WorkingCapacity int
	Episodic        int
	EpisodicCap     int
	Semantic        int
	PendingEpisodes int
}
