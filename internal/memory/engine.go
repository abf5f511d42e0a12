package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Engine is the SQLite persistence layer for the episodic and semantic
// tiers. A single mutex serializes mutations; reads go straight to the
// connection pool so retrieval is never blocked by a sweep in progress.
type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			interaction_id TEXT NOT NULL DEFAULT '',
			input TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			tier_origin TEXT NOT NULL DEFAULT 'working',
			salience REAL NOT NULL DEFAULT 0.5,
			embedding BLOB,
			absorbed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_access INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_evict ON episodes(salience, id)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_absorbed ON episodes(absorbed)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS episodes_fts USING fts5(
			input,
			response,
			content='episodes',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS episodes_ai AFTER INSERT ON episodes BEGIN
			INSERT INTO episodes_fts(rowid, input, response) VALUES (new.id, new.input, new.response);
		END`,
		`CREATE TRIGGER IF NOT EXISTS episodes_ad AFTER DELETE ON episodes BEGIN
			INSERT INTO episodes_fts(episodes_fts, rowid, input, response) VALUES('delete', old.id, old.input, old.response);
		END`,
		`CREATE TABLE IF NOT EXISTS concepts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			reinforcement INTEGER NOT NULL DEFAULT 0,
			episode_refs TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_concepts_reinforcement ON concepts(reinforcement)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// InsertEpisode writes one episodic row and enforces the capacity bound:
// while over cap, the row with the lowest (salience, id) tuple is deleted.
// cap <= 0 makes the write a no-op.
func (e *Engine) InsertEpisode(it Interaction, salience float64, embedding []byte, cap int) error {
	if cap <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UnixNano()
	created := now
	if !it.Timestamp.IsZero() {
		created = it.Timestamp.UnixNano()
	}

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert episode: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO episodes (interaction_id, input, response, tier_origin, salience, embedding, created_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.Input, it.Response, string(it.TierOrigin), salience, embedding, created, now); err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM episodes`).Scan(&count); err != nil {
		return fmt.Errorf("count episodes: %w", err)
	}
	if count > cap {
		if _, err := tx.Exec(`
			DELETE FROM episodes WHERE id IN (
				SELECT id FROM episodes ORDER BY salience ASC, id ASC LIMIT ?
			)
		`, count-cap); err != nil {
			return fmt.Errorf("evict episodes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert episode: %w", err)
	}
	return nil
}

func (e *Engine) EpisodeCount() (int, error) {
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("episode count: %w", err)
	}
	return n, nil
}

func (e *Engine) PendingCount() (int, error) {
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM episodes WHERE absorbed = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

func (e *Engine) ConceptCount() (int, error) {
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM concepts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("concept count: %w", err)
	}
	return n, nil
}

const episodeColumns = `id, interaction_id, input, response, tier_origin, salience, absorbed, created_at, last_access, access_count`

// Episodes returns all episodic rows in insertion order.
func (e *Engine) Episodes() ([]Episode, error) {
	rows, err := e.db.Query(`SELECT ` + episodeColumns + ` FROM episodes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// PendingEpisodes returns episodes not yet absorbed into a concept.
func (e *Engine) PendingEpisodes() ([]Episode, error) {
	rows, err := e.db.Query(`SELECT ` + episodeColumns + ` FROM episodes WHERE absorbed = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// SearchFTS returns keyword-matched episodes ranked by bm25.
func (e *Engine) SearchFTS(keywords []string, limit int) ([]Episode, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ReplaceAll(strings.TrimSpace(k), `"`, "")
		if k != "" {
			quoted = append(quoted, `"`+k+`"`)
		}
	}
	if len(quoted) == 0 {
		return nil, nil
	}

	rows, err := e.db.Query(`
		SELECT `+prefixColumns("ep.", episodeColumns)+`
		FROM episodes ep
		JOIN episodes_fts f ON ep.id = f.rowid
		WHERE episodes_fts MATCH ?
		ORDER BY bm25(episodes_fts), ep.salience DESC
		LIMIT ?
	`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("search fts: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

type episodeVector struct {
	Episode   Episode
	Embedding []byte
}

// VectorRows returns every episode with a stored feature vector.
func (e *Engine) VectorRows() ([]episodeVector, error) {
	rows, err := e.db.Query(`SELECT ` + episodeColumns + `, embedding FROM episodes WHERE embedding IS NOT NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query vector rows: %w", err)
	}
	defer rows.Close()

	result := make([]episodeVector, 0)
	for rows.Next() {
		var ep Episode
		var absorbed int
		var createdAt, lastAccess int64
		var embedding []byte
		if err := rows.Scan(
			&ep.ID, &ep.Interaction.ID, &ep.Interaction.Input, &ep.Interaction.Response,
			&ep.Interaction.TierOrigin, &ep.Salience, &absorbed, &createdAt, &lastAccess,
			&ep.AccessCount, &embedding,
		); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		ep.Absorbed = absorbed == 1
		ep.CreatedAt = time.Unix(0, createdAt)
		ep.LastAccess = time.Unix(0, lastAccess)
		ep.Interaction.Timestamp = ep.CreatedAt
		ep.Interaction.Salience = ep.Salience
		result = append(result, episodeVector{Episode: ep, Embedding: embedding})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector rows: %w", err)
	}
	return result, nil
}

// TouchAll bumps access bookkeeping on retrieved episodes in one
// transaction. Callers run it off the read path; a sweep holding the
// writer mutex delays bookkeeping, never retrieval.
func (e *Engine) TouchAll(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin touch: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, id := range ids {
		if _, err := tx.Exec(`
			UPDATE episodes SET last_access = ?, access_count = access_count + 1 WHERE id = ?
		`, now, id); err != nil {
			return fmt.Errorf("touch episode: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit touch: %w", err)
	}
	return nil
}

// MatchConcepts returns concepts whose key is one of tokens, strongest
// first.
func (e *Engine) MatchConcepts(tokens []string) ([]Concept, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	args := make([]any, len(tokens))
	marks := make([]string, len(tokens))
	for i, t := range tokens {
		args[i] = t
		marks[i] = "?"
	}
	rows, err := e.db.Query(`
		SELECT id, key, reinforcement, episode_refs, created_at, updated_at
		FROM concepts
		WHERE key IN (`+strings.Join(marks, ",")+`)
		ORDER BY reinforcement DESC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("match concepts: %w", err)
	}
	defer rows.Close()
	return scanConcepts(rows)
}

// Concepts returns every semantic entry, strongest first.
func (e *Engine) Concepts() ([]Concept, error) {
	rows, err := e.db.Query(`
		SELECT id, key, reinforcement, episode_refs, created_at, updated_at
		FROM concepts ORDER BY reinforcement DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query concepts: %w", err)
	}
	defer rows.Close()
	return scanConcepts(rows)
}

// CommitSweep applies one consolidation sweep atomically: concepts are
// created or strengthened for each group, grouped episodes are marked
// absorbed (never deleted), dangling episode refs are pruned and, when the
// sweep absorbed anything, episodic salience decays by the configured
// factor. Readers see the pre- or post-sweep state, never a partial one.
func (e *Engine) CommitSweep(groups map[string][]int64, decay float64) (ConsolidationReport, error) {
	var report ConsolidationReport

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return report, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for key, ids := range groups {
		if key == "" || len(ids) == 0 {
			continue
		}
		var conceptID int64
		var refsJSON string
		var reinforcement int
		err := tx.QueryRow(`SELECT id, reinforcement, episode_refs FROM concepts WHERE key = ?`, key).
			Scan(&conceptID, &reinforcement, &refsJSON)
		switch {
		case err == sql.ErrNoRows:
			refs, mErr := json.Marshal(ids)
			if mErr != nil {
				return report, fmt.Errorf("marshal refs: %w", mErr)
			}
			if _, err := tx.Exec(`
				INSERT INTO concepts (key, reinforcement, episode_refs, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, key, len(ids), string(refs), now, now); err != nil {
				return report, fmt.Errorf("insert concept: %w", err)
			}
			report.ConceptsCreated++
		case err != nil:
			return report, fmt.Errorf("load concept: %w", err)
		default:
			var refs []int64
			if uErr := json.Unmarshal([]byte(refsJSON), &refs); uErr != nil {
				refs = nil
			}
			refs = append(refs, ids...)
			merged, mErr := json.Marshal(refs)
			if mErr != nil {
				return report, fmt.Errorf("marshal refs: %w", mErr)
			}
			if _, err := tx.Exec(`
				UPDATE concepts SET reinforcement = reinforcement + ?, episode_refs = ?, updated_at = ? WHERE id = ?
			`, len(ids), string(merged), now, conceptID); err != nil {
				return report, fmt.Errorf("strengthen concept: %w", err)
			}
			report.ConceptsStrengthened++
		}

		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE episodes SET absorbed = 1 WHERE id = ?`, id); err != nil {
				return report, fmt.Errorf("mark absorbed: %w", err)
			}
			report.EpisodesAbsorbed++
		}
	}

	pruned, err := pruneDanglingRefs(tx, now)
	if err != nil {
		return report, err
	}
	report.RefsPruned = pruned

	// Salience ages only when the sweep absorbed something; idle scheduled
	// sweeps leave the eviction order untouched.
	if report.EpisodesAbsorbed > 0 && decay > 0 && decay < 1 {
		if _, err := tx.Exec(`UPDATE episodes SET salience = salience * ?`, decay); err != nil {
			return report, fmt.Errorf("decay salience: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit sweep: %w", err)
	}
	return report, nil
}

// pruneDanglingRefs drops episode refs whose episodes were evicted.
// Reinforcement counts are untouched; refs are weak, not ownership.
func pruneDanglingRefs(tx *sql.Tx, now int64) (int, error) {
	rows, err := tx.Query(`SELECT id, episode_refs FROM concepts`)
	if err != nil {
		return 0, fmt.Errorf("query concept refs: %w", err)
	}
	type conceptRefs struct {
		id   int64
		refs []int64
	}
	all := make([]conceptRefs, 0)
	for rows.Next() {
		var cr conceptRefs
		var refsJSON string
		if err := rows.Scan(&cr.id, &refsJSON); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan concept refs: %w", err)
		}
		if err := json.Unmarshal([]byte(refsJSON), &cr.refs); err != nil {
			cr.refs = nil
		}
		all = append(all, cr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate concept refs: %w", err)
	}

	pruned := 0
	for _, cr := range all {
		kept := make([]int64, 0, len(cr.refs))
		for _, ref := range cr.refs {
			var exists int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM episodes WHERE id = ?`, ref).Scan(&exists); err != nil {
				return pruned, fmt.Errorf("check episode ref: %w", err)
			}
			if exists > 0 {
				kept = append(kept, ref)
			} else {
				pruned++
			}
		}
		if len(kept) != len(cr.refs) {
			merged, err := json.Marshal(kept)
			if err != nil {
				return pruned, fmt.Errorf("marshal pruned refs: %w", err)
			}
			if _, err := tx.Exec(`UPDATE concepts SET episode_refs = ?, updated_at = ? WHERE id = ?`, string(merged), now, cr.id); err != nil {
				return pruned, fmt.Errorf("update pruned refs: %w", err)
			}
		}
	}
	return pruned, nil
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	result := make([]Episode, 0)
	for rows.Next() {
		var ep Episode
		var absorbed int
		var createdAt, lastAccess int64
		if err := rows.Scan(
			&ep.ID, &ep.Interaction.ID, &ep.Interaction.Input, &ep.Interaction.Response,
			&ep.Interaction.TierOrigin, &ep.Salience, &absorbed, &createdAt, &lastAccess,
			&ep.AccessCount,
		); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Absorbed = absorbed == 1
		ep.CreatedAt = time.Unix(0, createdAt)
		ep.LastAccess = time.Unix(0, lastAccess)
		ep.Interaction.Timestamp = ep.CreatedAt
		ep.Interaction.Salience = ep.Salience
		result = append(result, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return result, nil
}

func scanConcepts(rows *sql.Rows) ([]Concept, error) {
	result := make([]Concept, 0)
	for rows.Next() {
		var c Concept
		var refsJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Key, &c.Reinforcement, &refsJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan concept: %w", err)
		}
		if err := json.Unmarshal([]byte(refsJSON), &c.EpisodeRefs); err != nil {
			c.EpisodeRefs = nil
		}
		c.CreatedAt = time.Unix(0, createdAt)
		c.UpdatedAt = time.Unix(0, updatedAt)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate concepts: %w", err)
	}
	return result, nil
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
