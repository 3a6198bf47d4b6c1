// Package vocabulary implements the Vocabulary Store (spec §4.2): a
// read-only, embedded index per coding system, backed by one SQLite file
// per system with a concept table, a normalized-term table, and an
// in-memory fuzzy term list loaded at initialization.
package vocabulary

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// systemStore is the per-system SQLite handle plus its in-memory fuzzy term
// list, loaded once at Open and never mutated afterward.
type systemStore struct {
	db    *sql.DB
	terms []domain.VocabularyTerm
}

// Store is the multi-system domain.VocabularyStore implementation.
type Store struct {
	dataDir string
	log     *logrus.Logger

	mu      sync.RWMutex
	systems map[domain.System]*systemStore
}

// Open opens (or, if absent, creates and schemas) one SQLite index file per
// configured system under dataDir, named "<system>.idx" per spec §6, and
// loads each system's fuzzy term list into memory.
func Open(ctx context.Context, dataDir string, systems []domain.System, logger *logrus.Logger) (*Store, error) {
	s := &Store{dataDir: dataDir, log: logger, systems: make(map[domain.System]*systemStore)}

	for _, system := range systems {
		path := filepath.Join(dataDir, indexFileName(system))
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, domain.NewVocabularyUnavailableError(system, fmt.Errorf("open %s: %w", path, err))
		}

		if err := configurePragmas(db); err != nil {
			db.Close()
			return nil, domain.NewVocabularyUnavailableError(system, err)
		}
		if err := createSchema(ctx, db); err != nil {
			db.Close()
			return nil, domain.NewVocabularyUnavailableError(system, err)
		}

		terms, err := loadTerms(ctx, db)
		if err != nil {
			db.Close()
			return nil, domain.NewVocabularyUnavailableError(system, err)
		}

		s.systems[system] = &systemStore{db: db, terms: terms}
		logger.WithFields(logrus.Fields{"system": system, "terms": len(terms), "path": path}).Info("vocabulary index opened")
	}

	return s, nil
}

func indexFileName(system domain.System) string {
	switch system {
	case domain.SystemSNOMED:
		return "snomed.idx"
	case domain.SystemLOINC:
		return "loinc.idx"
	case domain.SystemRxNorm:
		return "rxnorm.idx"
	default:
		return string(system) + ".idx"
	}
}

// configurePragmas sets journaling/cache pragmas appropriate for a
// read-heavy, mostly-read-only workload (spec §4.2): WAL mode and a large
// page cache.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS concepts (
			code TEXT PRIMARY KEY,
			display TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS normalized_terms (
			normalized_text TEXT NOT NULL,
			code TEXT NOT NULL,
			PRIMARY KEY (normalized_text, code)
		);
		CREATE INDEX IF NOT EXISTS idx_normalized_terms_text ON normalized_terms (normalized_text);
		CREATE INDEX IF NOT EXISTS idx_concepts_display ON concepts (display);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func loadTerms(ctx context.Context, db *sql.DB) ([]domain.VocabularyTerm, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT nt.code, nt.normalized_text, c.display
		FROM normalized_terms nt
		JOIN concepts c ON c.code = nt.code
	`)
	if err != nil {
		return nil, fmt.Errorf("load fuzzy term list: %w", err)
	}
	defer rows.Close()

	var terms []domain.VocabularyTerm
	for rows.Next() {
		var t domain.VocabularyTerm
		if err := rows.Scan(&t.Code, &t.Normalized, &t.Display); err != nil {
			return nil, fmt.Errorf("scan term row: %w", err)
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// GetByCode returns the concept with the given code in system, or nil with
// no error if the code is absent.
func (s *Store) GetByCode(ctx context.Context, system domain.System, code string) (*domain.Concept, error) {
	store, err := s.systemStore(system)
	if err != nil {
		return nil, err
	}

	var display, attrJSON string
	err = store.db.QueryRowContext(ctx, `SELECT display, attributes FROM concepts WHERE code = ?`, code).
		Scan(&display, &attrJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewVocabularyUnavailableError(system, err)
	}

	forms, err := s.normalizedFormsFor(ctx, store, code)
	if err != nil {
		return nil, err
	}

	return &domain.Concept{
		Code: code, System: system, Display: display,
		NormalizedForms: forms, Attributes: decodeAttributes(attrJSON),
	}, nil
}

// LookupNormalized returns every concept whose normalized-term table
// carries an exact entry for normalized (spec §4.2 invariant 4: normalized
// lookups are exact).
func (s *Store) LookupNormalized(ctx context.Context, system domain.System, normalized string) ([]*domain.Concept, error) {
	store, err := s.systemStore(system)
	if err != nil {
		return nil, err
	}

	rows, err := store.db.QueryContext(ctx, `
		SELECT c.code, c.display, c.attributes
		FROM normalized_terms nt JOIN concepts c ON c.code = nt.code
		WHERE nt.normalized_text = ?
	`, normalized)
	if err != nil {
		return nil, domain.NewVocabularyUnavailableError(system, err)
	}
	defer rows.Close()

	var concepts []*domain.Concept
	for rows.Next() {
		var code, display, attrJSON string
		if err := rows.Scan(&code, &display, &attrJSON); err != nil {
			return nil, domain.NewVocabularyUnavailableError(system, err)
		}
		concepts = append(concepts, &domain.Concept{
			Code: code, System: system, Display: display, Attributes: decodeAttributes(attrJSON),
		})
	}
	return concepts, rows.Err()
}

// IterTerms returns the system's in-memory fuzzy term list, loaded once at
// Open.
func (s *Store) IterTerms(ctx context.Context, system domain.System) ([]domain.VocabularyTerm, error) {
	store, err := s.systemStore(system)
	if err != nil {
		return nil, err
	}
	return store.terms, nil
}

// SearchPrefix returns up to limit concepts whose display starts with
// prefix, used by the Query Optimizer's prefix_scan hot path.
func (s *Store) SearchPrefix(ctx context.Context, system domain.System, prefix string, limit int) ([]*domain.Concept, error) {
	store, err := s.systemStore(system)
	if err != nil {
		return nil, err
	}

	rows, err := store.db.QueryContext(ctx, `
		SELECT code, display, attributes FROM concepts WHERE display LIKE ? ORDER BY display LIMIT ?
	`, prefix+"%", limit)
	if err != nil {
		return nil, domain.NewVocabularyUnavailableError(system, err)
	}
	defer rows.Close()

	var concepts []*domain.Concept
	for rows.Next() {
		var code, display, attrJSON string
		if err := rows.Scan(&code, &display, &attrJSON); err != nil {
			return nil, domain.NewVocabularyUnavailableError(system, err)
		}
		concepts = append(concepts, &domain.Concept{Code: code, System: system, Display: display, Attributes: decodeAttributes(attrJSON)})
	}
	return concepts, rows.Err()
}

// ConceptCount returns the live concept count for a system, used by
// GetSystemsInfo (spec §6, a supplemented feature per DESIGN.md).
func (s *Store) ConceptCount(system domain.System) int {
	store, err := s.systemStore(system)
	if err != nil {
		return 0
	}
	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM concepts`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// DB returns the raw per-system SQLite handle, used by the Query Optimizer
// to run prepared, cached, and batched lookups directly against the schema
// this package creates.
func (s *Store) DB(system domain.System) (*sql.DB, error) {
	store, err := s.systemStore(system)
	if err != nil {
		return nil, err
	}
	return store.db, nil
}

// SupportedSystems returns every system this store was opened for.
func (s *Store) SupportedSystems() []domain.System {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.System, 0, len(s.systems))
	for sys := range s.systems {
		out = append(out, sys)
	}
	return out
}

// Close closes every per-system database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for sys, store := range s.systems {
		if err := store.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s index: %w", sys, err)
		}
	}
	return firstErr
}

func (s *Store) systemStore(system domain.System) (*systemStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	store, ok := s.systems[system]
	if !ok {
		return nil, domain.NewUnknownSystemError(string(system))
	}
	return store, nil
}

func (s *Store) normalizedFormsFor(ctx context.Context, store *systemStore, code string) ([]string, error) {
	rows, err := store.db.QueryContext(ctx, `SELECT normalized_text FROM normalized_terms WHERE code = ?`, code)
	if err != nil {
		return nil, fmt.Errorf("load normalized forms: %w", err)
	}
	defer rows.Close()

	var forms []string
	for rows.Next() {
		var form string
		if err := rows.Scan(&form); err != nil {
			return nil, fmt.Errorf("scan normalized form: %w", err)
		}
		forms = append(forms, form)
	}
	return forms, rows.Err()
}

func decodeAttributes(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil
	}
	return attrs
}
