package vocabulary

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// SourceRecord is one vocabulary source row at index-build time (spec §6):
// a concept plus the normalized forms that should resolve to it.
type SourceRecord struct {
	Code            string
	Display         string
	Attributes      map[string]string
	NormalizedForms []string
}

// BuildIndex reads source records from a CSV file (columns: code, display,
// attributes_json, normalized_forms_json) and writes them into the given
// system's SQLite index file, creating it if absent. This is the offline
// counterpart to Store.Open: indexes are rebuilt here, then opened
// read-only at runtime (spec §4.2).
func BuildIndex(ctx context.Context, dataDir string, system domain.System, sourcePath string) error {
	records, err := readSourceCSV(sourcePath)
	if err != nil {
		return fmt.Errorf("read vocabulary source %s: %w", sourcePath, err)
	}

	path := dataDir + string(os.PathSeparator) + indexFileName(system)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open index file for build: %w", err)
	}
	defer db.Close()

	if err := configurePragmas(db); err != nil {
		return err
	}
	if err := createSchema(ctx, db); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin build tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		attrJSON, err := json.Marshal(r.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes for %s: %w", r.Code, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO concepts (code, display, attributes) VALUES (?, ?, ?)`,
			r.Code, r.Display, string(attrJSON)); err != nil {
			return fmt.Errorf("insert concept %s: %w", r.Code, err)
		}
		for _, form := range r.NormalizedForms {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO normalized_terms (normalized_text, code) VALUES (?, ?)`,
				form, r.Code); err != nil {
				return fmt.Errorf("insert normalized form for %s: %w", r.Code, err)
			}
		}
	}

	return tx.Commit()
}

func readSourceCSV(path string) ([]SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 4

	var records []SourceRecord
	// Skip header row.
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return records, nil
		}
		return nil, err
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var attrs map[string]string
		if row[2] != "" {
			if err := json.Unmarshal([]byte(row[2]), &attrs); err != nil {
				return nil, fmt.Errorf("parse attributes for %s: %w", row[0], err)
			}
		}
		var forms []string
		if row[3] != "" {
			if err := json.Unmarshal([]byte(row[3]), &forms); err != nil {
				return nil, fmt.Errorf("parse normalized_forms for %s: %w", row[0], err)
			}
		}

		records = append(records, SourceRecord{Code: row[0], Display: row[1], Attributes: attrs, NormalizedForms: forms})
	}

	return records, nil
}

// MappingConfig is the JSON mapping_config file enumerating recognized
// systems and their display URIs (spec §6).
type MappingConfig struct {
	Systems []MappingConfigSystem `json:"systems"`
}

// MappingConfigSystem describes one recognized system entry.
type MappingConfigSystem struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URI         string `json:"uri"`
}

// LoadMappingConfig reads the mapping_config JSON file that enumerates
// recognized systems.
func LoadMappingConfig(path string) (*MappingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping config: %w", err)
	}
	var cfg MappingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mapping config: %w", err)
	}
	return &cfg, nil
}
