package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// MappingImportFile is the flat JSON schema accepted by the "setup
// import-mappings" command: a list of direct term->code mappings plus a
// list of synonym sets for terms already mapped in the same file.
//
// Ported from the standalone add_custom_mapping.py CLI script that shipped
// with the original terminology service: an operator-facing way to add a
// handful of mappings or synonyms without going through the full rules
// export/import round trip.
type MappingImportFile struct {
	Mappings []MappingEntry `json:"mappings"`
	Synonyms []SynonymEntry `json:"synonyms"`
}

// MappingEntry is one term->code mapping, matching add_custom_mapping.py's
// --term/--system/--code/--display flags.
type MappingEntry struct {
	Term    string `json:"term"`
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// SynonymEntry adds alternate surface forms for a term already present in
// the Mappings list of the same file, matching add_custom_mapping.py's
// --synonyms flag.
type SynonymEntry struct {
	Term     string   `json:"term"`
	Synonyms []string `json:"synonyms"`
}

// ExampleMappingImportFile returns the example JSON shape shown by
// add_custom_mapping.py's --examples flag.
func ExampleMappingImportFile() MappingImportFile {
	return MappingImportFile{
		Mappings: []MappingEntry{
			{Term: "hypertension", System: "SNOMED", Code: "38341003", Display: "Hypertensive disorder"},
		},
		Synonyms: []SynonymEntry{
			{Term: "hypertension", Synonyms: []string{"HTN", "high blood pressure", "hypertensive disorder"}},
		},
	}
}

// ImportMappings reads a MappingImportFile from path and adds each mapping
// and synonym as a CustomRule in engine. Mappings become EXACT_MATCH rules;
// synonyms become MANUAL_OVERRIDE rules targeting the same code as the
// canonical term they were declared against in the same file. A synonym
// whose canonical term has no mapping entry in the file is skipped and
// counted in skipped, since the rules store has nothing to target it at.
func ImportMappings(ctx context.Context, engine domain.RulesEngine, path, createdBy string, logger *logrus.Logger) (added int, skipped int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read mapping import file: %w", err)
	}

	var file MappingImportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, 0, fmt.Errorf("parse mapping import file: %w", err)
	}

	targets := make(map[string]domain.RuleTarget, len(file.Mappings))
	now := time.Now().UTC()

	for _, m := range file.Mappings {
		target := domain.RuleTarget{Code: m.Code, System: domain.System(m.System), Display: m.Display}
		rule := &domain.CustomRule{
			RuleID:     uuid.NewString(),
			RuleType:   domain.RuleExactMatch,
			Priority:   domain.PriorityMedium,
			SourceTerm: m.Term,
			Target:     target,
			CreatedAt:  now,
			UpdatedAt:  now,
			CreatedBy:  createdBy,
			IsActive:   true,
		}
		if verr := rule.Validate(); verr != nil {
			logger.WithError(verr).WithField("term", m.Term).Warn("skipping invalid mapping import entry")
			skipped++
			continue
		}
		if err := engine.Add(ctx, rule); err != nil {
			return added, skipped, fmt.Errorf("add mapping rule for %q: %w", m.Term, err)
		}
		targets[m.Term] = target
		added++
	}

	for _, s := range file.Synonyms {
		target, ok := targets[s.Term]
		if !ok {
			logger.WithField("term", s.Term).Warn("skipping synonym import: canonical term has no mapping in this file")
			skipped += len(s.Synonyms)
			continue
		}
		for _, syn := range s.Synonyms {
			rule := &domain.CustomRule{
				RuleID:     uuid.NewString(),
				RuleType:   domain.RuleManualOverride,
				Priority:   domain.PriorityMedium,
				SourceTerm: syn,
				Target:     target,
				Metadata:   map[string]string{"synonym_of": s.Term},
				CreatedAt:  now,
				UpdatedAt:  now,
				CreatedBy:  createdBy,
				IsActive:   true,
			}
			if verr := rule.Validate(); verr != nil {
				logger.WithError(verr).WithField("term", syn).Warn("skipping invalid synonym import entry")
				skipped++
				continue
			}
			if err := engine.Add(ctx, rule); err != nil {
				return added, skipped, fmt.Errorf("add synonym rule for %q: %w", syn, err)
			}
			added++
		}
	}

	return added, skipped, nil
}
