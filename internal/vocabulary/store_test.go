package vocabulary

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

func seedIndex(t *testing.T, dataDir string, system domain.System) {
	t.Helper()
	path := filepath.Join(dataDir, indexFileName(system))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, configurePragmas(db))
	require.NoError(t, createSchema(context.Background(), db))

	attrs, _ := json.Marshal(map[string]string{"fsn": "Hypertensive disorder (disorder)"})
	_, err = db.Exec(`INSERT INTO concepts (code, display, attributes) VALUES (?, ?, ?)`,
		"38341003", "Hypertensive disorder", string(attrs))
	require.NoError(t, err)

	for _, form := range []string{"hypertension", "htn", "high blood pressure"} {
		_, err = db.Exec(`INSERT INTO normalized_terms (normalized_text, code) VALUES (?, ?)`, form, "38341003")
		require.NoError(t, err)
	}
}

func TestStore_GetByCodeAndLookupNormalized(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, domain.SystemSNOMED)

	store, err := Open(context.Background(), dir, []domain.System{domain.SystemSNOMED}, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	concept, err := store.GetByCode(context.Background(), domain.SystemSNOMED, "38341003")
	require.NoError(t, err)
	require.NotNil(t, concept)
	assert.Equal(t, "Hypertensive disorder", concept.Display)
	assert.ElementsMatch(t, []string{"hypertension", "htn", "high blood pressure"}, concept.NormalizedForms)

	concepts, err := store.LookupNormalized(context.Background(), domain.SystemSNOMED, "htn")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "38341003", concepts[0].Code)
}

func TestStore_UnknownSystem(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, domain.SystemSNOMED)

	store, err := Open(context.Background(), dir, []domain.System{domain.SystemSNOMED}, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetByCode(context.Background(), domain.SystemLOINC, "1234-5")
	require.Error(t, err)
	var mappingErr *domain.MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Equal(t, domain.ErrKindUnknownSystem, mappingErr.Kind)
}

func TestStore_ConceptCountAndSupportedSystems(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, domain.SystemSNOMED)

	store, err := Open(context.Background(), dir, []domain.System{domain.SystemSNOMED}, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 1, store.ConceptCount(domain.SystemSNOMED))
	assert.Equal(t, []domain.System{domain.SystemSNOMED}, store.SupportedSystems())
}

func TestBuildIndex(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "loinc_source.csv")
	content := "code,display,attributes_json,normalized_forms_json\n" +
		`2345-7,"Glucose","{""component"":""Glucose""}","[""glucose"",""blood glucose""]"` + "\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(content), 0o644))

	require.NoError(t, BuildIndex(context.Background(), dir, domain.SystemLOINC, csvPath))

	store, err := Open(context.Background(), dir, []domain.System{domain.SystemLOINC}, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	concepts, err := store.LookupNormalized(context.Background(), domain.SystemLOINC, "glucose")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "2345-7", concepts[0].Code)
}
