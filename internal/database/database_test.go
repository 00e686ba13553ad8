package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"beast_bridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	require.NotNil(t, db)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })
	return db
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const csvHeader = `'icao24','timestamp','registration','typecode','manufacturerName','model','operator','operatorCallsign','owner'` + "\n"

func TestNew(t *testing.T) {
	db := setupTestDB(t)

	populated, err := db.AircraftRepository().IsTablePopulated()
	require.NoError(t, err)
	assert.False(t, populated)
}

func TestInsertBatchAndLookup(t *testing.T) {
	repo := setupTestDB(t).AircraftRepository()

	err := repo.InsertBatch([]*models.AircraftInfo{
		{ICAO24: "4840D6", Registration: "PH-BXA", TypeCode: "B738", Operator: "KLM"},
		{ICAO24: "a12345", Registration: "N12345", Owner: "Private Owner"},
	})
	require.NoError(t, err)

	populated, err := repo.IsTablePopulated()
	require.NoError(t, err)
	assert.True(t, populated)

	info, err := repo.Lookup("4840d6")
	require.NoError(t, err)
	assert.Equal(t, "4840d6", info.ICAO24)
	assert.Equal(t, "PH-BXA", info.Registration)
	assert.Equal(t, "B738", info.TypeCode)
	assert.Equal(t, "KLM", info.Operator)

	info, err = repo.Lookup("A12345")
	require.NoError(t, err)
	assert.Equal(t, "Private Owner", info.Owner)

	_, err = repo.Lookup("FFFFFF")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInsertBatch_Empty(t *testing.T) {
	repo := setupTestDB(t).AircraftRepository()
	assert.NoError(t, repo.InsertBatch(nil))
}

func TestInsertBatch_Replaces(t *testing.T) {
	repo := setupTestDB(t).AircraftRepository()

	require.NoError(t, repo.InsertBatch([]*models.AircraftInfo{{ICAO24: "4840d6", Registration: "OLD"}}))
	require.NoError(t, repo.InsertBatch([]*models.AircraftInfo{{ICAO24: "4840d6", Registration: "PH-BXA"}}))

	info, err := repo.Lookup("4840d6")
	require.NoError(t, err)
	assert.Equal(t, "PH-BXA", info.Registration)
}

func TestLoadFromMultipleCSV(t *testing.T) {
	repo := setupTestDB(t).AircraftRepository()

	part1 := writeCSV(t, "part1.csv", csvHeader+
		`'4840d6','2024-01-01','PH-BXA','B738','Boeing','737-8K2','KLM','KLM',''`+"\n"+
		`'','2024-01-01','NOADDR','','','','','',''`+"\n"+
		`'short','row'`+"\n")
	part2 := writeCSV(t, "part2.csv", csvHeader+
		`'a12345','2024-01-01','N12345','C172','Cessna','172S','','','Private Owner'`+"\n")

	require.NoError(t, repo.LoadFromMultipleCSV([]string{part1, part2}, 1))

	info, err := repo.Lookup("4840D6")
	require.NoError(t, err)
	assert.Equal(t, "PH-BXA", info.Registration)
	assert.Equal(t, "737-8K2", info.Model)

	info, err = repo.Lookup("A12345")
	require.NoError(t, err)
	assert.Equal(t, "C172", info.TypeCode)

	_, err = repo.Lookup("short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFromMultipleCSV_MissingFile(t *testing.T) {
	repo := setupTestDB(t).AircraftRepository()
	err := repo.LoadFromMultipleCSV([]string{filepath.Join(t.TempDir(), "missing.csv")}, 10)
	assert.Error(t, err)
}

// countingRepository wraps a repository and counts lookups
type countingRepository struct {
	AircraftRepository
	lookups int
}

func (r *countingRepository) Lookup(icao24 string) (*models.AircraftInfo, error) {
	r.lookups++
	return r.AircraftRepository.Lookup(icao24)
}

func TestRegistry_EnrichAndCache(t *testing.T) {
	repo := setupTestDB(t).AircraftRepository()
	require.NoError(t, repo.InsertBatch([]*models.AircraftInfo{
		{ICAO24: "4840d6", Registration: "PH-BXA", TypeCode: "B738", Operator: "KLM"},
		{ICAO24: "a12345", Registration: "N12345", Owner: "Private Owner"},
	}))

	counting := &countingRepository{AircraftRepository: repo}
	reg := NewRegistry(counting)

	aircraft := []models.Aircraft{{Hex: "4840D6"}, {Hex: "A12345"}, {Hex: "FFFFFF"}}
	reg.Enrich(aircraft)

	require.NotNil(t, aircraft[0].Registration)
	assert.Equal(t, "PH-BXA", *aircraft[0].Registration)
	assert.Equal(t, "B738", *aircraft[0].TypeCode)
	assert.Equal(t, "KLM", *aircraft[0].Operator)
	assert.Equal(t, "Private Owner", *aircraft[1].Operator)
	assert.Nil(t, aircraft[2].Registration)

	reg.Enrich([]models.Aircraft{{Hex: "4840D6"}, {Hex: "FFFFFF"}})
	assert.Equal(t, 3, counting.lookups, "hits and misses are both cached")
}

func TestOpenRegistry_LoadsCSVWhenEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	csvPath := writeCSV(t, "part1.csv", csvHeader+
		`'4840d6','2024-01-01','PH-BXA','B738','Boeing','737-8K2','KLM','KLM',''`+"\n")

	reg, err := OpenRegistry(dbPath, []string{csvPath})
	require.NoError(t, err)
	info := reg.Lookup("4840D6")
	require.NotNil(t, info)
	assert.Equal(t, "PH-BXA", info.Registration)
	require.NoError(t, reg.Close())

	// second open finds the table populated and skips the missing CSV
	reg, err = OpenRegistry(dbPath, []string{filepath.Join(t.TempDir(), "gone.csv")})
	require.NoError(t, err)
	assert.NotNil(t, reg.Lookup("4840D6"))
	require.NoError(t, reg.Close())
}
