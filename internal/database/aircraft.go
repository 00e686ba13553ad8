package database

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"beast_bridge/internal/models"
)

// ErrNotFound is returned by Lookup for addresses missing from the registry
var ErrNotFound = errors.New("aircraft not found")

type AircraftRepository interface {
	InsertBatch(aircraft []*models.AircraftInfo) error
	IsTablePopulated() (bool, error)
	LoadFromMultipleCSV(csvPaths []string, batchSize int) error
	Lookup(icao24 string) (*models.AircraftInfo, error)
}

type aircraftRepository struct {
	db *sql.DB
}

func NewAircraftRepository(db *sql.DB) AircraftRepository {
	return &aircraftRepository{db: db}
}

// InsertBatch inserts one or more aircraft records in a single transaction
func (r *aircraftRepository) InsertBatch(aircraft []*models.AircraftInfo) error {
	if len(aircraft) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO aircraft (
		icao24, registration, typecode, manufacturerName, model,
		operator, operatorCallsign, owner
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ac := range aircraft {
		if _, err := stmt.Exec(
			strings.ToLower(ac.ICAO24), ac.Registration, ac.TypeCode,
			ac.ManufacturerName, ac.Model, ac.Operator,
			ac.OperatorCallsign, ac.Owner,
		); err != nil {
			return fmt.Errorf("failed to insert aircraft %s: %w", ac.ICAO24, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *aircraftRepository) IsTablePopulated() (bool, error) {
	var ignored int
	err := r.db.QueryRow("SELECT 1 FROM aircraft LIMIT 1").Scan(&ignored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check aircraft table: %w", err)
	}
	return true, nil
}

// Lookup finds one airframe by its 24-bit address in any case
func (r *aircraftRepository) Lookup(icao24 string) (*models.AircraftInfo, error) {
	var info models.AircraftInfo
	var registration, typeCode, manufacturer, model, operator, callsign, owner sql.NullString

	err := r.db.QueryRow(`SELECT icao24, registration, typecode, manufacturerName, model,
		operator, operatorCallsign, owner FROM aircraft WHERE icao24 = ?`,
		strings.ToLower(icao24),
	).Scan(&info.ICAO24, &registration, &typeCode, &manufacturer, &model, &operator, &callsign, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up aircraft %s: %w", icao24, err)
	}

	info.Registration = registration.String
	info.TypeCode = typeCode.String
	info.ManufacturerName = manufacturer.String
	info.Model = model.String
	info.Operator = operator.String
	info.OperatorCallsign = callsign.String
	info.Owner = owner.String
	return &info, nil
}

// LoadFromMultipleCSV loads aircraft-database CSV parts into the table. The
// header of the first part fixes the column layout for every later part.
func (r *aircraftRepository) LoadFromMultipleCSV(csvPaths []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	pending := make([]*models.AircraftInfo, 0, batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := r.InsertBatch(pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	var layout *csvLayout
	for _, csvPath := range csvPaths {
		err := readCSVPart(csvPath, &layout, func(info *models.AircraftInfo) error {
			pending = append(pending, info)
			if len(pending) < batchSize {
				return nil
			}
			return flush()
		})
		if err != nil {
			return err
		}
	}

	if err := flush(); err != nil {
		return fmt.Errorf("failed to insert final batch: %w", err)
	}
	return nil
}

// csvLayout maps column names to indexes for one aircraft-database export
type csvLayout struct {
	columns map[string]int
	width   int
}

func newCSVLayout(header []string) *csvLayout {
	l := &csvLayout{columns: make(map[string]int, len(header)), width: len(header)}
	for i, name := range header {
		l.columns[cleanCSVValue(name)] = i
	}
	return l
}

// field returns the named column of row, or "" when the export lacks it
func (l *csvLayout) field(row []string, name string) string {
	idx, ok := l.columns[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return cleanCSVValue(row[idx])
}

func (l *csvLayout) parse(row []string) (*models.AircraftInfo, bool) {
	if len(row) != l.width {
		return nil, false
	}
	info := &models.AircraftInfo{
		ICAO24:           l.field(row, "icao24"),
		Registration:     l.field(row, "registration"),
		TypeCode:         l.field(row, "typecode"),
		ManufacturerName: l.field(row, "manufacturerName"),
		Model:            l.field(row, "model"),
		Operator:         l.field(row, "operator"),
		OperatorCallsign: l.field(row, "operatorCallsign"),
		Owner:            l.field(row, "owner"),
	}
	return info, info.ICAO24 != ""
}

// readCSVPart streams one CSV file through emit. The first part read sets
// *layout; later parts reuse it and only skip their own header.
func readCSVPart(path string, layout **csvLayout, emit func(*models.AircraftInfo) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header from %s: %w", path, err)
	}
	if *layout == nil {
		*layout = newCSVLayout(header)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV record from %s: %w", path, err)
		}

		info, ok := (*layout).parse(row)
		if !ok {
			continue
		}
		if err := emit(info); err != nil {
			return fmt.Errorf("failed to insert batch from %s: %w", path, err)
		}
	}
}

func cleanCSVValue(v string) string {
	return strings.Trim(strings.TrimSpace(v), "'\"")
}
