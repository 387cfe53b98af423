package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements the pipeline table primitives on PostgreSQL:
// COPY appends, insert-only merges via ON CONFLICT DO NOTHING, and
// transactional partition overwrites and rebuilds.
type PostgresStore struct {
	db *DB
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var stateVectorColumns = []string{
	"icao24", "callsign", "origin_country", "time_position", "last_contact",
	"longitude", "latitude", "baro_altitude", "on_ground", "velocity",
	"heading", "vertical_rate", "sensors", "geo_altitude", "squawk",
	"spi", "position_source", "ingestion_time", "source_file",
}

// AppendStateVectors bulk-loads rows with COPY in a single transaction.
func (s *PostgresStore) AppendStateVectors(ctx context.Context, rows []StateVector) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("silver_state_vectors", stateVectorColumns...))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				r.ICAO24, r.Callsign, r.OriginCountry, r.TimePosition, r.LastContact,
				r.Longitude, r.Latitude, r.BaroAltitude, r.OnGround, r.Velocity,
				r.Heading, r.VerticalRate, r.Sensors, r.GeoAltitude, r.Squawk,
				r.SPI, r.PositionSource, r.IngestionTime, r.SourceFile,
			); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("failed to copy state vector: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		return stmt.Close()
	})
}

// Contains reports whether sourceFile is in the ledger.
func (s *PostgresStore) Contains(ctx context.Context, sourceFile string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM silver_file_ledger WHERE source_file = $1)`,
		sourceFile,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return exists, nil
}

// AppendAll appends ledger entries in one transaction.
func (s *PostgresStore) AppendAll(ctx context.Context, sourceFiles []string, processedAt time.Time) error {
	if len(sourceFiles) == 0 {
		return nil
	}
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO silver_file_ledger (source_file, processed_at)
			SELECT unnest($1::text[]), $2
		`, pq.Array(sourceFiles), processedAt)
		if err != nil {
			return fmt.Errorf("failed to append ledger: %w", err)
		}
		return nil
	})
}

// LoadCheckpoint returns the last state vector id loaded into facts.
func (s *PostgresStore) LoadCheckpoint(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_state_vector_id FROM gold_loader_checkpoint WHERE id = 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return id, nil
}

// StateVectorsAfter returns rows with id > afterID ordered by id.
func (s *PostgresStore) StateVectorsAfter(ctx context.Context, afterID int64) ([]StateVector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, icao24, callsign, origin_country, time_position, last_contact,
		       longitude, latitude, baro_altitude, on_ground, velocity,
		       heading, vertical_rate, sensors, geo_altitude, squawk,
		       spi, position_source, ingestion_time, source_file
		FROM silver_state_vectors
		WHERE id > $1
		ORDER BY id
	`, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state vectors: %w", err)
	}
	defer rows.Close()

	var out []StateVector
	for rows.Next() {
		var r StateVector
		if err := rows.Scan(
			&r.ID, &r.ICAO24, &r.Callsign, &r.OriginCountry, &r.TimePosition, &r.LastContact,
			&r.Longitude, &r.Latitude, &r.BaroAltitude, &r.OnGround, &r.Velocity,
			&r.Heading, &r.VerticalRate, &r.Sensors, &r.GeoAltitude, &r.Squawk,
			&r.SPI, &r.PositionSource, &r.IngestionTime, &r.SourceFile,
		); err != nil {
			return nil, fmt.Errorf("failed to scan state vector: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MergeAircraft inserts unknown aircraft; existing rows are never updated.
func (s *PostgresStore) MergeAircraft(ctx context.Context, rows []AircraftSource) (int, error) {
	inserted := 0
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO gold_dim_aircraft (icao24, origin_country)
			VALUES ($1, $2)
			ON CONFLICT (icao24) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare aircraft merge: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			res, err := stmt.ExecContext(ctx, r.ICAO24, r.OriginCountry)
			if err != nil {
				return fmt.Errorf("failed to merge aircraft %s: %w", r.ICAO24, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// MergeTimes inserts unknown event seconds; existing rows are never updated.
func (s *PostgresStore) MergeTimes(ctx context.Context, rows []DimTime) (int, error) {
	inserted := 0
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO gold_dim_time (event_epoch, event_time, flight_date, year, month, day, hour)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_epoch) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare time merge: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			res, err := stmt.ExecContext(ctx,
				r.EventTime.Unix(), r.EventTime, r.FlightDate, r.Year, r.Month, r.Day, r.Hour)
			if err != nil {
				return fmt.Errorf("failed to merge time %s: %w", r.EventTime, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// AircraftKeys resolves ICAO24 codes to surrogate keys.
func (s *PostgresStore) AircraftKeys(ctx context.Context, icao24s []string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT icao24, aircraft_key FROM gold_dim_aircraft WHERE icao24 = ANY($1)`,
		pq.Array(icao24s),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query aircraft keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]int64, len(icao24s))
	for rows.Next() {
		var id string
		var key int64
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		keys[id] = key
	}
	return keys, rows.Err()
}

// TimeKeys resolves epoch seconds to time dimension keys.
func (s *PostgresStore) TimeKeys(ctx context.Context, epochs []int64) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_epoch, time_key FROM gold_dim_time WHERE event_epoch = ANY($1)`,
		pq.Array(epochs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query time keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[int64]int64, len(epochs))
	for rows.Next() {
		var epoch, key int64
		if err := rows.Scan(&epoch, &key); err != nil {
			return nil, err
		}
		keys[epoch] = key
	}
	return keys, rows.Err()
}

// AppendFacts copies facts and moves the loader checkpoint in one
// transaction, so a retried load never duplicates facts.
func (s *PostgresStore) AppendFacts(ctx context.Context, facts []FactFlightSnapshot, checkpoint int64) error {
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		if len(facts) > 0 {
			stmt, err := tx.PrepareContext(ctx, pq.CopyIn("gold_fact_flight_snapshot",
				"aircraft_key", "time_key", "longitude", "latitude", "geo_altitude",
				"velocity", "vertical_rate", "on_ground", "ingestion_time"))
			if err != nil {
				return fmt.Errorf("failed to prepare fact copy: %w", err)
			}
			for _, f := range facts {
				if _, err := stmt.ExecContext(ctx,
					f.AircraftKey, f.TimeKey, f.Longitude, f.Latitude, f.GeoAltitude,
					f.Velocity, f.VerticalRate, f.OnGround, f.IngestionTime,
				); err != nil {
					_ = stmt.Close()
					return fmt.Errorf("failed to copy fact: %w", err)
				}
			}
			if _, err := stmt.ExecContext(ctx); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("failed to flush fact copy: %w", err)
			}
			if err := stmt.Close(); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO gold_loader_checkpoint (id, last_state_vector_id, updated_at)
			VALUES (1, $1, CURRENT_TIMESTAMP)
			ON CONFLICT (id) DO UPDATE
			SET last_state_vector_id = GREATEST(gold_loader_checkpoint.last_state_vector_id, EXCLUDED.last_state_vector_id),
			    updated_at = CURRENT_TIMESTAMP
		`, checkpoint)
		if err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

// RebuildHourlyKPI recomputes the date partition of mart_kpi_hourly from
// facts and returns the number of facts rolled up and rows written. Other
// partitions are not touched.
func (s *PostgresStore) RebuildHourlyKPI(ctx context.Context, date time.Time) (facts int64, rows int, err error) {
	err = s.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM mart_kpi_hourly WHERE flight_date = $1`, DateOf(date),
		); err != nil {
			return fmt.Errorf("failed to clear hourly partition: %w", err)
		}

		inserted, err := tx.QueryContext(ctx, `
			INSERT INTO mart_kpi_hourly (
				flight_date, hour, total_flights, avg_velocity, avg_altitude,
				flights_on_ground, flights_in_air
			)
			SELECT t.flight_date, t.hour,
			       COUNT(*),
			       AVG(f.velocity),
			       AVG(f.geo_altitude),
			       COUNT(*) FILTER (WHERE f.on_ground),
			       COUNT(*) FILTER (WHERE NOT f.on_ground)
			FROM gold_fact_flight_snapshot f
			JOIN gold_dim_time t ON f.time_key = t.time_key
			WHERE t.flight_date = $1
			GROUP BY t.flight_date, t.hour
			RETURNING total_flights
		`, DateOf(date))
		if err != nil {
			return fmt.Errorf("failed to roll up hourly kpi: %w", err)
		}
		defer inserted.Close()

		for inserted.Next() {
			var total int64
			if err := inserted.Scan(&total); err != nil {
				return fmt.Errorf("failed to scan hourly kpi: %w", err)
			}
			facts += total
			rows++
		}
		return inserted.Err()
	})
	if err != nil {
		return 0, 0, err
	}
	return facts, rows, nil
}

// RebuildAircraftActivity recomputes mart_kpi_aircraft_activity over the
// whole fact history.
func (s *PostgresStore) RebuildAircraftActivity(ctx context.Context) (int, error) {
	return s.rebuild(ctx, "mart_kpi_aircraft_activity", `
		INSERT INTO mart_kpi_aircraft_activity (icao24, snapshot_count, avg_velocity, max_altitude)
		SELECT a.icao24, COUNT(*), AVG(f.velocity), MAX(f.geo_altitude)
		FROM gold_fact_flight_snapshot f
		JOIN gold_dim_aircraft a ON f.aircraft_key = a.aircraft_key
		GROUP BY a.icao24
	`)
}

// RebuildLatestPositions recomputes mart_kpi_aircraft_latest_position.
// Among facts tied on ingestion time the database picks one.
func (s *PostgresStore) RebuildLatestPositions(ctx context.Context) (int, error) {
	return s.rebuild(ctx, "mart_kpi_aircraft_latest_position", `
		INSERT INTO mart_kpi_aircraft_latest_position (
			icao24, longitude, latitude, geo_altitude, velocity, ingestion_time
		)
		SELECT DISTINCT ON (a.icao24)
		       a.icao24, f.longitude, f.latitude, f.geo_altitude, f.velocity, f.ingestion_time
		FROM gold_fact_flight_snapshot f
		JOIN gold_dim_aircraft a ON f.aircraft_key = a.aircraft_key
		ORDER BY a.icao24, f.ingestion_time DESC
	`)
}

// rebuild empties table and refills it with insert, in one transaction.
func (s *PostgresStore) rebuild(ctx context.Context, table, insert string) (int, error) {
	var rows int64
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
		res, err := tx.ExecContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("failed to rebuild %s: %w", table, err)
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}
