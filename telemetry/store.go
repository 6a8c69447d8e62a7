package telemetry

import (
	"context"
	"time"

	"github.com/pillbox-tech/pillbox/core/csql"
)

// Store is the persistence interface for sensor reports. The postgres
// implementation below is used in production, tests substitute their own.
type Store interface {
	// IngestReport stores one reading row plus one compartment status row
	// per reported compartment, in report order.
	IngestReport(ctx context.Context, report DeviceReport) error
	// LatestReading returns the most recent reading for the box, or nil
	// when the box has never reported.
	LatestReading(ctx context.Context, boxID string) (*EnvironmentalReading, error)
	// LatestCompartmentStatus returns up to limit most recent compartment
	// status rows for the box, newest first.
	LatestCompartmentStatus(ctx context.Context, boxID string, limit int) ([]CompartmentStatus, error)
	// ReadingHistory returns all readings of the box within the trailing
	// window, newest first. The window is evaluated against the database
	// clock at query time.
	ReadingHistory(ctx context.Context, boxID string, window time.Duration) ([]EnvironmentalReading, error)
}

// PostgresStore stores sensor reports in postgres. All timestamps are
// assigned by the database, never taken from the device.
type PostgresStore struct {
	db            *csql.DB
	transactional bool
}

// NewPostgresStore creates the sql relations (if they do not exist) and
// returns a store ready for use.
//
// With transactional set, the reading and its compartment rows are written
// in a single transaction. The default is best-effort: a failing insert
// aborts the remainder of the batch, rows written before the failure
// remain persisted.
func NewPostgresStore(db *csql.DB, transactional bool) *PostgresStore {
	if db == nil {
		panic("DB is missing")
	}

	// poor man's database migrations
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `.reading
(box_id varchar NOT NULL,
temperature double precision NOT NULL,
humidity double precision NOT NULL,
timestamp timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS reading_box_time ON ` + db.Schema + `.reading(box_id, timestamp DESC);
CREATE table IF NOT EXISTS ` + db.Schema + `.compartment_status
(box_id varchar NOT NULL,
compartment_id integer NOT NULL,
is_open boolean NOT NULL,
timestamp timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS compartment_status_box_time ON ` + db.Schema + `.compartment_status(box_id, timestamp DESC);
`)
	if err != nil {
		panic(err)
	}

	return &PostgresStore{db: db, transactional: transactional}
}

// IngestReport implements Store
func (s *PostgresStore) IngestReport(ctx context.Context, report DeviceReport) error {
	insertReading := `INSERT INTO ` + s.db.Schema + `.reading(box_id,temperature,humidity,timestamp)
VALUES($1,$2,$3,now());`
	insertStatus := `INSERT INTO ` + s.db.Schema + `.compartment_status(box_id,compartment_id,is_open,timestamp)
VALUES($1,$2,$3,now());`

	if s.transactional {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, insertReading, report.BoxID, report.Temperature, report.Humidity); err != nil {
			return err
		}
		for _, c := range report.CompartmentStatus {
			if _, err := tx.ExecContext(ctx, insertStatus, report.BoxID, c.ID, c.IsOpen); err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	// best-effort: one borrowed connection for the whole batch, inserts
	// issued sequentially, no rollback across the batch
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, insertReading, report.BoxID, report.Temperature, report.Humidity); err != nil {
		return err
	}
	for _, c := range report.CompartmentStatus {
		if _, err := conn.ExecContext(ctx, insertStatus, report.BoxID, c.ID, c.IsOpen); err != nil {
			return err
		}
	}
	return nil
}

// LatestReading implements Store
func (s *PostgresStore) LatestReading(ctx context.Context, boxID string) (*EnvironmentalReading, error) {
	reading := EnvironmentalReading{}
	err := s.db.QueryRowContext(ctx,
		`SELECT box_id,temperature,humidity,timestamp FROM `+s.db.Schema+`.reading
WHERE box_id=$1 ORDER BY timestamp DESC LIMIT 1;`, boxID).
		Scan(&reading.BoxID, &reading.Temperature, &reading.Humidity, &reading.Timestamp)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// LatestCompartmentStatus implements Store
func (s *PostgresStore) LatestCompartmentStatus(ctx context.Context, boxID string, limit int) ([]CompartmentStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT box_id,compartment_id,is_open,timestamp FROM `+s.db.Schema+`.compartment_status
WHERE box_id=$1 ORDER BY timestamp DESC LIMIT $2;`, boxID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	statuses := []CompartmentStatus{}
	for rows.Next() {
		status := CompartmentStatus{}
		if err := rows.Scan(&status.BoxID, &status.CompartmentID, &status.IsOpen, &status.Timestamp); err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

// ReadingHistory implements Store
func (s *PostgresStore) ReadingHistory(ctx context.Context, boxID string, window time.Duration) ([]EnvironmentalReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT box_id,temperature,humidity,timestamp FROM `+s.db.Schema+`.reading
WHERE box_id=$1 AND timestamp > now() - $2 * interval '1 second'
ORDER BY timestamp DESC;`, boxID, window.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	readings := []EnvironmentalReading{}
	for rows.Next() {
		reading := EnvironmentalReading{}
		if err := rows.Scan(&reading.BoxID, &reading.Temperature, &reading.Humidity, &reading.Timestamp); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}
