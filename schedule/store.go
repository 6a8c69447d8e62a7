package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pillbox-tech/pillbox/core/csql"
)

// Entry is one planned medication-dispensing event.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	BoxID         string     `json:"boxId"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	IsTaken       bool       `json:"isTaken"`
	TakenTime     *time.Time `json:"takenTime"`
}

// Store is the persistence interface for the medication schedule. The
// postgres implementation below is used in production, tests substitute
// their own.
type Store interface {
	// Create inserts one untaken entry and returns it with its generated id.
	Create(ctx context.Context, boxID string, scheduledTime time.Time) (Entry, error)
	// Outstanding returns all untaken entries for the box, soonest due first.
	Outstanding(ctx context.Context, boxID string) ([]Entry, error)
	// Complete marks the entry taken and records the completion time with
	// the database clock. Completing an unknown or already-taken entry is
	// not an error.
	Complete(ctx context.Context, id uuid.UUID) error
	// History returns all entries for the box, most recent due time first.
	History(ctx context.Context, boxID string) ([]Entry, error)
}

// PostgresStore stores the medication schedule in postgres.
type PostgresStore struct {
	db *csql.DB
}

// NewPostgresStore creates the sql relations (if they do not exist) and
// returns a store ready for use.
func NewPostgresStore(db *csql.DB) *PostgresStore {
	if db == nil {
		panic("DB is missing")
	}

	// poor man's database migrations
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `.medication_schedule
(schedule_id uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
box_id varchar NOT NULL,
scheduled_time timestamp NOT NULL,
is_taken boolean NOT NULL DEFAULT false,
taken_time timestamp
);
CREATE INDEX IF NOT EXISTS medication_schedule_box ON ` + db.Schema + `.medication_schedule(box_id, scheduled_time);
`)
	if err != nil {
		panic(err)
	}

	return &PostgresStore{db: db}
}

// Create implements Store
func (s *PostgresStore) Create(ctx context.Context, boxID string, scheduledTime time.Time) (Entry, error) {
	entry := Entry{}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.medication_schedule(box_id,scheduled_time)
VALUES($1,$2)
RETURNING schedule_id,box_id,scheduled_time,is_taken,taken_time;`, boxID, scheduledTime).
		Scan(&entry.ID, &entry.BoxID, &entry.ScheduledTime, &entry.IsTaken, &entry.TakenTime)
	return entry, err
}

// Outstanding implements Store
func (s *PostgresStore) Outstanding(ctx context.Context, boxID string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT schedule_id,box_id,scheduled_time,is_taken,taken_time FROM `+s.db.Schema+`.medication_schedule
WHERE box_id=$1 AND is_taken=false ORDER BY scheduled_time ASC;`, boxID)
}

// Complete implements Store
func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID) error {
	// unguarded on purpose: zero matched rows is still a success, and a
	// second completion overwrites the taken time
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+s.db.Schema+`.medication_schedule
SET is_taken=true, taken_time=now() WHERE schedule_id=$1;`, id)
	return err
}

// History implements Store
func (s *PostgresStore) History(ctx context.Context, boxID string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT schedule_id,box_id,scheduled_time,is_taken,taken_time FROM `+s.db.Schema+`.medication_schedule
WHERE box_id=$1 ORDER BY scheduled_time DESC;`, boxID)
}

func (s *PostgresStore) query(ctx context.Context, query string, boxID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, boxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		entry := Entry{}
		if err := rows.Scan(&entry.ID, &entry.BoxID, &entry.ScheduledTime, &entry.IsTaken, &entry.TakenTime); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
