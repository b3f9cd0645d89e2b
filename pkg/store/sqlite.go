package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"speakline/pkg/db"
	"speakline/pkg/model"
)

// Store defines the repository interface.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	HistoryStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- History ---

const utteranceColumns = `id, text, engine, voice, speaker, chunks, failed_chunks, samples, sample_rate, status, error, created_at`

func (s *SQLiteStore) SaveUtterance(ctx context.Context, u *model.Utterance) error {
	var speaker sql.NullInt64
	if u.Speaker != nil {
		speaker = sql.NullInt64{Int64: *u.Speaker, Valid: true}
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO utterances (` + utteranceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Text, u.Engine, u.Voice, speaker,
		u.Chunks, u.FailedChunks, u.Samples, u.SampleRate,
		u.Status, u.Error, createdAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetUtterance(ctx context.Context, id string) (*model.Utterance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+utteranceColumns+` FROM utterances WHERE id = ?`, id)
	u, err := scanUtterance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return u, err
}

func (s *SQLiteStore) RecentUtterances(ctx context.Context, limit int) ([]*model.Utterance, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+utteranceColumns+` FROM utterances ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Utterance
	for rows.Next() {
		u, err := scanUtterance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountUtterances(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM utterances").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUtterance(row scanner) (*model.Utterance, error) {
	var (
		u       model.Utterance
		engine  sql.NullString
		voice   sql.NullString
		speaker sql.NullInt64
		status  sql.NullString
		errText sql.NullString
		chunks  sql.NullInt64
		failed  sql.NullInt64
		samples sql.NullInt64
		rate    sql.NullInt64
	)
	err := row.Scan(
		&u.ID, &u.Text, &engine, &voice, &speaker,
		&chunks, &failed, &samples, &rate,
		&status, &errText, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Engine = engine.String
	u.Voice = voice.String
	u.Status = status.String
	u.Error = errText.String
	u.Chunks = int(chunks.Int64)
	u.FailedChunks = int(failed.Int64)
	u.Samples = int(samples.Int64)
	u.SampleRate = int(rate.Int64)
	if speaker.Valid {
		v := speaker.Int64
		u.Speaker = &v
	}
	return &u, nil
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now().UTC())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
