package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/platform/tx"
	"zodiac/pkg/requestcontext"
)

const pgUniqueViolation = "23505"

// PostgresStore persists profiles in the participants table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p models.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = requestcontext.Now(ctx)
	}
	var birthTime sql.NullString
	if p.BirthTime != nil {
		birthTime = sql.NullString{String: p.BirthTime.String(), Valid: true}
	}
	query := `
		INSERT INTO participants (participant_id, name, gender, birth_date, birth_place, birth_time, delivery_window, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := tx.Or(ctx, s.db).ExecContext(ctx, query,
		int64(p.ParticipantID),
		p.DisplayName,
		p.Gender.String(),
		p.BirthDate,
		p.BirthPlace,
		birthTime,
		p.DeliveryWindow.String(),
		p.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, pid id.ParticipantID) (models.Profile, error) {
	query := `
		SELECT participant_id, name, gender, birth_date, birth_place,
		       to_char(birth_time, 'HH24:MI'), delivery_window, created_at, updated_at
		FROM participants
		WHERE participant_id = $1
	`
	var (
		p         models.Profile
		rawID     int64
		gender    string
		window    string
		birthTime sql.NullString
	)
	err := tx.Or(ctx, s.db).QueryRowContext(ctx, query, int64(pid)).Scan(
		&rawID,
		&p.DisplayName,
		&gender,
		&p.BirthDate,
		&p.BirthPlace,
		&birthTime,
		&window,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, sentinel.ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("find participant: %w", err)
	}
	p.ParticipantID = id.ParticipantID(rawID)
	p.Gender = id.Gender(gender)
	p.DeliveryWindow = id.DeliveryWindow(window)
	p.BirthDate = p.BirthDate.UTC()
	if birthTime.Valid {
		t, err := models.ParseTimeOfDay(birthTime.String)
		if err != nil {
			return models.Profile{}, fmt.Errorf("decode birth_time: %w", err)
		}
		p.BirthTime = &t
	}
	return p, nil
}

// UpdateField rewrites a single column. The column name comes from a fixed
// switch, never from input.
func (s *PostgresStore) UpdateField(ctx context.Context, pid id.ParticipantID, u models.FieldUpdate) error {
	var (
		column string
		value  any
	)
	switch u.Field {
	case models.FieldName:
		column, value = "name", u.Text
	case models.FieldGender:
		column, value = "gender", u.Gender.String()
	case models.FieldBirthDate:
		column, value = "birth_date", u.BirthDate
	case models.FieldBirthPlace:
		column, value = "birth_place", u.Text
	case models.FieldBirthTime:
		column = "birth_time"
		if u.BirthTime != nil {
			value = u.BirthTime.String()
		}
	case models.FieldDeliveryWindow:
		column, value = "delivery_window", u.DeliveryWindow.String()
	default:
		return fmt.Errorf("update participant: unknown field %q", u.Field)
	}

	// The row lock serializes concurrent edits of the same participant.
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.Or(ctx, s.db)
		var locked int64
		err := q.QueryRowContext(ctx,
			`SELECT participant_id FROM participants WHERE participant_id = $1 FOR UPDATE`,
			int64(pid),
		).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock participant: %w", err)
		}

		query := fmt.Sprintf(`UPDATE participants SET %s = $1, updated_at = $2 WHERE participant_id = $3`, column)
		if _, err := q.ExecContext(ctx, query, value, requestcontext.Now(ctx), int64(pid)); err != nil {
			return fmt.Errorf("update participant %s: %w", column, err)
		}
		return nil
	})
}

func (s *PostgresStore) ListIDs(ctx context.Context) ([]id.ParticipantID, error) {
	rows, err := tx.Or(ctx, s.db).QueryContext(ctx, `SELECT participant_id FROM participants ORDER BY participant_id`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var ids []id.ParticipantID
	for rows.Next() {
		var raw int64
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id.ParticipantID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return ids, nil
}
