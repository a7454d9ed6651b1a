package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
)

// Quest operations

func (s *Store) ListQuests(ctx context.Context, userID string) ([]core.Quest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, day, title, description, theme, xp, difficulty, completed, completed_at, requires_photo, verification_status
		 FROM quests WHERE user_id = ? ORDER BY day ASC, id ASC`, userID)
	if err != nil {
		return nil, core.WrapOp("list", "quests", userID, err)
	}
	defer rows.Close()

	var out []core.Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, core.WrapOp("list", "quests", userID, err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapOp("list", "quests", userID, err)
	}
	return out, nil
}

// SaveQuest upserts a quest row keyed by (user_id, id).
func (s *Store) SaveQuest(ctx context.Context, q core.Quest) error {
	if q.UserID == "" {
		return errGuestIdentity
	}
	if err := q.Validate(); err != nil {
		return err
	}
	var completedAt sql.NullString
	if q.CompletedAt != nil {
		completedAt = sql.NullString{String: q.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quests (id, user_id, day, title, description, theme, xp, difficulty, completed, completed_at, requires_photo, verification_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, id) DO UPDATE SET day=excluded.day, title=excluded.title, description=excluded.description,
		   theme=excluded.theme, xp=excluded.xp, difficulty=excluded.difficulty, completed=excluded.completed,
		   completed_at=excluded.completed_at, requires_photo=excluded.requires_photo,
		   verification_status=excluded.verification_status`,
		q.ID, q.UserID, q.Day, q.Title, q.Description, string(q.Theme), q.XPReward, string(q.Difficulty),
		boolToInt(q.Completed), completedAt, boolToInt(q.RequiresPhoto), string(q.VerificationStatus),
	)
	if err != nil {
		return core.WrapOp("save", "quest", q.ID, err)
	}
	return nil
}

// Roadmap operations

func (s *Store) SaveRoadmap(ctx context.Context, rm core.StoredRoadmap) error {
	if rm.UserID == "" {
		return errGuestIdentity
	}
	days, err := json.Marshal(rm.Roadmap.Days)
	if err != nil {
		return fmt.Errorf("marshal roadmap days: %w", err)
	}
	if rm.CreatedAt.IsZero() {
		rm.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO roadmaps (user_id, theme, goal, days_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		rm.UserID, rm.Roadmap.Theme, rm.Roadmap.Goal, string(days), rm.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.WrapOp("save", "roadmap", rm.UserID, err)
	}
	return nil
}

func (s *Store) LatestRoadmap(ctx context.Context, userID string) (core.StoredRoadmap, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, theme, goal, days_json, created_at FROM roadmaps
		 WHERE user_id = ? ORDER BY seq DESC LIMIT 1`, userID)
	var (
		rm        core.StoredRoadmap
		daysJSON  string
		createdAt string
	)
	if err := row.Scan(&rm.UserID, &rm.Roadmap.Theme, &rm.Roadmap.Goal, &daysJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.StoredRoadmap{}, core.ErrNotFound
		}
		return core.StoredRoadmap{}, core.WrapOp("get", "roadmap", userID, err)
	}
	if err := json.Unmarshal([]byte(daysJSON), &rm.Roadmap.Days); err != nil {
		return core.StoredRoadmap{}, core.WrapOp("get", "roadmap", userID, err)
	}
	rm.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rm, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanQuest rejects rows whose enum columns hold unknown values.
func scanQuest(r rowScanner) (core.Quest, error) {
	var (
		q                         core.Quest
		theme, difficulty, status string
		completed, requiresPhoto  int
		completedAt               sql.NullString
	)
	if err := r.Scan(&q.ID, &q.UserID, &q.Day, &q.Title, &q.Description, &theme, &q.XPReward, &difficulty,
		&completed, &completedAt, &requiresPhoto, &status); err != nil {
		return core.Quest{}, err
	}
	var err error
	if q.Theme, err = core.ParseTheme(theme); err != nil {
		return core.Quest{}, err
	}
	if q.Difficulty, err = core.ParseDifficulty(difficulty); err != nil {
		return core.Quest{}, err
	}
	if q.VerificationStatus, err = core.ParseVerificationStatus(status); err != nil {
		return core.Quest{}, err
	}
	q.Completed = completed != 0
	q.RequiresPhoto = requiresPhoto != 0
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			q.CompletedAt = &t
		}
	}
	return q, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
