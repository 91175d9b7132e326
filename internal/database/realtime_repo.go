package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/rtc/internal/realtime/transcription"
)

// RealtimeRepository backs the real-time plane's persistence
// collaborators: display-name lookups for transcript
// speaker names, and fire-and-forget writes for transcripts and
// call-scoped chat messages. Grounded on user_repo.go's query shape
// and call_repo.go's insert-then-ignore-result pattern, generalized
// from UUID to opaque TEXT room/user IDs per
// internal/realtime/membership/store.go.
type RealtimeRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewRealtimeRepository(db *DB, logger *slog.Logger) *RealtimeRepository {
	return &RealtimeRepository{db: db, logger: logger}
}

// DisplayNamesFor resolves display names for a batch of user IDs in
// one round trip, falling back to username when no display name is
// set. Malformed IDs are skipped rather than failing the whole batch,
// since callers use this for best-effort speaker labeling.
func (r *RealtimeRepository) DisplayNamesFor(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, raw := range userIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, username, display_name FROM users WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var username, displayName string
		if err := rows.Scan(&id, &username, &displayName); err != nil {
			return nil, err
		}
		name := displayName
		if name == "" {
			name = username
		}
		out[id.String()] = name
	}
	return out, nil
}

// SaveTranscript persists one PARTIAL or FINAL transcript segment
//. Called fire-and-forget from the
// transcription engine's publish path; failures are logged, never
// propagated, so a database hiccup never blocks live fan-out.
func (r *RealtimeRepository) SaveTranscript(ctx context.Context, ev transcription.TranscriptEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO room_transcripts
			(id, room_id, user_id, speaker_name, text, language, confidence,
			 start_time, end_time, inference_duration_ms, is_final, segment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uuid.NewString(), ev.RoomID, ev.UserID, ev.SpeakerName, ev.Text, ev.Language,
		ev.Confidence, ev.StartTime, ev.EndTime, ev.InferenceDurationMs, ev.IsFinal, ev.SegmentID)
	if err != nil {
		r.logger.Warn("failed to save transcript", "room_id", ev.RoomID, "segment_id", ev.SegmentID, "error", err)
	}
}

// SaveCallMessage persists a call-scoped chat message.
// Fire-and-forget for the same reason as SaveTranscript.
func (r *RealtimeRepository) SaveCallMessage(ctx context.Context, roomID, userID, text string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO room_call_messages (id, room_id, user_id, text)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), roomID, userID, text)
	if err != nil {
		r.logger.Warn("failed to save call message", "room_id", roomID, "user_id", userID, "error", err)
	}
}
