// Package membership implements the Room Membership & Call State
// collaborator: authoritative visibility for broadcasts
// plus the persistent Idle -> InProgress -> Ended call lifecycle on a
// room. Grounded on internal/database/conversation_repo.go (membership
// queries) and internal/database/call_repo.go (call lifecycle
// bookkeeping), generalized from conversation UUIDs to opaque room_id
// strings since the real-time plane treats room_id as an opaque token.
package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaycore/rtc/internal/database"
	"github.com/relaycore/rtc/internal/domain"
)

// CallStatus is the persistent call lifecycle on a room.
type CallStatus string

const (
	CallIdle       CallStatus = "idle"
	CallInProgress CallStatus = "in_progress"
	CallEnded      CallStatus = "ended"
)

// Store is the Postgres-backed Room Membership & Call State
// collaborator.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// IsMember reports whether userID belongs to the conversation backing
// roomID. Room IDs in this plane are conversation IDs formatted as
// UUIDs; a malformed ID is treated as "not a member" rather than an
// error so a stray media:join from a stale client fails closed.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return false, nil
	}
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}

	var exists bool
	err = s.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, roomUUID, userUUID).Scan(&exists)
	if err != nil {
		return false, domain.Internal("membership_query_failed", "failed to check room membership").Wrap(err)
	}
	return exists, nil
}

// MemberUserIDs returns every member of the conversation backing roomID.
func (s *Store) MemberUserIDs(ctx context.Context, roomID string) ([]string, error) {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return nil, nil
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT user_id FROM conversation_members WHERE conversation_id = $1
	`, roomUUID)
	if err != nil {
		return nil, domain.Internal("membership_query_failed", "failed to list room members").Wrap(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	return ids, nil
}

// StartCall transitions a room from Idle/Ended to InProgress,
// creating the room_calls row on first use.
func (s *Store) StartCall(ctx context.Context, roomID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO room_calls (room_id, status, started_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id) DO UPDATE SET status = $2, started_at = NOW(), ended_at = NULL
	`, roomID, CallInProgress)
	if err != nil {
		return domain.Internal("call_start_failed", "failed to start call").Wrap(err)
	}
	return nil
}

// EndCall transitions a room's call to Ended.
func (s *Store) EndCall(ctx context.Context, roomID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE room_calls SET status = $2, ended_at = NOW() WHERE room_id = $1
	`, roomID, CallEnded)
	if err != nil {
		return domain.Internal("call_end_failed", "failed to end call").Wrap(err)
	}
	return nil
}

// CallState returns the current lifecycle state of a room's call, or
// CallIdle if the room has never hosted one.
func (s *Store) CallState(ctx context.Context, roomID string) (CallStatus, error) {
	var status CallStatus
	err := s.db.Pool.QueryRow(ctx, `SELECT status FROM room_calls WHERE room_id = $1`, roomID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallIdle, nil
	}
	if err != nil {
		return "", domain.Internal("call_state_query_failed", "failed to read call state").Wrap(err)
	}
	return status, nil
}

// JoinParticipant appends a new session for a user's call participation.
// A user who is already actively sessioned (no end time recorded) gets
// a fresh session appended rather than a duplicate row rewritten.
func (s *Store) JoinParticipant(ctx context.Context, roomID, userID, displayName, device string) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO room_call_sessions (id, room_id, user_id, display_name, device, joined_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.NewString(), roomID, userID, displayName, device)
	if err != nil {
		return domain.Internal("join_participant_failed", "failed to record participant session").Wrap(err)
	}
	return nil
}

// LeaveParticipant closes the user's most recent open session on the
// room by setting its end time.
func (s *Store) LeaveParticipant(ctx context.Context, roomID, userID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE room_call_sessions
		SET left_at = NOW()
		WHERE id = (
			SELECT id FROM room_call_sessions
			WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
			ORDER BY joined_at DESC
			LIMIT 1
		)
	`, roomID, userID)
	if err != nil {
		return domain.Internal("leave_participant_failed", "failed to close participant session").Wrap(err)
	}
	return nil
}
