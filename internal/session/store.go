package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/uzhavan/uzhavan/internal/log"
)

// DB is the database surface Store needs. *pgxpool.Pool satisfies it;
// tests may substitute a lighter implementation.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists sessions and their append-only transcripts in PostgreSQL.
//
// Store is safe for concurrent use. Writes that assign sequence numbers
// run inside a transaction that locks the session row, so two concurrent
// turns on the same session serialize at the database even when the
// in-process lock is bypassed.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a session store. logger must not be nil; use
// log.NewNop in tests.
func NewStore(db DB, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create inserts an empty session for ownerID with the default title.
func (s *Store) Create(ctx context.Context, ownerID string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO chat_sessions (owner_email, title)
		VALUES ($1, $2)
		RETURNING id, owner_email, title, created_at, updated_at`,
		ownerID, DefaultTitle)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "session_id", sess.ID, "owner", ownerID)
	return sess, nil
}

// CreateWithMessages creates a session pre-populated with msgs in one
// transaction. The title is derived from the first user message in the
// batch. Either the session and all messages are persisted or nothing is.
//
// Returns ErrInvalidMessage if any message fails validation.
func (s *Store) CreateWithMessages(ctx context.Context, ownerID string, msgs []Message) (*Session, []Message, error) {
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	title := DefaultTitle
	if t, ok := titleFromBatch(msgs); ok {
		title = t
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO chat_sessions (owner_email, title)
		VALUES ($1, $2)
		RETURNING id, owner_email, title, created_at, updated_at`,
		ownerID, title)
	sess, err := scanSession(row)
	if err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}

	appended := make([]Message, 0, len(msgs))
	for i, msg := range msgs {
		seq := int32(i) + 1 //nolint:gosec // i bounded by batch length

		stored := Message{
			SessionID:      sess.ID,
			Sender:         msg.Sender,
			Content:        msg.Content,
			SequenceNumber: seq,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO chat_messages (session_id, sender, content, sequence_number)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`,
			uuidToPgUUID(sess.ID), string(msg.Sender), msg.Content, seq,
		).Scan(&stored.ID, &stored.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("inserting message %d: %w", i, err)
		}
		appended = append(appended, stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created session with messages",
		"session_id", sess.ID, "owner", ownerID, "count", len(appended))
	return sess, appended, nil
}

// Get retrieves a session by ID. Returns ErrNotFound if it does not exist.
// Ownership is not checked here; callers compare Session.OwnerID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, owner_email, title, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1`,
		uuidToPgUUID(id))

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// Messages returns the full transcript of a session ordered by sequence
// number ascending. An empty slice means the session has no messages.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, sender, content, sequence_number, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY sequence_number ASC`,
		uuidToPgUUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("getting messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Recent returns the last n messages of a session in chronological order
// (oldest of the window first). n <= 0 returns an empty slice.
func (s *Store) Recent(ctx context.Context, sessionID uuid.UUID, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, sender, content, sequence_number, created_at
		FROM (
			SELECT id, session_id, sender, content, sequence_number, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		) window
		ORDER BY sequence_number ASC`,
		uuidToPgUUID(sessionID), n)
	if err != nil {
		return nil, fmt.Errorf("getting recent messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// AppendMessages appends msgs to a session's transcript in one transaction.
//
// The session row is locked with SELECT ... FOR UPDATE so sequence numbers
// stay gapless under concurrency. When the batch contains the session's
// first messages, the title is derived from the first user message in the
// batch; an already-customized title is never overwritten. updated_at is
// bumped on every append.
//
// Returns ErrNotFound if the session does not exist and ErrInvalidMessage
// if any message fails validation (nothing is written in either case).
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var currentTitle string
	err = tx.QueryRow(ctx,
		`SELECT title FROM chat_sessions WHERE id = $1 FOR UPDATE`,
		uuidToPgUUID(sessionID)).Scan(&currentTitle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking session %s: %w", sessionID, err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM chat_messages WHERE session_id = $1`,
		uuidToPgUUID(sessionID)).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("getting max sequence number: %w", err)
	}

	appended := make([]Message, 0, len(msgs))
	for i, msg := range msgs {
		seq := maxSeq + int32(i) + 1 //nolint:gosec // i bounded by batch length

		stored := Message{
			SessionID:      sessionID,
			Sender:         msg.Sender,
			Content:        msg.Content,
			SequenceNumber: seq,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO chat_messages (session_id, sender, content, sequence_number)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`,
			uuidToPgUUID(sessionID), string(msg.Sender), msg.Content, seq,
		).Scan(&stored.ID, &stored.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting message %d: %w", i, err)
		}
		appended = append(appended, stored)
	}

	// Title from the first user message of the session's first batch.
	// A title set earlier stays as it is.
	if maxSeq == 0 && currentTitle == DefaultTitle {
		if title, ok := titleFromBatch(msgs); ok {
			if _, err := tx.Exec(ctx,
				`UPDATE chat_sessions SET title = $1 WHERE id = $2 AND title = $3`,
				title, uuidToPgUUID(sessionID), DefaultTitle); err != nil {
				return nil, fmt.Errorf("setting session title: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = now() WHERE id = $1`,
		uuidToPgUUID(sessionID)); err != nil {
		return nil, fmt.Errorf("updating session timestamp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended messages",
		"session_id", sessionID, "count", len(appended), "last_seq", maxSeq+int32(len(appended)))
	return appended, nil
}

// titleFromBatch finds the first user message in a batch and derives a
// title from it.
func titleFromBatch(msgs []Message) (string, bool) {
	for _, m := range msgs {
		if m.Sender == SenderUser {
			return DeriveTitle(m.Content), true
		}
	}
	return "", false
}

// ListByOwner lists an owner's sessions ordered by most recently updated.
// Each summary carries a preview of the latest message.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       COALESCE(stats.message_count, 0),
		       COALESCE(latest.preview, '')
		FROM chat_sessions s
		LEFT JOIN LATERAL (
			SELECT count(*) AS message_count
			FROM chat_messages m
			WHERE m.session_id = s.id
		) stats ON true
		LEFT JOIN LATERAL (
			SELECT left(m.content, $3) AS preview
			FROM chat_messages m
			WHERE m.session_id = s.id
			ORDER BY m.sequence_number DESC
			LIMIT 1
		) latest ON true
		WHERE s.owner_email = $1
		ORDER BY s.updated_at DESC
		LIMIT $2`,
		ownerID, limit, PreviewMaxRunes)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			id        pgtype.UUID
			createdAt pgtype.Timestamptz
			updatedAt pgtype.Timestamptz
			sum       Summary
		)
		if err := rows.Scan(&id, &sum.Title, &createdAt, &updatedAt,
			&sum.MessageCount, &sum.Preview); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		sum.ID = pgUUIDToUUID(id)
		sum.CreatedAt = createdAt.Time
		sum.UpdatedAt = updatedAt.Time
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session summaries: %w", err)
	}
	return summaries, nil
}

// Delete removes a session and its messages (CASCADE). Returns ErrNotFound
// for an unknown session and ErrUnauthorized when ownerID does not match.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	var owner string
	err := s.db.QueryRow(ctx,
		`SELECT owner_email FROM chat_sessions WHERE id = $1`,
		uuidToPgUUID(id)).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("checking session %s: %w", id, err)
	}
	if owner != ownerID {
		return ErrUnauthorized
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM chat_sessions WHERE id = $1 AND owner_email = $2`,
		uuidToPgUUID(id), ownerID)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Deleted between the check and now.
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "session_id", id, "owner", ownerID)
	return nil
}

// ClearForOwner deletes all of an owner's sessions and returns how many
// were removed. Deleting zero sessions is not an error.
func (s *Store) ClearForOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM chat_sessions WHERE owner_email = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("clearing sessions for %s: %w", ownerID, err)
	}

	deleted := tag.RowsAffected()
	s.logger.Debug("cleared sessions", "owner", ownerID, "deleted", deleted)
	return deleted, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
		sess      Session
	)
	if err := row.Scan(&id, &sess.OwnerID, &sess.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.ID = pgUUIDToUUID(id)
	sess.CreatedAt = createdAt.Time
	sess.UpdatedAt = updatedAt.Time
	return &sess, nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var (
			id        pgtype.UUID
			sessionID pgtype.UUID
			sender    string
			createdAt pgtype.Timestamptz
			msg       Message
		)
		if err := rows.Scan(&id, &sessionID, &sender, &msg.Content,
			&msg.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.ID = pgUUIDToUUID(id)
		msg.SessionID = pgUUIDToUUID(sessionID)
		msg.Sender = Sender(sender)
		msg.CreatedAt = createdAt.Time
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// uuidToPgUUID converts uuid.UUID to pgtype.UUID.
func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// pgUUIDToUUID converts pgtype.UUID to uuid.UUID.
func pgUUIDToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
