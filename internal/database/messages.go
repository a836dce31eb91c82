package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

const selectMessageViews = `
	SELECT m.id, m.user_id, u.nickname, u.avatar_url, u.is_ai, m.text, m.created_at, m.edited_at,
		r.id, r.user_id, ru.nickname, r.text
	FROM chat_messages m
	JOIN users u ON u.id = m.user_id
	LEFT JOIN chat_messages r ON r.id = m.reply_to_id
	LEFT JOIN users ru ON ru.id = r.user_id
`

// StoreMessage inserts a chat message. A reply to an unknown message fails
// with ErrMessageNotFound.
func (m *Manager) StoreMessage(ctx context.Context, message *types.ChatMessage) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, user_id, text, created_at, reply_to_id)
			VALUES (?, ?, ?, ?, ?)
		`,
			message.ID,
			message.AuthorID,
			message.Text,
			message.CreatedAt.UTC(),
			message.ReplyToID,
		)
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return fmt.Errorf("failed to insert message: %w", interfaces.ErrMessageNotFound)
			}
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetMessageView loads one message with its author and reply target.
func (m *Manager) GetMessageView(ctx context.Context, id string) (*types.MessageView, error) {
	row := m.db.QueryRowContext(ctx, selectMessageViews+" WHERE m.id = ?", id)
	view, err := scanMessageView(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return view, nil
}

// EditMessage replaces the text of a message owned by authorID.
func (m *Manager) EditMessage(ctx context.Context, id, authorID, text string, editedAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var owner string
		err = tx.QueryRowContext(ctx, "SELECT user_id FROM chat_messages WHERE id = ?", id).Scan(&owner)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrMessageNotFound
			}
			return fmt.Errorf("failed to query message owner: %w", err)
		}
		if owner != authorID {
			return interfaces.ErrNotAuthor
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE chat_messages SET text = ?, edited_at = ? WHERE id = ?",
			text, editedAt.UTC(), id,
		); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message edit: %w", err)
		}
		return nil
	})
}

// ChatHistory returns the newest limit messages after skipping offset, in
// chronological order.
func (m *Manager) ChatHistory(ctx context.Context, limit, offset int) ([]*types.MessageView, error) {
	rows, err := m.db.QueryContext(ctx,
		selectMessageViews+" ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var views []*types.MessageView
	for rows.Next() {
		view, err := scanMessageView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	return views, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessageView(row rowScanner) (*types.MessageView, error) {
	var (
		view                                    types.MessageView
		editedAt                                sql.NullTime
		replyID, replyUser, replyNick, replyTxt sql.NullString
	)
	err := row.Scan(
		&view.ID,
		&view.UserID,
		&view.Nickname,
		&view.AvatarURL,
		&view.IsAI,
		&view.Text,
		&view.CreatedAt,
		&editedAt,
		&replyID,
		&replyUser,
		&replyNick,
		&replyTxt,
	)
	if err != nil {
		return nil, err
	}

	if editedAt.Valid {
		t := editedAt.Time
		view.EditedAt = &t
	}
	if replyID.Valid {
		view.ReplyTo = &types.ReplyRef{
			ID:       replyID.String,
			UserID:   replyUser.String,
			Nickname: replyNick.String,
			Text:     replyTxt.String,
		}
	}
	return &view, nil
}
