// Package archive stores delivered messages in a SQL database.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxorio/maildemo/pkg/delivery"
)

// Archive is a delivery.Sink backed by database/sql.
type Archive struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the database described by c.
func Open(ctx context.Context, c PoolConfig, logger *slog.Logger) (*Archive, error) {
	d, err := dialectFor(c.DriverName)
	if err != nil {
		return nil, err
	}
	db, err := OpenPool(ctx, c)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, dialect: d, logger: logger.With("component", "archive", "driver", d.name)}, nil
}

func (a *Archive) checkState() error {
	if a == nil || a.db == nil {
		return &Error{Code: CodeInvalidState, Message: "archive not open"}
	}
	return nil
}

// Migrate creates the messages table if it does not exist.
func (a *Archive) Migrate(ctx context.Context) error {
	if err := a.checkState(); err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, a.dialect.schema()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Debug("schema ready")
	return nil
}

// Deliver implements delivery.Sink.
func (a *Archive) Deliver(ctx context.Context, msg *delivery.Message) error {
	if err := a.checkState(); err != nil {
		return err
	}
	if msg == nil || msg.ID == "" {
		return &Error{Code: CodeInvalidInput, Message: "message id cannot be empty"}
	}

	recipients, err := json.Marshal(msg.To)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	query := a.dialect.rebind(`INSERT INTO messages
	(id, session_id, sender, recipients, subject, content, raw, received_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = a.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.From, string(recipients), msg.Subject, string(content),
		msg.Raw, msg.ReceivedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, session_id, sender, recipients, subject, content, raw, received_at FROM messages`

// Get returns the message with the given id.
func (a *Archive) Get(ctx context.Context, id string) (*delivery.Message, error) {
	if err := a.checkState(); err != nil {
		return nil, err
	}
	row := a.db.QueryRowContext(ctx, a.dialect.rebind(selectColumns+` WHERE id = ?`), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Code: CodeNotFound, Message: "message not found: " + id}
	}
	return msg, err
}

// List returns up to limit messages, newest first.
func (a *Archive) List(ctx context.Context, limit int) ([]*delivery.Message, error) {
	if err := a.checkState(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, &Error{Code: CodeInvalidInput, Message: "limit must be positive"}
	}

	rows, err := a.db.QueryContext(ctx,
		a.dialect.rebind(selectColumns+` ORDER BY received_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*delivery.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Stats returns connection pool statistics.
func (a *Archive) Stats() sql.DBStats {
	if a == nil || a.db == nil {
		return sql.DBStats{}
	}
	return a.db.Stats()
}

// Close closes the pool.
func (a *Archive) Close() error {
	if err := a.checkState(); err != nil {
		return err
	}
	err := a.db.Close()
	a.db = nil
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*delivery.Message, error) {
	var (
		msg        delivery.Message
		recipients string
		content    string
		receivedAt int64
	)
	if err := s.Scan(&msg.ID, &msg.SessionID, &msg.From, &recipients, &msg.Subject, &content, &msg.Raw, &receivedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recipients), &msg.To); err != nil {
		return nil, fmt.Errorf("decode recipients of %s: %w", msg.ID, err)
	}
	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", msg.ID, err)
	}
	msg.ReceivedAt = time.Unix(0, receivedAt).UTC()
	return &msg, nil
}
