// Package sqlstore implements store.Store on PostgreSQL through the pgx
// database/sql driver.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"CragProject/logger"
	"CragProject/module/realtime/model"
	"CragProject/service/store"
	"CragProject/tools/errs"
	"CragProject/tools/ids"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schema string

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects and pings the database.
func Open(ctx context.Context, c Config) (*Store, error) {
	db, err := sql.Open("pgx", c.DSN)
	if err != nil {
		return nil, errs.WrapMsg(err, "open database")
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errs.WrapMsg(err, "ping database")
	}
	logger.Infof("[SQL] connected (maxOpen=%d)", c.MaxOpenConns)
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.WrapMsg(err, "migrate")
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.WrapMsg(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.WrapMsg(err, "commit")
	}
	return nil
}

// ===== users =====

func (s *Store) UserProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p := model.UserProfile{ID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, avatar_url FROM users WHERE id = $1`, userID).
		Scan(&p.DisplayName, &p.AvatarURL)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errs.WrapMsg(err, "load user", "id", userID)
	}
	return &p, nil
}

// ===== conversations =====

func (s *Store) IsConversationParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID).Scan(&ok)
	if err != nil {
		return false, errs.WrapMsg(err, "check participant")
	}
	return ok, nil
}

func (s *Store) ConversationParticipants(ctx context.Context, conversationID string) ([]string, error) {
	out, err := s.strings(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, errs.WrapMsg(err, "list participants")
	}
	if len(out) == 0 {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, m model.NewMessage) (*model.Message, error) {
	media, err := encodeMedia(m.MediaURLs)
	if err != nil {
		return nil, err
	}
	out := model.Message{
		ID:             ids.Prefixed("m"),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sender:         model.UserProfile{ID: m.SenderID},
		TextContent:    m.TextContent,
		MediaURLs:      append([]string{}, m.MediaURLs...),
		CreatedAt:      s.now().UTC(),
	}
	err = s.db.QueryRowContext(ctx, `
WITH ins AS (
    INSERT INTO messages (id, conversation_id, sender_id, text_content, media_urls, created_at)
    SELECT $1, $2, $3, $4, $5, $6
    WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $2)
    RETURNING id
)
SELECT COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
FROM ins LEFT JOIN users u ON u.id = $3`,
		out.ID, m.ConversationID, m.SenderID, m.TextContent, media, out.CreatedAt).
		Scan(&out.Sender.DisplayName, &out.Sender.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", m.ConversationID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "append message")
	}
	return &out, nil
}

func (s *Store) Message(ctx context.Context, messageID string) (*model.Message, error) {
	var (
		m      model.Message
		media  []byte
		readAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT m.id, m.conversation_id, m.sender_id, COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''),
       m.text_content, m.media_urls, m.created_at, m.read_at
FROM messages m LEFT JOIN users u ON u.id = m.sender_id
WHERE m.id = $1`, messageID).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Sender.DisplayName, &m.Sender.AvatarURL,
			&m.TextContent, &media, &m.CreatedAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "load message")
	}
	m.Sender.ID = m.SenderID
	if m.MediaURLs, err = decodeMedia(media); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time.UTC()
		m.ReadAt = &t
	}
	return &m, nil
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string, at time.Time) (*model.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = COALESCE(read_at, $2) WHERE id = $1`, messageID, at.UTC())
	if err != nil {
		return nil, errs.WrapMsg(err, "mark read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	return s.Message(ctx, messageID)
}

// ===== groups =====

func (s *Store) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&ok)
	if err != nil {
		return false, errs.WrapMsg(err, "check member")
	}
	return ok, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	out, err := s.strings(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, errs.WrapMsg(err, "list members")
	}
	if len(out) == 0 {
		return nil, errs.ErrNotFound.WrapMsg("group", "id", groupID)
	}
	return out, nil
}

func (s *Store) AppendGroupMessage(ctx context.Context, m model.NewGroupMessage) (*model.GroupMessage, error) {
	media, err := encodeMedia(m.MediaURLs)
	if err != nil {
		return nil, err
	}
	out := model.GroupMessage{
		ID:          ids.Prefixed("gm"),
		GroupID:     m.GroupID,
		SenderID:    m.SenderID,
		Sender:      model.UserProfile{ID: m.SenderID},
		TextContent: m.TextContent,
		MediaURLs:   append([]string{}, m.MediaURLs...),
		CreatedAt:   s.now().UTC(),
		ReadBy:      []string{},
	}
	err = s.db.QueryRowContext(ctx, `
WITH ins AS (
    INSERT INTO group_messages (id, group_id, sender_id, text_content, media_urls, created_at)
    SELECT $1, $2, $3, $4, $5, $6
    WHERE EXISTS (SELECT 1 FROM groups WHERE id = $2)
    RETURNING id
)
SELECT COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
FROM ins LEFT JOIN users u ON u.id = $3`,
		out.ID, m.GroupID, m.SenderID, m.TextContent, media, out.CreatedAt).
		Scan(&out.Sender.DisplayName, &out.Sender.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("group", "id", m.GroupID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "append group message")
	}
	return &out, nil
}

func (s *Store) MarkGroupMessageRead(ctx context.Context, groupID, messageID, readerID string) ([]string, bool, error) {
	var (
		readBy []string
		added  bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM group_messages WHERE id = $1 AND group_id = $2)`,
			messageID, groupID).Scan(&exists); err != nil {
			return errs.WrapMsg(err, "check group message")
		}
		if !exists {
			return errs.ErrNotFound.WrapMsg("group message", "id", messageID)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO group_message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, readerID, s.now().UTC())
		if err != nil {
			return errs.WrapMsg(err, "mark group read")
		}
		n, _ := res.RowsAffected()
		added = n > 0
		readBy, err = txStrings(ctx, tx,
			`SELECT user_id FROM group_message_reads WHERE message_id = $1 ORDER BY read_at, user_id`, messageID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return readBy, added, nil
}

// ===== posts & comments =====

func (s *Store) Post(ctx context.Context, postID string) (*model.Post, error) {
	p := model.Post{ID: postID}
	err := s.db.QueryRowContext(ctx, `SELECT author_id FROM posts WHERE id = $1`, postID).Scan(&p.AuthorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("post", "id", postID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "load post")
	}
	return &p, nil
}

func (s *Store) Comment(ctx context.Context, commentID string) (*model.Comment, error) {
	var (
		c        model.Comment
		parentID sql.NullString
		editedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT c.id, c.post_id, c.parent_id, c.author_id, COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''),
       c.body, c.created_at, c.edited_at
FROM comments c LEFT JOIN users u ON u.id = c.author_id
WHERE c.id = $1 AND c.deleted_at IS NULL`, commentID).
		Scan(&c.ID, &c.PostID, &parentID, &c.AuthorID, &c.Author.DisplayName, &c.Author.AvatarURL,
			&c.Body, &c.CreatedAt, &editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("comment", "id", commentID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "load comment")
	}
	c.Author.ID = c.AuthorID
	c.ParentID = parentID.String
	if editedAt.Valid {
		t := editedAt.Time.UTC()
		c.EditedAt = &t
	}
	return &c, nil
}

func (s *Store) CreateComment(ctx context.Context, nc model.NewComment) (*model.Comment, error) {
	c := model.Comment{
		ID:        ids.Prefixed("cm"),
		PostID:    nc.PostID,
		ParentID:  nc.ParentID,
		AuthorID:  nc.AuthorID,
		Author:    model.UserProfile{ID: nc.AuthorID},
		Body:      nc.Body,
		CreatedAt: s.now().UTC(),
	}
	// a reply must hang off a live comment of the same post
	err := s.db.QueryRowContext(ctx, `
WITH ins AS (
    INSERT INTO comments (id, post_id, parent_id, author_id, body, created_at)
    SELECT $1, $2, NULLIF($3, ''), $4, $5, $6
    WHERE EXISTS (SELECT 1 FROM posts WHERE id = $2)
      AND ($3 = '' OR EXISTS (SELECT 1 FROM comments WHERE id = $3 AND post_id = $2 AND deleted_at IS NULL))
    RETURNING id
)
SELECT COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
FROM ins LEFT JOIN users u ON u.id = $4`,
		c.ID, nc.PostID, nc.ParentID, nc.AuthorID, nc.Body, c.CreatedAt).
		Scan(&c.Author.DisplayName, &c.Author.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("post or parent comment", "post", nc.PostID, "parent", nc.ParentID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "create comment")
	}
	return &c, nil
}

func (s *Store) EditComment(ctx context.Context, commentID, body string, at time.Time) (*model.Comment, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET body = $2, edited_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		commentID, body, at.UTC())
	if err != nil {
		return nil, errs.WrapMsg(err, "edit comment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.ErrNotFound.WrapMsg("comment", "id", commentID)
	}
	return s.Comment(ctx, commentID)
}

func (s *Store) DeleteComment(ctx context.Context, commentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, commentID, s.now().UTC())
	if err != nil {
		return errs.WrapMsg(err, "delete comment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound.WrapMsg("comment", "id", commentID)
	}
	return nil
}

// ===== notifications =====

func (s *Store) CreateNotification(ctx context.Context, n model.NewNotification) (*model.Notification, bool, error) {
	out := model.Notification{
		ID:        ids.Prefixed("n"),
		UserID:    n.UserID,
		ActorID:   n.ActorID,
		Actor:     model.UserProfile{ID: n.ActorID},
		Type:      n.Type,
		EntityID:  n.EntityID,
		Body:      n.Body,
		CreatedAt: s.now().UTC(),
	}
	// no preference row means notify
	err := s.db.QueryRowContext(ctx, `
WITH ins AS (
    INSERT INTO notifications (id, user_id, actor_id, type, entity_id, body, created_at)
    SELECT $1, $2, $3, $4, $5, $6, $7
    WHERE NOT EXISTS (
        SELECT 1 FROM notification_preferences WHERE user_id = $2 AND type = $4 AND NOT enabled
    )
    RETURNING id
)
SELECT COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
FROM ins LEFT JOIN users u ON u.id = $3`,
		out.ID, n.UserID, n.ActorID, string(n.Type), n.EntityID, n.Body, out.CreatedAt).
		Scan(&out.Actor.DisplayName, &out.Actor.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "create notification")
	}
	return &out, true, nil
}

// SetPreference upserts a per-type opt in/out.
func (s *Store) SetPreference(ctx context.Context, userID string, typ model.NotificationType, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notification_preferences (user_id, type, enabled) VALUES ($1, $2, $3)
ON CONFLICT (user_id, type) DO UPDATE SET enabled = EXCLUDED.enabled`, userID, string(typ), enabled)
	if err != nil {
		return errs.WrapMsg(err, "set preference")
	}
	return nil
}

// ===== helpers =====

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	return queryStrings(ctx, s.db, q, args...)
}

func txStrings(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]string, error) {
	return queryStrings(ctx, tx, q, args...)
}

func queryStrings(ctx context.Context, db queryer, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func encodeMedia(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := model.Marshal(urls)
	if err != nil {
		return "", errs.WrapMsg(err, "encode media")
	}
	return string(b), nil
}

func decodeMedia(b []byte) ([]string, error) {
	out := []string{}
	if len(b) == 0 {
		return out, nil
	}
	if err := model.Unmarshal(b, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode media")
	}
	return out, nil
}
