package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/artouc/ego-graphica/internal/persona"
	_ "modernc.org/sqlite"
)

// Document collections.
const (
	collProfile = "profile"
	collWorks   = "works"
	collFiles   = "files"
	collURLs    = "urls"

	docPersona = "persona"
	docStyle   = "style"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			tenant TEXT NOT NULL,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			PRIMARY KEY (tenant, collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS documents_created ON documents (tenant, collection, created);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			started INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			messages INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			tenant TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_session ON messages (session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS vectors (
			tenant TEXT NOT NULL,
			id TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT,
			vector BLOB,
			metadata TEXT,
			PRIMARY KEY (tenant, id)
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

// GetConfig returns an empty string for unknown keys.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Documents

func (s *SQLiteStore) putDoc(ctx context.Context, tenant, coll, id string, created time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", coll, id, err)
	}
	query := `INSERT INTO documents (tenant, collection, id, data, created, updated) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, collection, id) DO UPDATE SET data = excluded.data, updated = excluded.updated`
	_, err = s.db.ExecContext(ctx, query, tenant, coll, id, string(data), created.UnixNano(), time.Now().UnixNano())
	return err
}

func (s *SQLiteStore) getDoc(ctx context.Context, tenant, coll, id string, v any) error {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE tenant = ? AND collection = ? AND id = ?`, tenant, coll, id)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", coll, id, err)
	}
	return nil
}

// queryDocs returns raw documents of a collection, newest first.
func (s *SQLiteStore) queryDocs(ctx context.Context, tenant, coll string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM documents WHERE tenant = ? AND collection = ? ORDER BY created DESC, id LIMIT ?`,
		tenant, coll, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		docs = append(docs, data)
	}
	return docs, rows.Err()
}

func listDocs[T any](ctx context.Context, s *SQLiteStore, tenant, coll string, limit int) ([]T, error) {
	raw, err := s.queryDocs(ctx, tenant, coll, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", coll, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetPersona returns nil without error when the tenant has no persona yet.
func (s *SQLiteStore) GetPersona(ctx context.Context, tenant string) (*persona.Persona, error) {
	var p persona.Persona
	if err := s.getDoc(ctx, tenant, collProfile, docPersona, &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) PutPersona(ctx context.Context, tenant string, p *persona.Persona) error {
	return s.putDoc(ctx, tenant, collProfile, docPersona, time.Now(), p)
}

// GetStyleProfile returns nil without error when no style has been analysed.
func (s *SQLiteStore) GetStyleProfile(ctx context.Context, tenant string) (*persona.StyleProfile, error) {
	var sp persona.StyleProfile
	if err := s.getDoc(ctx, tenant, collProfile, docStyle, &sp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sp, nil
}

func (s *SQLiteStore) PutStyleProfile(ctx context.Context, tenant string, sp *persona.StyleProfile) error {
	return s.putDoc(ctx, tenant, collProfile, docStyle, time.Now(), sp)
}

func (s *SQLiteStore) PutWork(ctx context.Context, tenant string, w *Work) error {
	if w.Created.IsZero() {
		w.Created = time.Now()
	}
	w.Updated = time.Now()
	return s.putDoc(ctx, tenant, collWorks, w.ID, w.Created, w)
}

func (s *SQLiteStore) GetWork(ctx context.Context, tenant, id string) (*Work, error) {
	var w Work
	if err := s.getDoc(ctx, tenant, collWorks, id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLiteStore) ListWorks(ctx context.Context, tenant string, limit int) ([]Work, error) {
	return listDocs[Work](ctx, s, tenant, collWorks, limit)
}

func (s *SQLiteStore) PutFile(ctx context.Context, tenant string, f *File) error {
	if f.Created.IsZero() {
		f.Created = time.Now()
	}
	return s.putDoc(ctx, tenant, collFiles, f.ID, f.Created, f)
}

func (s *SQLiteStore) ListFiles(ctx context.Context, tenant string, limit int) ([]File, error) {
	return listDocs[File](ctx, s, tenant, collFiles, limit)
}

func (s *SQLiteStore) PutURL(ctx context.Context, tenant string, u *SourceURL) error {
	if u.Created.IsZero() {
		u.Created = time.Now()
	}
	return s.putDoc(ctx, tenant, collURLs, u.ID, u.Created, u)
}

func (s *SQLiteStore) ListURLs(ctx context.Context, tenant string, limit int) ([]SourceURL, error) {
	return listDocs[SourceURL](ctx, s, tenant, collURLs, limit)
}

// Session Implementation

func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now()
	if session.Started.IsZero() {
		session.Started = now
	}
	session.Updated = session.Started
	query := `INSERT INTO sessions (id, tenant, started, updated, messages) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, session.ID, session.Tenant, session.Started.UnixNano(), session.Updated.UnixNano(), session.Messages)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", session.ID, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, tenant, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant, started, updated, messages FROM sessions WHERE id = ? AND tenant = ?`, id, tenant)

	var session Session
	var started, updated int64
	if err := row.Scan(&session.ID, &session.Tenant, &started, &updated, &session.Messages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	session.Started = time.Unix(0, started)
	session.Updated = time.Unix(0, updated)
	return &session, nil
}

// TouchSession adds to the message counter and bumps the update time.
func (s *SQLiteStore) TouchSession(ctx context.Context, tenant, id string, added int) (*Session, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET messages = messages + ?, updated = ? WHERE id = ? AND tenant = ?`,
		added, time.Now().UnixNano(), id, tenant)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.GetSession(ctx, tenant, id)
}

func (s *SQLiteStore) AddMessage(ctx context.Context, tenant, sessionID string, m Message) error {
	if m.Created.IsZero() {
		m.Created = time.Now()
	}
	query := `INSERT INTO messages (session_id, tenant, role, content, created) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, sessionID, tenant, m.Role, m.Content, m.Created.UnixNano())
	return err
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, tenant, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created FROM messages WHERE session_id = ? AND tenant = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Created = time.Unix(0, created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
