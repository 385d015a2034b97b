package store

import (
	"context"
	"errors"
	"time"

	"github.com/artouc/ego-graphica/internal/persona"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the id is already taken.
	ErrConflict = errors.New("already exists")
)

// Work is an artwork in the tenant's portfolio.
type Work struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Searchable  string    `json:"searchable,omitempty"` // free text used for summary and retrieval
	Sold        bool      `json:"sold"`
	URL         string    `json:"url,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// File is an ingested reference document.
type File struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title,omitempty"`
	ContentType string    `json:"content_type"`
	BlobPath    string    `json:"blob_path"`
	TextPath    string    `json:"text_path"`
	Created     time.Time `json:"created"`
}

// SourceURL is an ingested web page.
type SourceURL struct {
	ID      string    `json:"id"`
	URL     string    `json:"url"`
	Title   string    `json:"title,omitempty"`
	Created time.Time `json:"created"`
}

// Session is one conversation with a customer.
type Session struct {
	ID       string
	Tenant   string
	Started  time.Time
	Updated  time.Time
	Messages int
}

// Message is a persisted conversation message.
type Message struct {
	Role    string
	Content string
	Created time.Time
}

// Storage defines the interface for persistence
type Storage interface {
	// Tenant profile
	GetPersona(ctx context.Context, tenant string) (*persona.Persona, error)
	PutPersona(ctx context.Context, tenant string, p *persona.Persona) error
	GetStyleProfile(ctx context.Context, tenant string) (*persona.StyleProfile, error)
	PutStyleProfile(ctx context.Context, tenant string, sp *persona.StyleProfile) error

	// Knowledge artifacts, listed newest first
	PutWork(ctx context.Context, tenant string, w *Work) error
	GetWork(ctx context.Context, tenant, id string) (*Work, error)
	ListWorks(ctx context.Context, tenant string, limit int) ([]Work, error)
	PutFile(ctx context.Context, tenant string, f *File) error
	ListFiles(ctx context.Context, tenant string, limit int) ([]File, error)
	PutURL(ctx context.Context, tenant string, u *SourceURL) error
	ListURLs(ctx context.Context, tenant string, limit int) ([]SourceURL, error)

	// Conversations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, tenant, id string) (*Session, error)
	TouchSession(ctx context.Context, tenant, id string, added int) (*Session, error)
	AddMessage(ctx context.Context, tenant, sessionID string, m Message) error
	// RecentMessages returns the newest limit messages in chronological order.
	RecentMessages(ctx context.Context, tenant, sessionID string, limit int) ([]Message, error)

	// Configuration
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}
