package model

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	KindAuto   = "auto"
	KindManual = "manual"

	ReasonAutoInterval = "auto_interval"
	ReasonManualSave   = "manual_save"
	ReasonPublish      = "publish"
	ReasonRestore      = "restore"
)

var (
	// ErrConflict means the store holds a newer version than the caller
	// observed, or the caller references a draft the store no longer
	// recognizes. The caller must reconcile before pushing again.
	ErrConflict = errors.New("draft version conflict")

	ErrNotFound     = errors.New("draft not found")
	ErrEmptyContent = errors.New("draft content is empty")
)

// Draft is the live working copy of one document.
type Draft struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	// Name is set for manual drafts only.
	Name string `json:"name,omitempty"`
	Fields
	// PostID links the draft to a published document, once one exists.
	PostID       string    `json:"post_id,omitempty"`
	Version      int64     `json:"version"`
	ContentHash  string    `json:"content_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastOpenedAt time.Time `json:"last_opened_at"`
}

// VersionSnapshot is an immutable point-in-time copy of a draft's content.
type VersionSnapshot struct {
	ID      string `json:"id"`
	DraftID string `json:"draft_id,omitempty"`
	Fields
	VersionNumber int64     `json:"version_number"`
	Reason        string    `json:"reason"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
	// Age is a human-facing bucket ("just now", "2h ago"), filled on list.
	Age string `json:"age,omitempty"`
}

// PushRequest carries one client write. DraftID and Version are empty on the
// first push of a session; afterwards they echo what the client last observed.
type PushRequest struct {
	DraftID   string `json:"draft_id,omitempty"`
	Version   int64  `json:"version,omitempty"`
	SessionID string `json:"session_id"`
	Fields
}

type PushResponse struct {
	DraftID string `json:"draft_id"`
	Version int64  `json:"version"`
}

// SessionDrafts is the restore workflow's view of the server state.
type SessionDrafts struct {
	Auto   *Draft `json:"auto,omitempty"`
	Manual *Draft `json:"manual,omitempty"`
}

type DiscardRequest struct {
	DraftID   string `json:"draft_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type PromoteRequest struct {
	DraftID string `json:"draft_id"`
	Name    string `json:"name"`
}

type PromoteResponse struct {
	DraftID string `json:"draft_id"`
}

type PublishRequest struct {
	DraftID string `json:"draft_id"`
	PostID  string `json:"post_id"`
}

type RestoreRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

// Fields is the flat bag of document fields the editor surface hands over.
// Meta is opaque presentation/SEO data persisted verbatim.
type Fields struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Excerpt string          `json:"excerpt"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}
