package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chirino/carevault/internal/model"
	"github.com/chirino/carevault/internal/security"
	"github.com/google/uuid"
)

// EraseConfirmationPhrase must be supplied verbatim to erase an account.
const EraseConfirmationPhrase = "DELETE MY DATA"

// UserProfile is the public view of an account.
type UserProfile struct {
	ID          string        `json:"id"`
	Email       string        `json:"email,omitempty"`
	DisplayName string        `json:"displayName"`
	Role        security.Role `json:"role"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Identity returns the identity a token for this profile would carry.
func (p *UserProfile) Identity() security.Identity {
	return security.Identity{ID: p.ID, Role: p.Role}
}

// RegisterRequest creates a password account.
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        security.Role
}

// DirectoryEntry is a therapist listed in the public directory.
type DirectoryEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// PatientSummary is a patient visible to a therapist or admin. Metadata only.
type PatientSummary struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"displayName"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	ID              uuid.UUID             `json:"id"`
	PeerID          string                `json:"peerId"`
	PeerDisplayName string                `json:"peerDisplayName,omitempty"`
	PeerRole        model.ParticipantRole `json:"peerRole"`
	CreatedAt       time.Time             `json:"createdAt"`
	LastActivityAt  time.Time             `json:"lastActivityAt"`
}

// MessageView is a decrypted message. DecryptFailed marks a placeholder text.
type MessageView struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	AuthorID       string    `json:"authorId"`
	Text           string    `json:"text"`
	DecryptFailed  bool      `json:"decryptFailed,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessagePage is one page of a conversation's history in creation order.
type MessagePage struct {
	Data       []MessageView `json:"data"`
	NextCursor *string       `json:"nextCursor"`
}

// ContentInput holds the client-supplied fields of a new content record.
type ContentInput struct {
	Kind        model.ContentKind `json:"kind"`
	Category    string            `json:"category"`
	MoodScore   *int              `json:"moodScore"`
	EnergyScore *int              `json:"energyScore"`
	Tags        []string          `json:"tags"`
	Text        string            `json:"text"`
}

// ContentPatch holds the fields of an update. Nil means unchanged; fields
// named in Clear are reset to empty.
type ContentPatch struct {
	Category    *string   `json:"category"`
	MoodScore   *int      `json:"moodScore"`
	EnergyScore *int      `json:"energyScore"`
	Tags        *[]string `json:"tags"`
	Text        *string   `json:"text"`
	Clear       []string  `json:"-"`
}

// ClearableContentFields are the patch fields an explicit null resets.
var ClearableContentFields = []string{"category", "moodScore", "energyScore", "tags"}

// Clears reports whether field is to be reset.
func (p *ContentPatch) Clears(field string) bool {
	return slices.Contains(p.Clear, field)
}

// ContentFilter narrows ListContent on unencrypted metadata.
type ContentFilter struct {
	Kind     *model.ContentKind
	Category *string
}

// ContentView is a decrypted content record.
type ContentView struct {
	ID            uuid.UUID         `json:"id"`
	OwnerID       string            `json:"ownerId"`
	Kind          model.ContentKind `json:"kind"`
	Category      string            `json:"category,omitempty"`
	MoodScore     *int              `json:"moodScore,omitempty"`
	EnergyScore   *int              `json:"energyScore,omitempty"`
	Tags          []string          `json:"tags"`
	WordCount     int               `json:"wordCount"`
	Text          string            `json:"text"`
	DecryptFailed bool              `json:"decryptFailed,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// ExportedConversation lists a conversation the user took part in, without content.
type ExportedConversation struct {
	ID             uuid.UUID `json:"id"`
	PeerID         string    `json:"peerId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// ExportBundle is everything stored about one user, decrypted.
type ExportBundle struct {
	UserID         string                 `json:"userId"`
	ExportedAt     time.Time              `json:"exportedAt"`
	Profile        UserProfile            `json:"profile"`
	ContentRecords []ContentView          `json:"contentRecords"`
	Messages       []MessageView          `json:"messages"`
	Conversations  []ExportedConversation `json:"conversations"`
	FailedFields   int                    `json:"failedFields"`
}

// ErasureReceipt reports what an erasure removed.
type ErasureReceipt struct {
	UserID               string    `json:"userId"`
	Erased               bool      `json:"erased"`
	ErasedAt             time.Time `json:"erasedAt"`
	ContentRecords       int64     `json:"contentRecords"`
	Messages             int64     `json:"messages"`
	Memberships          int64     `json:"memberships"`
	ConversationsRemoved int64     `json:"conversationsRemoved"`
}

// AccountStore manages users and their roles.
type AccountStore interface {
	// RegisterUser creates a password account. Duplicate emails are a ConflictError.
	RegisterUser(ctx context.Context, req RegisterRequest) (*UserProfile, error)
	// Authenticate checks a password login. Every failure is an AuthenticationError.
	Authenticate(ctx context.Context, email, password string) (*UserProfile, error)
	// EnsureExternalUser provisions an OIDC identity on first sight.
	EnsureExternalUser(ctx context.Context, id security.Identity, displayName string) error
	GetUser(ctx context.Context, caller security.Identity, userID string) (*UserProfile, error)
	SetUserRole(ctx context.Context, caller security.Identity, userID string, role security.Role) (*UserProfile, error)
	ListTherapists(ctx context.Context, caller security.Identity) ([]DirectoryEntry, error)
	ListPatients(ctx context.Context, caller security.Identity) ([]PatientSummary, error)
}

// ConversationStore manages two-party conversations and their encrypted messages.
type ConversationStore interface {
	// StartConversation returns the caller's conversation with peerID, creating
	// it when none exists. created reports whether this call created it.
	StartConversation(ctx context.Context, caller security.Identity, peerID string) (conv *ConversationView, created bool, err error)
	ListConversations(ctx context.Context, caller security.Identity) ([]ConversationView, error)
	SendMessage(ctx context.Context, caller security.Identity, conversationID uuid.UUID, text string) (*MessageView, error)
	GetMessages(ctx context.Context, caller security.Identity, conversationID uuid.UUID, afterCursor *string, limit int) (*MessagePage, error)
}

// ContentRecordStore manages encrypted content records. Access is ownership-only.
type ContentRecordStore interface {
	CreateContent(ctx context.Context, caller security.Identity, in ContentInput) (*ContentView, error)
	ListContent(ctx context.Context, caller security.Identity, filter ContentFilter) ([]ContentView, error)
	GetContent(ctx context.Context, caller security.Identity, recordID uuid.UUID) (*ContentView, error)
	UpdateContent(ctx context.Context, caller security.Identity, recordID uuid.UUID, patch ContentPatch) (*ContentView, error)
	DeleteContent(ctx context.Context, caller security.Identity, recordID uuid.UUID) error
}

// DataLifecycleManager exports and erases everything stored about one user.
type DataLifecycleManager interface {
	ExportAll(ctx context.Context, caller security.Identity, userID string) (*ExportBundle, error)
	EraseAll(ctx context.Context, caller security.Identity, userID, confirmation string) (*ErasureReceipt, error)
}

// CareStore is the full persistence surface of carevault.
type CareStore interface {
	AccountStore
	ConversationStore
	ContentRecordStore
	DataLifecycleManager

	// Ping checks connectivity for readiness probes.
	Ping(ctx context.Context) error
}

// Loader creates a CareStore from config.
type Loader func(ctx context.Context) (CareStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
