package model

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role a participant held when joining a conversation.
type ParticipantRole string

const (
	ParticipantUser      ParticipantRole = "user"
	ParticipantTherapist ParticipantRole = "therapist"
)

// ContentKind classifies a content record.
type ContentKind string

const (
	ContentJournal ContentKind = "journal"
	ContentMood    ContentKind = "mood"
	ContentNote    ContentKind = "note"
)

// Valid reports whether k is a known kind.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentJournal, ContentMood, ContentNote:
		return true
	}
	return false
}

// User is an account. External users come from the OIDC provider and have no password.
type User struct {
	ID           string    `gorm:"primaryKey;size:255"`
	Email        *string   `gorm:"uniqueIndex;size:320"`
	DisplayName  string    `gorm:"size:100;not null"`
	PasswordHash string    `gorm:"size:255;not null"`
	Role         string    `gorm:"size:16;not null;index"`
	External     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Conversation is a two-party conversation. PairKey is the sorted pair of
// participant ids; its unique index prevents duplicate conversations.
type Conversation struct {
	ID             uuid.UUID `gorm:"primaryKey;type:uuid"`
	PairKey        string    `gorm:"size:511;not null;uniqueIndex:idx_conversations_pair_key"`
	CreatedAt      time.Time `gorm:"not null"`
	LastActivityAt time.Time `gorm:"not null;index"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant is one member of a conversation.
type Participant struct {
	ConversationID uuid.UUID       `gorm:"primaryKey;type:uuid"`
	UserID         string          `gorm:"primaryKey;size:255;index"`
	Role           ParticipantRole `gorm:"size:16;not null"`
	JoinedAt       time.Time       `gorm:"not null"`
}

func (Participant) TableName() string { return "participants" }

// Message is one encrypted chat message. Body holds the serialized envelope.
type Message struct {
	ID             uuid.UUID `gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1"`
	AuthorID       string    `gorm:"size:255;not null;index"`
	Body           string    `gorm:"type:text;not null"` // encrypted
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}

func (Message) TableName() string { return "messages" }

// ContentRecord is a journal entry, mood note or free note owned by one user.
// Only Body is sensitive; the remaining columns are filterable metadata.
type ContentRecord struct {
	ID          uuid.UUID   `gorm:"primaryKey;type:uuid"`
	OwnerID     string      `gorm:"size:255;not null;index:idx_content_owner_created,priority:1"`
	Kind        ContentKind `gorm:"size:16;not null"`
	Category    string      `gorm:"size:64;not null"`
	MoodScore   *int
	EnergyScore *int
	Tags        []string  `gorm:"type:text;serializer:json"`
	WordCount   int       `gorm:"not null"`
	Body        string    `gorm:"type:text;not null"` // encrypted
	CreatedAt   time.Time `gorm:"not null;index:idx_content_owner_created,priority:2"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (ContentRecord) TableName() string { return "content_records" }

// All lists every model in dependency order, for migrations.
func All() []any {
	return []any{&User{}, &Conversation{}, &Participant{}, &Message{}, &ContentRecord{}}
}
