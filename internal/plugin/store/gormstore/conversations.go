package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/carevault/internal/model"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func participantRoleFor(role string) model.ParticipantRole {
	switch role {
	case security.RoleTherapist.String(), security.RoleAdmin.String():
		return model.ParticipantTherapist
	default:
		return model.ParticipantUser
	}
}

func (s *Store) StartConversation(ctx context.Context, caller security.Identity, peerID string) (*registrystore.ConversationView, bool, error) {
	if err := security.RequireAtLeast(caller, security.RoleUser); err != nil {
		return nil, false, err
	}
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, false, &registrystore.ValidationError{Field: "peerId", Message: "is required"}
	}
	if peerID == caller.ID {
		return nil, false, &registrystore.ValidationError{Field: "peerId", Message: "cannot start a conversation with yourself"}
	}

	key := pairKey(caller.ID, peerID)
	var (
		conv    model.Conversation
		peer    *model.User
		created bool
	)
	err := s.inTx(ctx, "start_conversation", func(tx *gorm.DB) error {
		self, err := findUser(tx, caller.ID)
		var missing *registrystore.NotFoundError
		if errors.As(err, &missing) {
			return &security.AuthenticationError{Message: "account no longer exists"}
		}
		if err != nil {
			return err
		}
		if peer, err = findUser(tx, peerID); err != nil {
			return err
		}
		// re-check immediately before insert; the unique pair key backs this up
		err = tx.Where("pair_key = ?", key).Take(&conv).Error
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		now := s.now()
		conv = model.Conversation{ID: uuid.New(), PairKey: key, CreatedAt: now, LastActivityAt: now}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		participants := []model.Participant{
			{ConversationID: conv.ID, UserID: self.ID, Role: participantRoleFor(self.Role), JoinedAt: now},
			{ConversationID: conv.ID, UserID: peer.ID, Role: participantRoleFor(peer.Role), JoinedAt: now},
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// a concurrent call created the pair first
		created = false
		// fresh destination: conv still carries the rolled-back insert's id
		var existing model.Conversation
		if err = s.db.WithContext(ctx).Where("pair_key = ?", key).Take(&existing).Error; err != nil {
			return nil, false, &registrystore.TransactionError{Op: "start_conversation", Err: err}
		}
		conv = existing
		if peer, err = findUser(s.db.WithContext(ctx), peerID); err != nil {
			return nil, false, err
		}
	}
	if err != nil {
		return nil, false, err
	}
	return &registrystore.ConversationView{
		ID:              conv.ID,
		PeerID:          peer.ID,
		PeerDisplayName: peer.DisplayName,
		PeerRole:        participantRoleFor(peer.Role),
		CreatedAt:       conv.CreatedAt,
		LastActivityAt:  conv.LastActivityAt,
	}, created, nil
}

type conversationRow struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	LastActivityAt  time.Time
	PeerID          string
	PeerRole        model.ParticipantRole
	PeerDisplayName *string
}

func conversationsOf(tx *gorm.DB, userID string) ([]conversationRow, error) {
	var rows []conversationRow
	err := tx.Table("conversations AS c").
		Select("c.id AS id, c.created_at AS created_at, c.last_activity_at AS last_activity_at, " +
			"peer.user_id AS peer_id, peer.role AS peer_role, u.display_name AS peer_display_name").
		Joins("JOIN participants AS me ON me.conversation_id = c.id AND me.user_id = ?", userID).
		Joins("JOIN participants AS peer ON peer.conversation_id = c.id AND peer.user_id <> ?", userID).
		Joins("LEFT JOIN users AS u ON u.id = peer.user_id").
		Order("c.last_activity_at DESC, c.id").
		Scan(&rows).Error
	return rows, err
}

func (s *Store) ListConversations(ctx context.Context, caller security.Identity) ([]registrystore.ConversationView, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	rows, err := conversationsOf(s.db.WithContext(ctx), caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	views := make([]registrystore.ConversationView, 0, len(rows))
	for _, r := range rows {
		v := registrystore.ConversationView{
			ID:             r.ID,
			PeerID:         r.PeerID,
			PeerRole:       r.PeerRole,
			CreatedAt:      r.CreatedAt,
			LastActivityAt: r.LastActivityAt,
		}
		if r.PeerDisplayName != nil {
			v.PeerDisplayName = *r.PeerDisplayName
		}
		views = append(views, v)
	}
	return views, nil
}

// participantsOf loads the conversation's member ids, optionally locking the
// conversation row so membership cannot change before the caller's write.
func (s *Store) participantsOf(tx *gorm.DB, conversationID uuid.UUID, lock bool) ([]string, error) {
	q := tx
	if lock {
		q = s.forUpdate(tx)
	}
	var conv model.Conversation
	if err := q.Select("id").Where("id = ?", conversationID).Take(&conv).Error; err != nil {
		if isNotFound(err) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
		}
		return nil, err
	}
	var ids []string
	if err := tx.Model(&model.Participant{}).Where("conversation_id = ?", conversationID).Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SendMessage(ctx context.Context, caller security.Identity, conversationID uuid.UUID, text string) (*registrystore.MessageView, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	text, err := registrystore.ValidateMessageText(text)
	if err != nil {
		return nil, err
	}
	body, err := s.cipher.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	msg := model.Message{
		ConversationID: conversationID,
		AuthorID:       caller.ID,
		Body:           body,
	}
	err = s.inTx(ctx, "send_message", func(tx *gorm.DB) error {
		members, err := s.participantsOf(tx, conversationID, true)
		if err != nil {
			return err
		}
		if err := security.RequireParticipant(caller, members...); err != nil {
			return err
		}
		// stamped under the conversation lock so commit order is timestamp order
		if msg.ID, err = uuid.NewV7(); err != nil {
			return err
		}
		msg.CreatedAt = s.now()
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ? AND last_activity_at < ?", conversationID, msg.CreatedAt).
			Update("last_activity_at", msg.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return &registrystore.MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		AuthorID:       msg.AuthorID,
		Text:           text,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

func (s *Store) GetMessages(ctx context.Context, caller security.Identity, conversationID uuid.UUID, afterCursor *string, limit int) (*registrystore.MessagePage, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	limit = registrystore.ClampMessageLimit(limit)
	var cursorID *uuid.UUID
	if afterCursor != nil && *afterCursor != "" {
		parsed, err := uuid.Parse(*afterCursor)
		if err != nil {
			return nil, &registrystore.ValidationError{Field: "afterCursor", Message: "invalid cursor"}
		}
		cursorID = &parsed
	}

	var rows []model.Message
	err := s.inTx(ctx, "get_messages", func(tx *gorm.DB) error {
		members, err := s.participantsOf(tx, conversationID, false)
		if err != nil {
			return err
		}
		if err := security.RequireParticipant(caller, members...); err != nil {
			return err
		}
		q := tx.Where("conversation_id = ?", conversationID)
		if cursorID != nil {
			var cur model.Message
			if err := tx.Select("id", "created_at").Where("id = ? AND conversation_id = ?", *cursorID, conversationID).Take(&cur).Error; err != nil {
				if isNotFound(err) {
					return &registrystore.ValidationError{Field: "afterCursor", Message: "unknown cursor"}
				}
				return err
			}
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", cur.CreatedAt, cur.CreatedAt, cur.ID)
		}
		return q.Order("created_at ASC, id ASC").Limit(limit + 1).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	page := &registrystore.MessagePage{Data: make([]registrystore.MessageView, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		next := rows[len(rows)-1].ID.String()
		page.NextCursor = &next
	}
	for i := range rows {
		page.Data = append(page.Data, s.messageView(&rows[i]))
	}
	return page, nil
}

func (s *Store) messageView(m *model.Message) registrystore.MessageView {
	text, failed := s.decryptField("message.body", m.ID.String(), m.Body)
	return registrystore.MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		Text:           text,
		DecryptFailed:  failed,
		CreatedAt:      m.CreatedAt,
	}
}
