package gormstore

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/model"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) ExportAll(ctx context.Context, caller security.Identity, userID string) (*registrystore.ExportBundle, error) {
	if userID == "" {
		userID = caller.ID
	}
	// self only, no role override
	if err := security.RequireOwnerOrRole(caller, userID); err != nil {
		return nil, err
	}

	var (
		user     *model.User
		records  []model.ContentRecord
		messages []model.Message
		convs    []conversationRow
	)
	err := s.inTx(ctx, "export_all", func(tx *gorm.DB) error {
		var err error
		if user, err = findUser(tx, userID); err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", userID).Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", userID).Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
			return err
		}
		convs, err = conversationsOf(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	bundle := &registrystore.ExportBundle{
		UserID:         userID,
		ExportedAt:     s.now(),
		Profile:        *toProfile(user),
		ContentRecords: make([]registrystore.ContentView, 0, len(records)),
		Messages:       make([]registrystore.MessageView, 0, len(messages)),
		Conversations:  make([]registrystore.ExportedConversation, 0, len(convs)),
	}
	for i := range records {
		v := s.contentView(&records[i])
		if v.DecryptFailed {
			bundle.FailedFields++
		}
		bundle.ContentRecords = append(bundle.ContentRecords, v)
	}
	for i := range messages {
		v := s.messageView(&messages[i])
		if v.DecryptFailed {
			bundle.FailedFields++
		}
		bundle.Messages = append(bundle.Messages, v)
	}
	for _, c := range convs {
		bundle.Conversations = append(bundle.Conversations, registrystore.ExportedConversation{
			ID:             c.ID,
			PeerID:         c.PeerID,
			CreatedAt:      c.CreatedAt,
			LastActivityAt: c.LastActivityAt,
		})
	}
	return bundle, nil
}

func (s *Store) EraseAll(ctx context.Context, caller security.Identity, userID, confirmation string) (*registrystore.ErasureReceipt, error) {
	// checked before anything else so a wrong phrase has no side effects
	if confirmation != registrystore.EraseConfirmationPhrase {
		return nil, &registrystore.ValidationError{
			Field:   "confirmation",
			Message: `must be exactly "` + registrystore.EraseConfirmationPhrase + `"`,
		}
	}
	if userID == "" {
		userID = caller.ID
	}
	if err := security.RequireOwnerOrRole(caller, userID); err != nil {
		return nil, err
	}

	receipt := &registrystore.ErasureReceipt{UserID: userID}
	err := s.inTx(ctx, "erase_all", func(tx *gorm.DB) error {
		if _, err := findUser(s.forUpdate(tx), userID); err != nil {
			return err
		}

		var joined []uuid.UUID
		if err := tx.Model(&model.Participant{}).Where("user_id = ?", userID).Pluck("conversation_id", &joined).Error; err != nil {
			return err
		}

		res := tx.Where("author_id = ?", userID).Delete(&model.Message{})
		if res.Error != nil {
			return res.Error
		}
		receipt.Messages = res.RowsAffected

		res = tx.Where("user_id = ?", userID).Delete(&model.Participant{})
		if res.Error != nil {
			return res.Error
		}
		receipt.Memberships = res.RowsAffected

		if len(joined) > 0 {
			var orphaned []uuid.UUID
			err := tx.Model(&model.Conversation{}).
				Where("id IN ?", joined).
				Where("(SELECT COUNT(*) FROM participants AS p WHERE p.conversation_id = conversations.id) < 2").
				Pluck("id", &orphaned).Error
			if err != nil {
				return err
			}
			if len(orphaned) > 0 {
				res = tx.Where("conversation_id IN ?", orphaned).Delete(&model.Message{})
				if res.Error != nil {
					return res.Error
				}
				receipt.Messages += res.RowsAffected
				if err := tx.Where("conversation_id IN ?", orphaned).Delete(&model.Participant{}).Error; err != nil {
					return err
				}
				res = tx.Where("id IN ?", orphaned).Delete(&model.Conversation{})
				if res.Error != nil {
					return res.Error
				}
				receipt.ConversationsRemoved = res.RowsAffected
			}
		}

		res = tx.Where("owner_id = ?", userID).Delete(&model.ContentRecord{})
		if res.Error != nil {
			return res.Error
		}
		receipt.ContentRecords = res.RowsAffected

		return tx.Where("id = ?", userID).Delete(&model.User{}).Error
	})
	if err != nil {
		return nil, err
	}

	receipt.Erased = true
	receipt.ErasedAt = s.now()
	s.invalidate(ctx, registrycache.KeyTherapistDirectory, registrycache.ProvisionedKey(userID))
	log.Info("Account erased",
		"userId", userID,
		"contentRecords", receipt.ContentRecords,
		"messages", receipt.Messages,
		"conversations", receipt.ConversationsRemoved,
	)
	return receipt, nil
}
