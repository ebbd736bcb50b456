package gormstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/carevault/internal/model"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) contentView(r *model.ContentRecord) registrystore.ContentView {
	text, failed := s.decryptField("content.body", r.ID.String(), r.Body)
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return registrystore.ContentView{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Kind:          r.Kind,
		Category:      r.Category,
		MoodScore:     r.MoodScore,
		EnergyScore:   r.EnergyScore,
		Tags:          tags,
		WordCount:     r.WordCount,
		Text:          text,
		DecryptFailed: failed,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.TrimSpace(t))
	}
	return out
}

func (s *Store) CreateContent(ctx context.Context, caller security.Identity, in registrystore.ContentInput) (*registrystore.ContentView, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	body, err := s.cipher.Encrypt(in.Text)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}
	now := s.now()
	rec := model.ContentRecord{
		ID:          uuid.New(),
		OwnerID:     caller.ID,
		Kind:        in.Kind,
		Category:    in.Category,
		MoodScore:   in.MoodScore,
		EnergyScore: in.EnergyScore,
		Tags:        normalizeTags(in.Tags),
		WordCount:   registrystore.WordCount(in.Text),
		Body:        body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.inTx(ctx, "create_content", func(tx *gorm.DB) error {
		if _, err := currentRole(tx, caller); err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	view := s.contentView(&rec)
	view.Text = in.Text
	return &view, nil
}

func (s *Store) ListContent(ctx context.Context, caller security.Identity, filter registrystore.ContentFilter) ([]registrystore.ContentView, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("owner_id = ?", caller.ID)
	if filter.Kind != nil {
		q = q.Where("kind = ?", *filter.Kind)
	}
	if filter.Category != nil {
		q = q.Where("category = ?", *filter.Category)
	}
	var rows []model.ContentRecord
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	views := make([]registrystore.ContentView, 0, len(rows))
	for i := range rows {
		views = append(views, s.contentView(&rows[i]))
	}
	return views, nil
}

// ownedRecord loads a record and applies the ownership-only rule.
func (s *Store) ownedRecord(tx *gorm.DB, caller security.Identity, recordID uuid.UUID) (*model.ContentRecord, error) {
	var rec model.ContentRecord
	if err := tx.Where("id = ?", recordID).Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return nil, &registrystore.NotFoundError{Resource: "content record", ID: recordID.String()}
		}
		return nil, err
	}
	if err := security.RequireOwnerOrRole(caller, rec.OwnerID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetContent(ctx context.Context, caller security.Identity, recordID uuid.UUID) (*registrystore.ContentView, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	rec, err := s.ownedRecord(s.db.WithContext(ctx), caller, recordID)
	if err != nil {
		return nil, err
	}
	view := s.contentView(rec)
	return &view, nil
}

func (s *Store) UpdateContent(ctx context.Context, caller security.Identity, recordID uuid.UUID, patch registrystore.ContentPatch) (*registrystore.ContentView, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var body string
	if patch.Text != nil {
		var err error
		if body, err = s.cipher.Encrypt(*patch.Text); err != nil {
			return nil, fmt.Errorf("encrypt content: %w", err)
		}
	}

	var rec *model.ContentRecord
	err := s.inTx(ctx, "update_content", func(tx *gorm.DB) error {
		var err error
		if rec, err = s.ownedRecord(s.forUpdate(tx), caller, recordID); err != nil {
			return err
		}
		var columns []string
		if patch.Text != nil {
			if rec.Kind != model.ContentMood && strings.TrimSpace(*patch.Text) == "" {
				return &registrystore.ValidationError{Field: "text", Message: "is required for " + string(rec.Kind)}
			}
			rec.Body = body
			rec.WordCount = registrystore.WordCount(*patch.Text)
			columns = append(columns, "body", "word_count")
		}
		if patch.Category != nil {
			rec.Category = *patch.Category
			columns = append(columns, "category")
		}
		if patch.MoodScore != nil {
			rec.MoodScore = patch.MoodScore
			columns = append(columns, "mood_score")
		}
		if patch.EnergyScore != nil {
			rec.EnergyScore = patch.EnergyScore
			columns = append(columns, "energy_score")
		}
		if patch.Tags != nil {
			rec.Tags = normalizeTags(*patch.Tags)
			columns = append(columns, "tags")
		}
		if patch.Clears("category") {
			rec.Category = ""
			columns = append(columns, "category")
		}
		if patch.Clears("moodScore") {
			if rec.Kind == model.ContentMood {
				return &registrystore.ValidationError{Field: "moodScore", Message: "is required for mood"}
			}
			rec.MoodScore = nil
			columns = append(columns, "mood_score")
		}
		if patch.Clears("energyScore") {
			rec.EnergyScore = nil
			columns = append(columns, "energy_score")
		}
		if patch.Clears("tags") {
			rec.Tags = []string{}
			columns = append(columns, "tags")
		}
		if len(columns) == 0 {
			return nil
		}
		rec.UpdatedAt = s.now()
		columns = append(columns, "updated_at")
		return tx.Model(rec).Select(columns).Updates(rec).Error
	})
	if err != nil {
		return nil, err
	}
	view := s.contentView(rec)
	return &view, nil
}

func (s *Store) DeleteContent(ctx context.Context, caller security.Identity, recordID uuid.UUID) error {
	if err := security.RequireAuthenticated(caller); err != nil {
		return err
	}
	return s.inTx(ctx, "delete_content", func(tx *gorm.DB) error {
		rec, err := s.ownedRecord(s.forUpdate(tx), caller, recordID)
		if err != nil {
			return err
		}
		return tx.Delete(rec).Error
	})
}
