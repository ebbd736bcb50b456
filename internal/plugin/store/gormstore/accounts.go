package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/model"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func toProfile(u *model.User) *registrystore.UserProfile {
	role, err := security.ParseRole(u.Role)
	if err != nil {
		role = security.RoleGuest
	}
	p := &registrystore.UserProfile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Role:        role,
		CreatedAt:   u.CreatedAt,
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	return p
}

func findUser(tx *gorm.DB, userID string) (*model.User, error) {
	var u model.User
	if err := tx.Where("id = ?", userID).Take(&u).Error; err != nil {
		if isNotFound(err) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
		}
		return nil, err
	}
	return &u, nil
}

// currentRole re-reads the caller's role inside tx. A caller whose account is
// gone is no longer authenticated.
func currentRole(tx *gorm.DB, caller security.Identity) (security.Role, error) {
	var u model.User
	if err := tx.Select("id", "role").Where("id = ?", caller.ID).Take(&u).Error; err != nil {
		if isNotFound(err) {
			return security.RoleGuest, &security.AuthenticationError{Message: "account no longer exists"}
		}
		return security.RoleGuest, err
	}
	role, err := security.ParseRole(u.Role)
	if err != nil {
		return security.RoleGuest, fmt.Errorf("user %s has invalid role: %w", u.ID, err)
	}
	return role, nil
}

func (s *Store) RegisterUser(ctx context.Context, req registrystore.RegisterRequest) (*registrystore.UserProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Role == security.RoleGuest {
		req.Role = security.RoleUser
	}
	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	email := req.Email
	user := model.User{
		ID:           uuid.NewString(),
		Email:        &email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         req.Role.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &registrystore.ConflictError{Message: "an account with this email already exists", Code: "email_taken"}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if req.Role == security.RoleTherapist {
		s.invalidate(ctx, registrycache.KeyTherapistDirectory)
	}
	log.Info("User registered", "userId", user.ID, "role", user.Role)
	return toProfile(&user), nil
}

func (s *Store) Authenticate(ctx context.Context, email, password string) (*registrystore.UserProfile, error) {
	invalid := &security.AuthenticationError{Message: "invalid email or password"}
	normalized, err := registrystore.NormalizeEmail(email)
	if err != nil {
		security.BurnPasswordCheck(password)
		return nil, invalid
	}
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&user).Error; err != nil {
		if isNotFound(err) {
			security.BurnPasswordCheck(password)
			return nil, invalid
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user.External || user.PasswordHash == "" {
		security.BurnPasswordCheck(password)
		return nil, invalid
	}
	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		log.Error("Stored password hash is malformed", "userId", user.ID)
		return nil, invalid
	}
	if !ok {
		return nil, invalid
	}
	return toProfile(&user), nil
}

func (s *Store) EnsureExternalUser(ctx context.Context, id security.Identity, displayName string) error {
	if id.IsGuest() || !id.External {
		return fmt.Errorf("only external identities are provisioned")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = id.ID
	}
	if len([]rune(displayName)) > registrystore.MaxDisplayNameLength {
		displayName = string([]rune(displayName)[:registrystore.MaxDisplayNameLength])
	}
	now := s.now()
	var roleChanged bool
	err := s.inTx(ctx, "ensure_external_user", func(tx *gorm.DB) error {
		user := model.User{
			ID:          id.ID,
			DisplayName: displayName,
			Role:        id.Role.String(),
			External:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
			return err
		}
		// the identity provider owns the role of external users
		res := tx.Model(&model.User{}).
			Where("id = ? AND external = ? AND role <> ?", id.ID, true, id.Role.String()).
			Updates(map[string]any{"role": id.Role.String(), "updated_at": now})
		roleChanged = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return err
	}
	if roleChanged || id.Role == security.RoleTherapist {
		s.invalidate(ctx, registrycache.KeyTherapistDirectory)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, caller security.Identity, userID string) (*registrystore.UserProfile, error) {
	if err := security.RequireOwnerOrRole(caller, userID, security.RoleAdmin); err != nil {
		return nil, err
	}
	user, err := findUser(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	return toProfile(user), nil
}

func (s *Store) SetUserRole(ctx context.Context, caller security.Identity, userID string, role security.Role) (*registrystore.UserProfile, error) {
	if err := security.RequireRole(caller, security.RoleAdmin); err != nil {
		return nil, err
	}
	if role == security.RoleGuest {
		return nil, &registrystore.ValidationError{Field: "role", Message: "must be one of user, therapist, admin"}
	}
	if userID == caller.ID {
		return nil, &registrystore.ValidationError{Field: "userId", Message: "admins cannot change their own role"}
	}
	var updated *model.User
	err := s.inTx(ctx, "set_user_role", func(tx *gorm.DB) error {
		current, err := currentRole(tx, caller)
		if err != nil {
			return err
		}
		if err := security.RequireRole(security.Identity{ID: caller.ID, Role: current}, security.RoleAdmin); err != nil {
			return err
		}
		target, err := findUser(s.forUpdate(tx), userID)
		if err != nil {
			return err
		}
		if target.External {
			return &registrystore.ValidationError{Field: "userId", Message: "roles of external users are managed by the identity provider"}
		}
		target.Role = role.String()
		target.UpdatedAt = s.now()
		if err := tx.Model(target).Select("role", "updated_at").Updates(target).Error; err != nil {
			return err
		}
		updated = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, registrycache.KeyTherapistDirectory)
	log.Info("User role changed", "userId", userID, "role", role, "by", caller.ID)
	return toProfile(updated), nil
}

func (s *Store) ListTherapists(ctx context.Context, caller security.Identity) ([]registrystore.DirectoryEntry, error) {
	if err := security.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	if s.cache != nil && s.cache.Available() {
		data, ok, err := s.cache.Get(ctx, registrycache.KeyTherapistDirectory)
		if err != nil {
			log.Warn("Directory cache read failed", "err", err)
		} else if ok {
			var entries []registrystore.DirectoryEntry
			if err := json.Unmarshal(data, &entries); err == nil {
				return entries, nil
			}
		}
	}

	gen := s.directoryGen.Load()
	entries := []registrystore.DirectoryEntry{}
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Select("id", "display_name").
		Where("role = ?", security.RoleTherapist.String()).
		Order("display_name, id").
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list therapists: %w", err)
	}

	// an invalidation during the read means entries may already be stale
	if s.cache != nil && s.cache.Available() && s.directoryGen.Load() == gen {
		if data, err := json.Marshal(entries); err == nil {
			if err := s.cache.Set(ctx, registrycache.KeyTherapistDirectory, data, s.cacheTTL); err != nil {
				log.Warn("Directory cache write failed", "err", err)
			}
			if s.directoryGen.Load() != gen {
				s.invalidate(ctx, registrycache.KeyTherapistDirectory)
			}
		}
	}
	return entries, nil
}

func (s *Store) ListPatients(ctx context.Context, caller security.Identity) ([]registrystore.PatientSummary, error) {
	if err := security.RequireAtLeast(caller, security.RoleTherapist); err != nil {
		return nil, err
	}
	patients := []registrystore.PatientSummary{}
	err := s.inTx(ctx, "list_patients", func(tx *gorm.DB) error {
		role, err := currentRole(tx, caller)
		if err != nil {
			return err
		}
		if err := security.RequireAtLeast(security.Identity{ID: caller.ID, Role: role}, security.RoleTherapist); err != nil {
			return err
		}
		if role == security.RoleAdmin {
			return tx.Model(&model.User{}).
				Select("id", "display_name").
				Where("role = ?", security.RoleUser.String()).
				Order("display_name, id").
				Scan(&patients).Error
		}
		return tx.Table("participants AS me").
			Select("u.id AS id, u.display_name AS display_name, c.id AS conversation_id, c.last_activity_at AS last_activity_at").
			Joins("JOIN participants AS peer ON peer.conversation_id = me.conversation_id AND peer.user_id <> me.user_id").
			Joins("JOIN users AS u ON u.id = peer.user_id").
			Joins("JOIN conversations AS c ON c.id = me.conversation_id").
			Where("me.user_id = ? AND u.role = ?", caller.ID, security.RoleUser.String()).
			Order("c.last_activity_at DESC, u.id").
			Scan(&patients).Error
	})
	if err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if slices.Contains(keys, registrycache.KeyTherapistDirectory) {
		s.directoryGen.Add(1)
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		log.Warn("Cache invalidation failed", "keys", keys, "err", err)
	}
}
