package flagstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/flagd/models"

	"gorm.io/gorm"
)

// FlagStore backed by a SQL database (sqlite or postgres) through gorm.
type GormFlagStore struct {
	Config Config
	db     *gorm.DB
}

var _ FlagStore = (*GormFlagStore)(nil)

func NewGormFlagStore(db *gorm.DB, config Config) (*GormFlagStore, error) {
	if err := db.AutoMigrate(&models.Post{}, &models.User{}, &models.FlagRecord{}); err != nil {
		return nil, fmt.Errorf("migrating flagstore tables: %w", err)
	}
	return &GormFlagStore{
		Config: config,
		db:     db,
	}, nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return err
}

func entityModel(tt models.TargetType) (any, error) {
	switch tt {
	case models.TargetPost:
		return &models.Post{}, nil
	case models.TargetUser:
		return &models.User{}, nil
	default:
		return nil, fmt.Errorf("unhandled target type: %s", tt)
	}
}

func entityState(tx *gorm.DB, tt models.TargetType, id string) (models.FlagState, error) {
	var st models.FlagState
	var err error
	switch tt {
	case models.TargetPost:
		var p models.Post
		err = tx.Select("flag_state").Where("id = ?", id).Take(&p).Error
		st = p.FlagState
	case models.TargetUser:
		var u models.User
		err = tx.Select("flag_state").Where("id = ?", id).Take(&u).Error
		st = u.FlagState
	default:
		return "", fmt.Errorf("unhandled target type: %s", tt)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", models.ErrNotFound, models.TargetKey(tt, id))
	}
	if err != nil {
		return "", translateErr(err)
	}
	return st, nil
}

func setEntityState(tx *gorm.DB, tt models.TargetType, id string, st models.FlagState) error {
	m, err := entityModel(tt)
	if err != nil {
		return err
	}
	res := tx.Model(m).Where("id = ?", id).Updates(map[string]any{
		"flag_state": st,
		"updated_at": time.Now().UTC(),
	})
	return translateErr(res.Error)
}

// Only flag actions are subject to the duplicate policy; a remove on a live target always proceeds.
func (s *GormFlagStore) checkFlaggable(tx *gorm.DB, tt models.TargetType, id string, action models.Action, reason models.Reason) (models.FlagState, error) {
	st, err := entityState(tx, tt, id)
	if err != nil {
		return "", err
	}
	if st == models.FlagStateRemoved {
		return "", fmt.Errorf("%w: %s", models.ErrRemoved, models.TargetKey(tt, id))
	}
	if action == models.ActionFlag && !s.Config.AllowDuplicates {
		var n int64
		err := tx.Model(&models.FlagRecord{}).
			Where("target_type = ? AND target_id = ? AND action = ? AND reason = ?", tt, id, models.ActionFlag, reason).
			Count(&n).Error
		if err != nil {
			return "", translateErr(err)
		}
		if n > 0 {
			return "", fmt.Errorf("%w: %s reason=%s", models.ErrDuplicate, models.TargetKey(tt, id), reason)
		}
	}
	return st, nil
}

func (s *GormFlagStore) RecordFlag(ctx context.Context, tt models.TargetType, id string, reason models.Reason, actorID string) (*models.FlagRecord, error) {
	return s.ApplyAction(ctx, tt, id, models.ActionFlag, reason, actorID)
}

func (s *GormFlagStore) ApplyAction(ctx context.Context, tt models.TargetType, id string, action models.Action, reason models.Reason, actorID string) (*models.FlagRecord, error) {
	rec := models.FlagRecord{
		ID:         newRecordID(),
		TargetType: tt,
		TargetID:   id,
		Reason:     reason,
		Action:     action,
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.checkFlaggable(tx, tt, id, action, reason)
		if err != nil {
			return err
		}
		if err := tx.Create(&rec).Error; err != nil {
			return translateErr(err)
		}
		return setEntityState(tx, tt, id, st.Next(action))
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormFlagStore) RemoveEntity(ctx context.Context, tt models.TargetType, id string, action models.Action) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := entityState(tx, tt, id)
		if err != nil {
			return err
		}
		if st == models.FlagStateRemoved {
			return fmt.Errorf("%w: %s", models.ErrRemoved, models.TargetKey(tt, id))
		}
		return setEntityState(tx, tt, id, st.Next(action))
	})
}

func (s *GormFlagStore) GetFlagsFor(ctx context.Context, tt models.TargetType, id string) ([]models.FlagRecord, error) {
	db := s.db.WithContext(ctx)
	if _, err := entityState(db, tt, id); err != nil {
		return nil, err
	}
	out := []models.FlagRecord{}
	err := db.Where("target_type = ? AND target_id = ?", tt, id).Order("created_at asc, seq asc").Find(&out).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return out, nil
}

func (s *GormFlagStore) ListFlags(ctx context.Context, since time.Time) ([]models.FlagRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at asc, seq asc")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	out := []models.FlagRecord{}
	if err := q.Find(&out).Error; err != nil {
		return nil, translateErr(err)
	}
	return out, nil
}

func (s *GormFlagStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var p models.Post
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: post/%s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &p, nil
}

func (s *GormFlagStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	db := s.db.WithContext(ctx)
	var u models.User
	err := db.Where("id = ?", id).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user/%s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	err = db.Model(&models.FlagRecord{}).
		Where("target_type = ? AND target_id = ?", models.TargetUser, id).
		Count(&u.FlagCount).Error
	if err != nil {
		return nil, translateErr(err)
	}
	if err := db.Model(&models.Post{}).Where("author_id = ?", id).Count(&u.PostsCount).Error; err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

func (s *GormFlagStore) PutPost(ctx context.Context, post *models.Post) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var existing models.Post
		err := tx.Where("id = ?", post.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			post.FlagState = models.FlagStateClean
			if post.CreatedAt.IsZero() {
				post.CreatedAt = now
			}
			post.UpdatedAt = now
			return translateErr(tx.Create(post).Error)
		}
		if err != nil {
			return translateErr(err)
		}
		err = tx.Model(&existing).Updates(map[string]any{
			"author_id":  post.AuthorID,
			"content":    post.Content,
			"updated_at": now,
		}).Error
		if err != nil {
			return translateErr(err)
		}
		existing.AuthorID = post.AuthorID
		existing.Content = post.Content
		existing.UpdatedAt = now
		*post = existing
		return nil
	})
}

func (s *GormFlagStore) PutUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var existing models.User
		err := tx.Where("id = ?", user.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user.FlagState = models.FlagStateClean
			if user.JoinedAt.IsZero() {
				user.JoinedAt = now
			}
			user.UpdatedAt = now
			return translateErr(tx.Create(user).Error)
		}
		if err != nil {
			return translateErr(err)
		}
		err = tx.Model(&existing).Updates(map[string]any{
			"username":     user.Username,
			"display_name": user.DisplayName,
			"bio":          user.Bio,
			"updated_at":   now,
		}).Error
		if err != nil {
			return translateErr(err)
		}
		existing.Username = user.Username
		existing.DisplayName = user.DisplayName
		existing.Bio = user.Bio
		existing.UpdatedAt = now
		*user = existing
		return nil
	})
}

func (s *GormFlagStore) Ping(ctx context.Context) error {
	sqldb, err := s.db.DB()
	if err != nil {
		return translateErr(err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}
