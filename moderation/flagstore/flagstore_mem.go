package flagstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluesky-social/flagd/models"
)

type MemFlagStore struct {
	Config Config

	lk    sync.RWMutex
	posts map[string]models.Post
	users map[string]models.User
	flags map[string][]models.FlagRecord
	all   []models.FlagRecord
	seq   uint64
}

var _ FlagStore = (*MemFlagStore)(nil)

func NewMemFlagStore(config Config) *MemFlagStore {
	return &MemFlagStore{
		Config: config,
		posts:  make(map[string]models.Post),
		users:  make(map[string]models.User),
		flags:  make(map[string][]models.FlagRecord),
	}
}

// caller must hold the lock
func (s *MemFlagStore) state(tt models.TargetType, id string) (models.FlagState, error) {
	switch tt {
	case models.TargetPost:
		if p, ok := s.posts[id]; ok {
			return p.FlagState, nil
		}
	case models.TargetUser:
		if u, ok := s.users[id]; ok {
			return u.FlagState, nil
		}
	default:
		return "", fmt.Errorf("unhandled target type: %s", tt)
	}
	return "", fmt.Errorf("%w: %s", models.ErrNotFound, models.TargetKey(tt, id))
}

// caller must hold the write lock
func (s *MemFlagStore) setState(tt models.TargetType, id string, st models.FlagState) {
	now := time.Now().UTC()
	switch tt {
	case models.TargetPost:
		p := s.posts[id]
		p.FlagState = st
		p.UpdatedAt = now
		s.posts[id] = p
	case models.TargetUser:
		u := s.users[id]
		u.FlagState = st
		u.UpdatedAt = now
		s.users[id] = u
	}
}

// caller must hold the lock
// Only flag actions are subject to the duplicate policy; a remove on a live target always proceeds.
func (s *MemFlagStore) checkFlaggable(tt models.TargetType, id string, action models.Action, reason models.Reason) (models.FlagState, error) {
	st, err := s.state(tt, id)
	if err != nil {
		return "", err
	}
	if st == models.FlagStateRemoved {
		return "", fmt.Errorf("%w: %s", models.ErrRemoved, models.TargetKey(tt, id))
	}
	if action == models.ActionFlag && !s.Config.AllowDuplicates {
		for _, rec := range s.flags[models.TargetKey(tt, id)] {
			if rec.Action == models.ActionFlag && rec.Reason == reason {
				return "", fmt.Errorf("%w: %s reason=%s", models.ErrDuplicate, models.TargetKey(tt, id), reason)
			}
		}
	}
	return st, nil
}

// caller must hold the write lock
func (s *MemFlagStore) appendRecord(tt models.TargetType, id string, action models.Action, reason models.Reason, actorID string) models.FlagRecord {
	s.seq++
	rec := models.FlagRecord{
		Seq:        s.seq,
		ID:         newRecordID(),
		TargetType: tt,
		TargetID:   id,
		Reason:     reason,
		Action:     action,
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	}
	key := rec.TargetKey()
	s.flags[key] = append(s.flags[key], rec)
	s.all = append(s.all, rec)
	return rec
}

func (s *MemFlagStore) RecordFlag(ctx context.Context, tt models.TargetType, id string, reason models.Reason, actorID string) (*models.FlagRecord, error) {
	return s.ApplyAction(ctx, tt, id, models.ActionFlag, reason, actorID)
}

func (s *MemFlagStore) ApplyAction(ctx context.Context, tt models.TargetType, id string, action models.Action, reason models.Reason, actorID string) (*models.FlagRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lk.Lock()
	defer s.lk.Unlock()

	// all validation happens before any mutation
	st, err := s.checkFlaggable(tt, id, action, reason)
	if err != nil {
		return nil, err
	}
	rec := s.appendRecord(tt, id, action, reason, actorID)
	s.setState(tt, id, st.Next(action))
	return &rec, nil
}

func (s *MemFlagStore) RemoveEntity(ctx context.Context, tt models.TargetType, id string, action models.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lk.Lock()
	defer s.lk.Unlock()

	st, err := s.state(tt, id)
	if err != nil {
		return err
	}
	if st == models.FlagStateRemoved {
		return fmt.Errorf("%w: %s", models.ErrRemoved, models.TargetKey(tt, id))
	}
	s.setState(tt, id, st.Next(action))
	return nil
}

func (s *MemFlagStore) GetFlagsFor(ctx context.Context, tt models.TargetType, id string) ([]models.FlagRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lk.RLock()
	defer s.lk.RUnlock()

	if _, err := s.state(tt, id); err != nil {
		return nil, err
	}
	l := s.flags[models.TargetKey(tt, id)]
	out := make([]models.FlagRecord, len(l))
	copy(out, l)
	return out, nil
}

func (s *MemFlagStore) ListFlags(ctx context.Context, since time.Time) ([]models.FlagRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lk.RLock()
	defer s.lk.RUnlock()

	out := []models.FlagRecord{}
	for _, rec := range s.all {
		if rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemFlagStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lk.RLock()
	defer s.lk.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: post/%s", models.ErrNotFound, id)
	}
	return &p, nil
}

func (s *MemFlagStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lk.RLock()
	defer s.lk.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user/%s", models.ErrNotFound, id)
	}
	u.FlagCount = int64(len(s.flags[models.TargetKey(models.TargetUser, id)]))
	for _, p := range s.posts {
		if p.AuthorID == id {
			u.PostsCount++
		}
	}
	return &u, nil
}

func (s *MemFlagStore) PutPost(ctx context.Context, post *models.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lk.Lock()
	defer s.lk.Unlock()

	now := time.Now().UTC()
	p, ok := s.posts[post.ID]
	if !ok {
		p = models.Post{
			ID:        post.ID,
			FlagState: models.FlagStateClean,
			CreatedAt: post.CreatedAt,
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}
	p.AuthorID = post.AuthorID
	p.Content = post.Content
	p.UpdatedAt = now
	s.posts[post.ID] = p
	*post = p
	return nil
}

func (s *MemFlagStore) PutUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lk.Lock()
	defer s.lk.Unlock()

	now := time.Now().UTC()
	u, ok := s.users[user.ID]
	if !ok {
		u = models.User{
			ID:        user.ID,
			FlagState: models.FlagStateClean,
			JoinedAt:  user.JoinedAt,
		}
		if u.JoinedAt.IsZero() {
			u.JoinedAt = now
		}
	}
	u.Username = user.Username
	u.DisplayName = user.DisplayName
	u.Bio = user.Bio
	u.UpdatedAt = now
	s.users[user.ID] = u
	*user = u
	return nil
}

func (s *MemFlagStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
