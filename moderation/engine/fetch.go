package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluesky-social/flagd/models"
)

// Fetches a post, from the cache when possible.
func (eng *Engine) GetPost(ctx context.Context, id string) (*models.Post, error) {
	if err := models.ValidateID(id); err != nil {
		return nil, err
	}
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	var p models.Post
	if ok := eng.cacheGet(ctx, string(models.TargetPost), id, &p); ok {
		return &p, nil
	}
	release, err := eng.locks.Acquire(ctx, models.TargetKey(models.TargetPost, id))
	if err != nil {
		return nil, timeoutErr(err)
	}
	defer release()

	post, err := eng.Store.GetPost(ctx, id)
	if err != nil {
		return nil, timeoutErr(err)
	}
	eng.cacheSet(ctx, string(models.TargetPost), id, post)
	return post, nil
}

// Fetches a user with derived counts (flags, posts).
func (eng *Engine) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := models.ValidateID(id); err != nil {
		return nil, err
	}
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	var u models.User
	if ok := eng.cacheGet(ctx, string(models.TargetUser), id, &u); ok {
		return &u, nil
	}
	release, err := eng.locks.Acquire(ctx, models.TargetKey(models.TargetUser, id))
	if err != nil {
		return nil, timeoutErr(err)
	}
	defer release()

	user, err := eng.Store.GetUser(ctx, id)
	if err != nil {
		return nil, timeoutErr(err)
	}
	eng.cacheSet(ctx, string(models.TargetUser), id, user)
	return user, nil
}

// Flag records for a target, oldest first. A non-zero 'since' skips older records.
func (eng *Engine) GetFlagsFor(ctx context.Context, tt models.TargetType, id string, since time.Time) ([]models.FlagRecord, error) {
	if err := models.ValidateID(id); err != nil {
		return nil, err
	}
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	recs, err := eng.Store.GetFlagsFor(ctx, tt, id)
	if err != nil {
		return nil, timeoutErr(err)
	}
	if since.IsZero() {
		return recs, nil
	}
	out := make([]models.FlagRecord, 0, len(recs))
	for _, r := range recs {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Aggregate statistics, plus windowed counts when a CountStore is configured.
//
// Totals reflect every committed record except those whose stats update is still in flight (at most one per target).
func (eng *Engine) Snapshot(ctx context.Context) (*models.StatsSnapshot, error) {
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	snap := eng.Stats.Snapshot()
	recent, err := eng.Stats.Recent(ctx)
	if err != nil {
		// windowed counts are best-effort
		eng.Logger.Warn("failed to read recent flag counters", "err", err)
	} else {
		snap.Recent = recent
	}
	return &snap, nil
}

// Creates or updates a post's content. Existing flag state is preserved.
func (eng *Engine) UpsertPost(ctx context.Context, post *models.Post) error {
	if err := models.ValidateID(post.ID); err != nil {
		return err
	}
	if err := models.ValidateID(post.AuthorID); err != nil {
		return fmt.Errorf("author: %w", err)
	}
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	release, err := eng.locks.Acquire(ctx, models.TargetKey(models.TargetPost, post.ID))
	if err != nil {
		return timeoutErr(err)
	}
	defer release()

	if err := eng.Store.PutPost(ctx, post); err != nil {
		return timeoutErr(err)
	}
	eng.purgeTargetCaches(ctx, models.TargetPost, post.ID)

	// the author's posts count changed; purge under the author's lock so a concurrent read can't re-cache the old count
	releaseAuthor, err := eng.locks.Acquire(ctx, models.TargetKey(models.TargetUser, post.AuthorID))
	if err != nil {
		return timeoutErr(err)
	}
	defer releaseAuthor()
	eng.purgeTargetCaches(ctx, models.TargetUser, post.AuthorID)
	return nil
}

// Creates or updates a user's profile. Existing flag state is preserved.
func (eng *Engine) UpsertUser(ctx context.Context, user *models.User) error {
	if err := models.ValidateID(user.ID); err != nil {
		return err
	}
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	release, err := eng.locks.Acquire(ctx, models.TargetKey(models.TargetUser, user.ID))
	if err != nil {
		return timeoutErr(err)
	}
	defer release()

	if err := eng.Store.PutUser(ctx, user); err != nil {
		return timeoutErr(err)
	}
	eng.purgeTargetCaches(ctx, models.TargetUser, user.ID)
	return nil
}

func (eng *Engine) Ping(ctx context.Context) error {
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()
	return timeoutErr(eng.Store.Ping(ctx))
}

// Cache errors are logged and treated as a miss.
func (eng *Engine) cacheGet(ctx context.Context, name, key string, out any) bool {
	if eng.Cache == nil {
		return false
	}
	existing, err := eng.Cache.Get(ctx, name, key)
	if err != nil {
		eng.Logger.Warn("cache read failed", "name", name, "key", key, "err", err)
		return false
	}
	if existing == "" {
		cacheLookupCount.WithLabelValues(name, "miss").Inc()
		return false
	}
	if err := json.Unmarshal([]byte(existing), out); err != nil {
		eng.Logger.Warn("parsing cached entity", "name", name, "key", key, "err", err)
		return false
	}
	cacheLookupCount.WithLabelValues(name, "hit").Inc()
	return true
}

func (eng *Engine) cacheSet(ctx context.Context, name, key string, val any) {
	if eng.Cache == nil {
		return
	}
	b, err := json.Marshal(val)
	if err != nil {
		eng.Logger.Warn("serializing entity for cache", "name", name, "key", key, "err", err)
		return
	}
	if err := eng.Cache.Set(ctx, name, key, string(b)); err != nil {
		eng.Logger.Warn("cache write failed", "name", name, "key", key, "err", err)
	}
}

// Cache namespaces are the target type names. Callers hold the target's lock, as do cache fills in GetPost and GetUser, so a read that started before a commit can't re-cache stale state after the purge.
func (eng *Engine) purgeTargetCaches(ctx context.Context, tt models.TargetType, id string) {
	if eng.Cache == nil {
		return
	}
	if err := eng.Cache.Purge(ctx, string(tt), id); err != nil {
		eng.Logger.Error("failed to purge cache", "target", models.TargetKey(tt, id), "err", err)
	}
}
