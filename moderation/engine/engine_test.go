package engine

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/flagstore"
	"github.com/bluesky-social/flagd/moderation/stats"

	"github.com/stretchr/testify/assert"
)

func TestDecideFlag(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	res, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{ActorID: "mod1"})
	assert.NoError(err)
	assert.Equal("Moderated", res.Status)
	assert.Equal("Content flagged and hidden", res.ActionTaken)
	assert.Equal(models.FlagStateFlagged, res.FlagState)
	assert.Equal(models.ReasonOther, res.Reason)
	assert.NotEmpty(res.RecordID)
	_, err = time.Parse(time.RFC3339, res.ModeratedAt)
	assert.NoError(err)

	p, err := eng.GetPost(ctx, "1234")
	assert.NoError(err)
	assert.Equal(models.FlagStateFlagged, p.FlagState)

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), snap.TotalFlaggedPosts)
	assert.Equal(int64(1), snap.CountsByReason[models.ReasonOther])
	assert.Equal(models.ReasonOther, snap.MostCommonFlagReason)
	assert.Equal(int64(1), snap.Recent.ByReason["hour"][models.ReasonOther])
	assert.Equal(int64(1), snap.Recent.FlaggedTargets["day"][models.TargetPost])

	recs, err := eng.GetFlagsFor(ctx, models.TargetPost, "1234", time.Time{})
	assert.NoError(err)
	assert.Equal(1, len(recs))
	assert.Equal("mod1", recs[0].ActorID)

	recs, err = eng.GetFlagsFor(ctx, models.TargetPost, "1234", time.Now().Add(time.Minute))
	assert.NoError(err)
	assert.Empty(recs)
}

func TestDecideClassifies(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	res, err := eng.Decide(ctx, models.TargetPost, "1235", "flag", DecideOptions{})
	assert.NoError(err)
	assert.Equal(models.ReasonSpam, res.Reason)

	// an explicit reason wins over classification
	res, err = eng.Decide(ctx, models.TargetPost, "1235", "flag", DecideOptions{Reason: "inappropriate"})
	assert.NoError(err)
	assert.Equal(models.ReasonInappropriate, res.Reason)

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	// two records, one distinct post
	assert.Equal(int64(1), snap.TotalFlaggedPosts)
	assert.Equal(int64(2), snap.TotalFlags)
}

func TestDecideInvalid(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	_, err := eng.Decide(ctx, models.TargetPost, "1234", "bogus", DecideOptions{})
	assert.ErrorIs(err, models.ErrInvalidAction)
	_, err = eng.Decide(ctx, models.TargetPost, "bad id!", "flag", DecideOptions{})
	assert.ErrorIs(err, models.ErrInvalidID)
	_, err = eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{Reason: "rude"})
	assert.ErrorIs(err, models.ErrInvalidReason)
	_, err = eng.Decide(ctx, models.TargetPost, "9999", "flag", DecideOptions{})
	assert.ErrorIs(err, models.ErrNotFound)

	// no partial mutation
	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(0), snap.TotalFlags)
	p, err := eng.GetPost(ctx, "1234")
	assert.NoError(err)
	assert.Equal(models.FlagStateClean, p.FlagState)
}

func TestDecideRemoveIsTerminal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	res, err := eng.Decide(ctx, models.TargetPost, "1234", "remove", DecideOptions{})
	assert.NoError(err)
	assert.Equal("Content removed", res.ActionTaken)
	assert.Equal(models.FlagStateRemoved, res.FlagState)

	for _, action := range []string{"flag", "remove"} {
		_, err = eng.Decide(ctx, models.TargetPost, "1234", action, DecideOptions{Reason: "Spam"})
		assert.ErrorIs(err, models.ErrRemoved)
		assert.ErrorIs(err, models.ErrNotFound)
	}

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), snap.TotalFlags)
	assert.Equal(int64(1), snap.TotalFlaggedPosts)

	p, err := eng.GetPost(ctx, "1234")
	assert.NoError(err)
	assert.Equal(models.FlagStateRemoved, p.FlagState)
}

func TestDecideFlagThenRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	// both classify as Other; the remove must not be treated as a duplicate flag
	res, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{})
	assert.NoError(err)
	assert.Equal(models.FlagStateFlagged, res.FlagState)
	res, err = eng.Decide(ctx, models.TargetPost, "1234", "remove", DecideOptions{})
	assert.NoError(err)
	assert.Equal(models.FlagStateRemoved, res.FlagState)
	assert.Equal(models.ReasonOther, res.Reason)

	p, err := eng.GetPost(ctx, "1234")
	assert.NoError(err)
	assert.Equal(models.FlagStateRemoved, p.FlagState)

	_, err = eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{})
	assert.ErrorIs(err, models.ErrRemoved)

	// same explicit reason for flag then remove
	_, err = eng.Decide(ctx, models.TargetPost, "1235", "flag", DecideOptions{Reason: "Spam"})
	assert.NoError(err)
	res, err = eng.Decide(ctx, models.TargetPost, "1235", "remove", DecideOptions{Reason: "Spam"})
	assert.NoError(err)
	assert.Equal(models.FlagStateRemoved, res.FlagState)

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(4), snap.TotalFlags)
	assert.Equal(int64(2), snap.TotalFlaggedPosts)
}

func TestDecideDuplicate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	_, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{Reason: "Spam"})
	assert.NoError(err)
	_, err = eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{Reason: "Spam"})
	assert.ErrorIs(err, models.ErrDuplicate)

	recs, err := eng.GetFlagsFor(ctx, models.TargetPost, "1234", time.Time{})
	assert.NoError(err)
	assert.Equal(1, len(recs))
	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), snap.CountsByReason[models.ReasonSpam])
}

func TestFlagUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	// warm the cache, so the flag has to purge it
	u, err := eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(0), u.FlagCount)
	assert.Equal(int64(2), u.PostsCount)

	rec, err := eng.FlagUser(ctx, "5678", "", "")
	assert.NoError(err)
	assert.Equal(models.ReasonSpam, rec.Reason)
	assert.Equal(models.TargetUser, rec.TargetType)
	assert.Equal("5678", rec.View().UserID)

	u, err = eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(1), u.FlagCount)
	assert.Equal(models.FlagStateFlagged, u.FlagState)

	_, err = eng.FlagUser(ctx, "5678", "hateSpeech", "mod1")
	assert.NoError(err)
	u, err = eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(2), u.FlagCount)

	_, err = eng.FlagUser(ctx, strings.Repeat("x", models.MaxIDLength+1), "", "")
	assert.ErrorIs(err, models.ErrInvalidID)
	_, err = eng.FlagUser(ctx, "", "", "")
	assert.ErrorIs(err, models.ErrInvalidID)
	_, err = eng.FlagUser(ctx, "4321", "", "")
	assert.ErrorIs(err, models.ErrNotFound)

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), snap.TotalFlaggedUsers)
	assert.Equal(int64(0), snap.TotalFlaggedPosts)
}

func TestConcurrentDecide(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	n := 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dupes int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{Reason: "Spam"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(err, models.ErrDuplicate) {
				dupes++
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, ok)
	assert.Equal(n-1, dupes)

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), snap.TotalFlags)
	assert.Equal(int64(1), snap.TotalFlaggedPosts)
	// lock entries are dropped once released
	assert.Equal(0, eng.locks.Len())
}

func TestConcurrentRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	n := 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, removed int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Decide(ctx, models.TargetPost, "1235", "remove", DecideOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(err, models.ErrRemoved) {
				removed++
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, ok)
	assert.Equal(n-1, removed)
}

func TestDecideTimeout(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()
	eng.Config.StoreTimeout = 20 * time.Millisecond

	// simulate a stuck in-flight mutation on the target
	release, err := eng.locks.Acquire(ctx, models.TargetKey(models.TargetPost, "1234"))
	assert.NoError(err)

	_, err = eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{})
	assert.ErrorIs(err, models.ErrTimeout)
	release()

	snap, err := eng.Snapshot(ctx)
	assert.NoError(err)
	assert.Equal(int64(0), snap.TotalFlags)

	// other targets are unaffected by a held lock
	release, err = eng.locks.Acquire(ctx, models.TargetKey(models.TargetPost, "1234"))
	assert.NoError(err)
	defer release()
	_, err = eng.Decide(ctx, models.TargetPost, "1235", "flag", DecideOptions{})
	assert.NoError(err)
}

// Pauses the first GetPost after the row is read, until resume is closed.
type pausingStore struct {
	flagstore.FlagStore

	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (s *pausingStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, err := s.FlagStore.GetPost(ctx, id)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return p, err
}

func TestCacheFillRacesRemoval(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()
	store := &pausingStore{
		FlagStore: eng.Store,
		read:      make(chan struct{}),
		resume:    make(chan struct{}),
	}
	eng.Store = store

	readDone := make(chan error, 1)
	go func() {
		_, err := eng.GetPost(ctx, "1234")
		readDone <- err
	}()
	// the reader now holds a Clean copy of the post
	<-store.read

	decideDone := make(chan error, 1)
	go func() {
		_, err := eng.Decide(ctx, models.TargetPost, "1234", "remove", DecideOptions{Reason: "Spam"})
		decideDone <- err
	}()
	select {
	case err := <-decideDone:
		t.Fatalf("removal committed while a cache fill was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.resume)
	assert.NoError(<-readDone)
	assert.NoError(<-decideDone)

	p, err := eng.GetPost(ctx, "1234")
	assert.NoError(err)
	assert.Equal(models.FlagStateRemoved, p.FlagState)
	assert.Equal(0, eng.locks.Len())
}

func TestUserCacheTracksFlagCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	u, err := eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(0), u.FlagCount)

	_, err = eng.FlagUser(ctx, "5678", "", "")
	assert.NoError(err)
	u, err = eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(1), u.FlagCount)

	assert.NoError(eng.UpsertPost(ctx, &models.Post{ID: "1236", AuthorID: "5678", Content: "third"}))
	u, err = eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(3), u.PostsCount)
}

func TestUpsertPreservesState(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	_, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{})
	assert.NoError(err)
	assert.NoError(eng.UpsertPost(ctx, &models.Post{ID: "1234", AuthorID: "5678", Content: "edited"}))

	p, err := eng.GetPost(ctx, "1234")
	assert.NoError(err)
	assert.Equal("edited", p.Content)
	assert.Equal(models.FlagStateFlagged, p.FlagState)

	assert.NoError(eng.UpsertPost(ctx, &models.Post{ID: "2000", AuthorID: "5678", Content: "new"}))
	u, err := eng.GetUser(ctx, "5678")
	assert.NoError(err)
	assert.Equal(int64(3), u.PostsCount)

	assert.ErrorIs(eng.UpsertPost(ctx, &models.Post{ID: "2001", AuthorID: ""}), models.ErrInvalidID)
	assert.NoError(eng.UpsertUser(ctx, &models.User{ID: "9000", Username: "bob"}))
	u, err = eng.GetUser(ctx, "9000")
	assert.NoError(err)
	assert.Equal("bob", u.Username)
}

func TestReconcile(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()

	_, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{})
	assert.NoError(err)
	_, err = eng.FlagUser(ctx, "5678", "", "")
	assert.NoError(err)

	res, err := eng.Reconcile(ctx)
	assert.NoError(err)
	assert.Equal(2, res.Records)
	assert.Equal(0, res.Missing)

	// a fresh aggregator (eg, after restart) picks everything up
	eng.Stats = stats.NewAggregator(nil, nil)
	res, err = eng.Reconcile(ctx)
	assert.NoError(err)
	assert.Equal(2, res.Missing)
	snap := eng.Stats.Snapshot()
	assert.Equal(int64(1), snap.TotalFlaggedPosts)
	assert.Equal(int64(1), snap.TotalFlaggedUsers)
}

type captureNotifier struct {
	mu   sync.Mutex
	recs []models.FlagRecord
}

func (n *captureNotifier) SendRemoval(ctx context.Context, rec *models.FlagRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recs = append(n.recs, *rec)
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *capturePublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, partitionKey)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestSideEffects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := EngineTestFixture()
	notifier := &captureNotifier{}
	pub := &capturePublisher{}
	eng.Notifier = notifier
	eng.Publisher = pub

	_, err := eng.Decide(ctx, models.TargetPost, "1234", "flag", DecideOptions{})
	assert.NoError(err)
	_, err = eng.Decide(ctx, models.TargetPost, "1235", "remove", DecideOptions{})
	assert.NoError(err)
	assert.NoError(eng.Shutdown(ctx))

	assert.Equal([]string{"post/1234", "post/1235"}, sortedCopy(pub.keys))
	assert.Equal(1, len(notifier.recs))
	assert.Equal("1235", notifier.recs[0].TargetID)
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
