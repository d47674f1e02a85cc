package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/engine"
	"github.com/bluesky-social/flagd/util/cliutil"

	"github.com/brianvoe/gofakeit/v6"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "insert fake users and posts, for local development",
	Flags: append([]cli.Flag{
		&cli.IntFlag{
			Name:  "users",
			Usage: "number of users to create",
			Value: 50,
		},
		&cli.IntFlag{
			Name:  "posts-per-user",
			Usage: "number of posts to create per user",
			Value: 5,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "random seed, for reproducible data (0 picks one at random)",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Value: 8,
		},
	}, engineFlags...),
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.ConfigLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}
		eng, err := setupEngine(cctx, logger)
		if err != nil {
			return err
		}
		gofakeit.Seed(cctx.Int64("seed"))

		users := genUsers(cctx.Int("users"), cctx.Int("posts-per-user"))
		if err := seedUsers(cctx, eng, users, cctx.Int("concurrency")); err != nil {
			return err
		}
		logger.Info("seed complete", "users", len(users))
		return nil
	},
}

type fakeUser struct {
	user  models.User
	posts []models.Post
}

// gofakeit's global source isn't safe for concurrent use, so all data is generated up front.
func genUsers(count, postsPerUser int) []fakeUser {
	out := make([]fakeUser, count)
	now := time.Now()
	for i := range out {
		id := fmt.Sprintf("%d", 1000+i)
		out[i].user = models.User{
			ID:          id,
			Username:    strings.ToLower(gofakeit.Username()),
			DisplayName: gofakeit.Name(),
			Bio:         gofakeit.Sentence(12),
			JoinedAt:    gofakeit.PastDate().UTC(),
		}
		for j := 0; j < postsPerUser; j++ {
			text := gofakeit.Sentence(gofakeit.Number(4, 30))
			// sprinkle in some content the default rules will classify
			if gofakeit.Number(1, 10) == 1 {
				text += " " + gofakeit.RandomString([]string{"huge casino giveaway", "nsfw", "https://a.example https://b.example https://c.example"})
			}
			out[i].posts = append(out[i].posts, models.Post{
				ID:        fmt.Sprintf("%s%03d", id, j),
				AuthorID:  id,
				Content:   text,
				CreatedAt: gofakeit.DateRange(out[i].user.JoinedAt, now).UTC(),
			})
		}
	}
	return out
}

func seedUsers(cctx *cli.Context, eng *engine.Engine, users []fakeUser, concurrency int) error {
	g, ctx := errgroup.WithContext(cctx.Context)
	g.SetLimit(max(1, concurrency))
	for i := range users {
		fu := &users[i]
		g.Go(func() error {
			if err := eng.UpsertUser(ctx, &fu.user); err != nil {
				return fmt.Errorf("user %s: %w", fu.user.ID, err)
			}
			for j := range fu.posts {
				if err := eng.UpsertPost(ctx, &fu.posts[j]); err != nil {
					return fmt.Errorf("post %s: %w", fu.posts[j].ID, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
