package main

import (
	"fmt"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/client"

	"github.com/araddon/dateparse"
	cli "github.com/urfave/cli/v2"
)

var clientCmd = &cli.Command{
	Name:  "client",
	Usage: "make requests to a running flagd",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "flagd-host",
			Usage:   "method, hostname, and port of flagd",
			Value:   "http://localhost:2220",
			EnvVars: []string{"FLAGD_HOST"},
		},
		&cli.StringFlag{
			Name:    "actor",
			Usage:   "moderator identifier sent with moderation requests",
			EnvVars: []string{"FLAGD_ACTOR"},
		},
		&cli.StringFlag{
			Name:    "admin-password",
			EnvVars: []string{"FLAGD_ADMIN_PASSWORD"},
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:      "post",
			Usage:     "fetch a post",
			ArgsUsage: "<post-id>",
			Action: func(cctx *cli.Context) error {
				c, id, err := clientAndArg(cctx)
				if err != nil {
					return err
				}
				p, err := c.GetPost(cctx.Context, id)
				if err != nil {
					return err
				}
				return printJSON(p)
			},
		},
		{
			Name:      "profile",
			Usage:     "fetch a user profile",
			ArgsUsage: "<user-id>",
			Action: func(cctx *cli.Context) error {
				c, id, err := clientAndArg(cctx)
				if err != nil {
					return err
				}
				u, err := c.GetProfile(cctx.Context, id)
				if err != nil {
					return err
				}
				return printJSON(u)
			},
		},
		{
			Name:  "stats",
			Usage: "fetch aggregate flag statistics",
			Action: func(cctx *cli.Context) error {
				snap, err := newClient(cctx).Stats(cctx.Context)
				if err != nil {
					return err
				}
				return printJSON(snap)
			},
		},
		{
			Name:      "moderate",
			Usage:     "flag or remove a post",
			ArgsUsage: "<post-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "action",
					Usage: "flag or remove",
					Value: "flag",
				},
				&cli.StringFlag{
					Name:  "reason",
					Usage: "Spam, HateSpeech, Inappropriate, or Other (classified from content when empty)",
				},
			},
			Action: func(cctx *cli.Context) error {
				c, id, err := clientAndArg(cctx)
				if err != nil {
					return err
				}
				res, err := c.Moderate(cctx.Context, id, models.ModerateRequest{
					Action: cctx.String("action"),
					Reason: cctx.String("reason"),
				})
				if err != nil {
					return err
				}
				return printJSON(res)
			},
		},
		{
			Name:      "flag-user",
			Usage:     "flag a user",
			ArgsUsage: "<user-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "reason",
					Usage: "Spam (default), HateSpeech, Inappropriate, or Other",
				},
			},
			Action: func(cctx *cli.Context) error {
				c, id, err := clientAndArg(cctx)
				if err != nil {
					return err
				}
				rec, err := c.FlagUser(cctx.Context, id, models.FlagUserRequest{Reason: cctx.String("reason")})
				if err != nil {
					return err
				}
				return printJSON(rec)
			},
		},
		{
			Name:      "flags",
			Usage:     "list flag records for a post or user",
			ArgsUsage: "<post|user> <id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "since",
					Usage: "only records at or after this time (most date formats accepted)",
				},
			},
			Action: func(cctx *cli.Context) error {
				if cctx.Args().Len() != 2 {
					return fmt.Errorf("expected target type and id arguments")
				}
				tt, err := models.ParseTargetType(cctx.Args().Get(0))
				if err != nil {
					return err
				}
				var since time.Time
				if raw := cctx.String("since"); raw != "" {
					since, err = dateparse.ParseAny(raw)
					if err != nil {
						return fmt.Errorf("parsing --since: %w", err)
					}
				}
				flags, err := newClient(cctx).ListFlags(cctx.Context, tt, cctx.Args().Get(1), since)
				if err != nil {
					return err
				}
				return printJSON(flags)
			},
		},
	},
}

func newClient(cctx *cli.Context) *client.Client {
	c := client.NewClient(cctx.String("flagd-host"))
	c.ActorID = cctx.String("actor")
	c.AdminPassword = cctx.String("admin-password")
	return c
}

func clientAndArg(cctx *cli.Context) (*client.Client, string, error) {
	if cctx.Args().Len() != 1 {
		return nil, "", fmt.Errorf("expected a single identifier argument")
	}
	return newClient(cctx), cctx.Args().First(), nil
}
