package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var (
		cfg             config
		userID          string
		includeArchived bool
	)

	flags := []cli.Flag{
		userFlag(&userID),
		&cli.BoolFlag{
			Name:        "all",
			Aliases:     []string{"a"},
			Usage:       "Include archived turns",
			Sources:     cli.EnvVars("DOUBTS_HISTORY_ALL"),
			Destination: &includeArchived,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show the conversation of a user",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			uc, closer, err := cfg.newConversationWith(ctx, nil)
			if err != nil {
				return err
			}
			defer closer()

			turns, err := uc.GetHistory(ctx, model.UserID(userID), includeArchived)
			if err != nil {
				return goerr.Wrap(err, "failed to read history")
			}

			if len(turns) == 0 {
				fmt.Fprintf(c.Root().Writer, "No conversation found for %s\n", userID)
				return nil
			}

			for _, t := range turns {
				mark := ""
				if t.Archived {
					mark = " (archived)"
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s%s\n%s\n\n",
					t.CreatedAt.Format("2006-01-02 15:04:05"),
					t.Role,
					mark,
					t.Content,
				)
			}

			return nil
		},
	}
}

func clearCommand() *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{userFlag(&userID)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Archive the visible conversation of a user",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			uc, closer, err := cfg.newConversationWith(ctx, nil)
			if err != nil {
				return err
			}
			defer closer()

			if _, err := uc.ClearSession(ctx, model.UserID(userID)); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Conversation of %s cleared\n", userID)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{userFlag(&userID)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export every turn of a user, archived ones included, to Cloud Storage",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			if cfg.bucket == "" {
				return goerr.New("bucket is required")
			}

			uc, closer, err := cfg.newConversationWith(ctx, nil)
			if err != nil {
				return err
			}
			defer closer()

			key, err := uc.Export(ctx, model.UserID(userID))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "gs://%s/transcripts/%s\n", cfg.bucket, key)
			return nil
		},
	}
}
