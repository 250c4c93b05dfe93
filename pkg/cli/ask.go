package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/usecase/conversation"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg config
		id  identity
	)

	flags := identityFlags(&id)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask one question and print the answer",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			question := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(question) == "" {
				return goerr.New("question is required")
			}

			who, userID, err := id.resolve()
			if err != nil {
				return err
			}

			uc, closer, err := cfg.newConversation(ctx)
			if err != nil {
				return err
			}
			defer closer()

			resp, err := uc.SubmitTurn(ctx, conversation.TurnRequest{
				UserID:   userID,
				Identity: who,
				Question: question,
			})
			if resp != nil {
				fmt.Fprintln(c.Root().Writer, resp.Answer)
			}
			if err != nil {
				return goerr.Wrap(err, "failed to submit turn")
			}
			return nil
		},
	}
}
