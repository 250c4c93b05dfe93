package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/usecase/conversation"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg config
		id  identity
	)

	flags := identityFlags(&id)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with the assistant",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			who, userID, err := id.resolve()
			if err != nil {
				return err
			}

			uc, closer, err := cfg.newConversation(ctx)
			if err != nil {
				return err
			}
			defer closer()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     chatHistoryFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := rl.Stdout()
			fmt.Fprintf(w, "Hello %s! Ask your doubt. Type '/clear' to reset the conversation and 'exit' to quit.\n", who.FirstName())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				switch message {
				case "":
					continue
				case "exit", "quit":
					return nil
				case "/clear":
					if _, err := uc.ClearSession(ctx, userID); err != nil {
						logging.From(ctx).Error("failed to clear session", "error", err)
						fmt.Fprintln(w, "Could not clear the conversation. Please try again.")
						continue
					}
					fmt.Fprintln(w, "Conversation cleared.")
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
				sp.Suffix = " thinking..."
				sp.Start()
				resp, err := uc.SubmitTurn(ctx, conversation.TurnRequest{
					UserID:   userID,
					Identity: who,
					Question: message,
				})
				sp.Stop()

				if resp != nil {
					fmt.Fprintf(w, "\n%s\n\n", resp.Answer)
				}
				if err != nil {
					logging.From(ctx).Error("turn failed", "error", err)
					if resp == nil {
						fmt.Fprintln(w, "Something went wrong. Please try again in a moment.")
					}
				}
			}

			return nil
		},
	}
}

func chatHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "doubts", "readline_history")
}
