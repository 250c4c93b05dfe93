package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/service/mcp"
	"github.com/topperstoolkit/doubts/pkg/tool/platform"
	"github.com/urfave/cli/v3"
)

func lookupCommand() *cli.Command {
	var (
		cfg config
		id  identity
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "knowledge-file",
			Usage:       "YAML file replacing the embedded school knowledge base",
			Sources:     cli.EnvVars("DOUBTS_KNOWLEDGE_FILE"),
			Destination: &cfg.knowledgeFile,
		},
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Name of the user asking",
			Destination: &id.name,
		},
		&cli.StringFlag{
			Name:        "class",
			Aliases:     []string{"c"},
			Usage:       "Class of the user asking",
			Destination: &id.class,
		},
	}
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:      "lookup",
		Usage:     "Run the platform info tool locally",
		ArgsUsage: "<doubt>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			doubt := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(doubt) == "" {
				return goerr.New("doubt is required")
			}

			kb, err := cfg.newKnowledge()
			if err != nil {
				return err
			}
			info, err := cfg.newPlatformTool(kb)
			if err != nil {
				return err
			}

			result := info.Lookup(ctx, platform.Input{Doubt: doubt, UserName: id.name, UserClass: id.class})
			fmt.Fprintln(c.Root().Writer, result.Text)
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "knowledge-file",
			Usage:       "YAML file replacing the embedded school knowledge base",
			Sources:     cli.EnvVars("DOUBTS_KNOWLEDGE_FILE"),
			Destination: &cfg.knowledgeFile,
		},
	}
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the platform info tool as an MCP server over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// stdout carries the protocol, logs go to stderr
			ctx = cfg.setupLogger(ctx)

			kb, err := cfg.newKnowledge()
			if err != nil {
				return err
			}
			info, err := cfg.newPlatformTool(kb)
			if err != nil {
				return err
			}

			return mcp.ServeStdio(ctx, mcp.NewServer(info, version))
		},
	}
}
