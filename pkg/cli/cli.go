package cli

import (
	"context"

	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/urfave/cli/v3"
)

// version is reported by the MCP server
var version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "doubts",
		Usage:   "Doubt-solving assistant for the school community",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			askCommand(),
			chatCommand(),
			historyCommand(),
			clearCommand(),
			exportCommand(),
			lookupCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// identity holds the caller description given on the command line
type identity struct {
	userID string
	name   string
	class  string
	gender string
}

func identityFlags(id *identity) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "Conversation key. Defaults to the name",
			Sources:     cli.EnvVars("DOUBTS_USER_ID"),
			Destination: &id.userID,
		},
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Display name of the user",
			Sources:     cli.EnvVars("DOUBTS_NAME"),
			Destination: &id.name,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "class",
			Aliases:     []string{"c"},
			Usage:       "Class of the user (e.g. 9, 10-A) or Teacher",
			Sources:     cli.EnvVars("DOUBTS_CLASS"),
			Destination: &id.class,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "gender",
			Aliases:     []string{"g"},
			Usage:       "male or female, used to address teachers",
			Sources:     cli.EnvVars("DOUBTS_GENDER"),
			Destination: &id.gender,
		},
	}
}

func (x *identity) resolve() (model.Identity, model.UserID, error) {
	gender, err := model.ParseGender(x.gender)
	if err != nil {
		return model.Identity{}, "", err
	}
	id := model.Identity{Name: x.name, RoleClass: x.class, Gender: gender}
	if err := id.Validate(); err != nil {
		return model.Identity{}, "", err
	}

	userID := model.UserID(x.userID)
	if userID == "" {
		userID = id.DefaultUserID()
	}
	return id, userID, nil
}

// userFlag selects a conversation for the history commands
func userFlag(userID *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "user-id",
		Aliases:     []string{"u"},
		Usage:       "Conversation key (the user's name unless set explicitly)",
		Sources:     cli.EnvVars("DOUBTS_USER_ID"),
		Destination: userID,
		Required:    true,
	}
}
