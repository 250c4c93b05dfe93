package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
)

var (
	// ErrIndexUnavailable marks a failure of the optimal query path that the
	// fallback scan can serve instead.
	ErrIndexUnavailable = goerr.New("optimal query path unavailable")

	// ErrStoreWrite wraps every failed append or archive
	ErrStoreWrite = goerr.New("session store write failed")
)

// Repository is the append-only, per-user turn ledger. Turns are never
// deleted; ArchiveAll hides them from ReadVisible.
type Repository interface {
	// Append inserts the turn as visible and returns its ID. CreatedAt is
	// assigned by the store.
	Append(ctx context.Context, userID model.UserID, turn *model.Turn) (model.TurnID, error)

	// ReadVisible returns turns that are not archived (unset counts as not
	// archived), oldest first.
	ReadVisible(ctx context.Context, userID model.UserID) ([]*model.Turn, error)

	// ReadAll returns every turn regardless of archive state, oldest first
	ReadAll(ctx context.Context, userID model.UserID) ([]*model.Turn, error)

	// ArchiveAll archives the turns visible when the call starts and returns
	// how many were archived. Turns appended meanwhile stay visible.
	ArchiveAll(ctx context.Context, userID model.UserID) (int, error)

	// HasVisibleHistory reports whether ReadVisible would return anything
	HasVisibleHistory(ctx context.Context, userID model.UserID) (bool, error)
}

func validateUserID(userID model.UserID) error {
	if userID == "" {
		return goerr.Wrap(model.ErrEmptyUserID, "user id is required")
	}
	return nil
}

func validateTurn(turn *model.Turn) error {
	if turn == nil {
		return goerr.Wrap(model.ErrCallerContract, "turn is nil")
	}
	if !turn.Role.Valid() {
		return goerr.Wrap(model.ErrCallerContract, "invalid turn role", goerr.V("role", turn.Role))
	}
	return nil
}

// filterVisible keeps turns whose archived flag is false or unset
func filterVisible(turns []*model.Turn) []*model.Turn {
	visible := make([]*model.Turn, 0, len(turns))
	for _, t := range turns {
		if !t.Archived {
			visible = append(visible, t)
		}
	}
	return visible
}
