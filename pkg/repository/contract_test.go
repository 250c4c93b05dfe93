package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/repository"
)

// testRepository runs the behavior every backend must share
func testRepository(t *testing.T, repo repository.Repository) {
	newUser := func() model.UserID {
		return model.UserID("test-" + uuid.NewString())
	}

	t.Run("append and read in order", func(t *testing.T) {
		ctx := context.Background()
		user := newUser()

		var ids []model.TurnID
		for i, role := range []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser} {
			id, err := repo.Append(ctx, user, model.NewTurn(role, fmt.Sprintf("turn %d", i)))
			gt.NoError(t, err)
			ids = append(ids, id)
		}

		visible, err := repo.ReadVisible(ctx, user)
		gt.NoError(t, err)
		gt.A(t, visible).Length(3)
		for i, turn := range visible {
			gt.Equal(t, turn.ID, ids[i])
			gt.Equal(t, turn.Content, fmt.Sprintf("turn %d", i))
			gt.False(t, turn.Archived)
			gt.False(t, turn.CreatedAt.IsZero())
			if i > 0 {
				gt.False(t, turn.CreatedAt.Before(visible[i-1].CreatedAt))
			}
		}
	})

	t.Run("empty conversation", func(t *testing.T) {
		ctx := context.Background()
		user := newUser()

		visible, err := repo.ReadVisible(ctx, user)
		gt.NoError(t, err)
		gt.A(t, visible).Length(0)

		has, err := repo.HasVisibleHistory(ctx, user)
		gt.NoError(t, err)
		gt.False(t, has)

		n, err := repo.ArchiveAll(ctx, user)
		gt.NoError(t, err)
		gt.Equal(t, n, 0)
	})

	t.Run("archive hides turns but keeps them", func(t *testing.T) {
		ctx := context.Background()
		user := newUser()

		for i := 0; i < 4; i++ {
			_, err := repo.Append(ctx, user, model.NewTurn(model.RoleUser, fmt.Sprintf("q%d", i)))
			gt.NoError(t, err)
		}
		before, err := repo.ReadAll(ctx, user)
		gt.NoError(t, err)

		n, err := repo.ArchiveAll(ctx, user)
		gt.NoError(t, err)
		gt.Equal(t, n, 4)

		visible, err := repo.ReadVisible(ctx, user)
		gt.NoError(t, err)
		gt.A(t, visible).Length(0)

		has, err := repo.HasVisibleHistory(ctx, user)
		gt.NoError(t, err)
		gt.False(t, has)

		all, err := repo.ReadAll(ctx, user)
		gt.NoError(t, err)
		gt.A(t, all).Length(4)
		for i, turn := range all {
			gt.True(t, turn.Archived)
			gt.Equal(t, turn.ID, before[i].ID)
			gt.Equal(t, turn.Content, before[i].Content)
		}

		// conversation continues after a clear
		id, err := repo.Append(ctx, user, model.NewTurn(model.RoleUser, "fresh start"))
		gt.NoError(t, err)
		visible, err = repo.ReadVisible(ctx, user)
		gt.NoError(t, err)
		gt.A(t, visible).Length(1)
		gt.Equal(t, visible[0].ID, id)

		has, err = repo.HasVisibleHistory(ctx, user)
		gt.NoError(t, err)
		gt.True(t, has)

		// archiving twice only touches the new turn
		n, err = repo.ArchiveAll(ctx, user)
		gt.NoError(t, err)
		gt.Equal(t, n, 1)
	})

	t.Run("users are isolated", func(t *testing.T) {
		ctx := context.Background()
		a, b := newUser(), newUser()

		_, err := repo.Append(ctx, a, model.NewTurn(model.RoleUser, "from a"))
		gt.NoError(t, err)
		_, err = repo.Append(ctx, b, model.NewTurn(model.RoleUser, "from b"))
		gt.NoError(t, err)

		_, err = repo.ArchiveAll(ctx, a)
		gt.NoError(t, err)

		visible, err := repo.ReadVisible(ctx, b)
		gt.NoError(t, err)
		gt.A(t, visible).Length(1)
		gt.Equal(t, visible[0].Content, "from b")
	})

	t.Run("concurrent appends for one user", func(t *testing.T) {
		ctx := context.Background()
		user := newUser()

		const n = 10
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Append(ctx, user, model.NewTurn(model.RoleUser, fmt.Sprintf("tab %d", i)))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			gt.NoError(t, err)
		}

		visible, err := repo.ReadVisible(ctx, user)
		gt.NoError(t, err)
		gt.A(t, visible).Length(n)
		seen := map[model.TurnID]bool{}
		for i, turn := range visible {
			gt.False(t, seen[turn.ID])
			seen[turn.ID] = true
			if i > 0 {
				gt.False(t, turn.CreatedAt.Before(visible[i-1].CreatedAt))
			}
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		ctx := context.Background()

		_, err := repo.Append(ctx, "", model.NewTurn(model.RoleUser, "x"))
		gt.True(t, errors.Is(err, model.ErrCallerContract))

		_, err = repo.Append(ctx, newUser(), &model.Turn{Role: "robot", Content: "x"})
		gt.True(t, errors.Is(err, model.ErrCallerContract))

		_, err = repo.ReadVisible(ctx, "")
		gt.True(t, errors.Is(err, model.ErrEmptyUserID))
	})
}
