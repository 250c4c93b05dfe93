package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/topperstoolkit/doubts/pkg/repository"
)

func setupPostgres(t *testing.T) *repository.Postgres {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL must be set to run Postgres tests")
	}

	repo, err := repository.NewPostgres(context.Background(), url)
	gt.NoError(t, err)
	t.Cleanup(repo.Close)

	return repo
}

func TestPostgres(t *testing.T) {
	testRepository(t, setupPostgres(t))
}
