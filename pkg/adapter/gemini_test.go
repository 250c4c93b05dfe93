package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/topperstoolkit/doubts/pkg/adapter"
	"google.golang.org/genai"
)

func TestGenerateContent(t *testing.T) {
	apiKey := os.Getenv("TEST_GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_GEMINI_API_KEY is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGeminiWithAPIKey(ctx, apiKey)
	gt.NoError(t, err)
	gt.Equal(t, client.Provider(), "gemini")

	contents := []*genai.Content{
		genai.NewContentFromText("What is the chemical symbol of sodium? Answer in one word.", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	if err != nil {
		t.Fatal("failed to call GenerateContent", err)
	}

	gt.S(t, resp.Text()).Contains("Na")
}
