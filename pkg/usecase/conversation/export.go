package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

// Export writes every turn of the conversation, archived ones included, as
// JSON lines and returns the object key.
func (x *UseCase) Export(ctx context.Context, userID model.UserID) (string, error) {
	if x.storage == nil {
		return "", goerr.Wrap(ErrExportDisabled, "no storage", goerr.V("user_id", userID))
	}

	turns, err := x.repo.ReadAll(ctx, userID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read history for export", goerr.V("user_id", userID))
	}

	key := fmt.Sprintf("%s/%s.jsonl", url.PathEscape(string(userID)), x.now().UTC().Format("20060102T150405Z"))
	w, err := x.storage.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open transcript", goerr.V("key", key))
	}

	enc := json.NewEncoder(w)
	for _, t := range turns {
		if err := enc.Encode(t); err != nil {
			_ = w.Close()
			return "", goerr.Wrap(err, "failed to write transcript", goerr.V("key", key), goerr.V("turn_id", t.ID))
		}
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to commit transcript", goerr.V("key", key))
	}

	logging.From(ctx).Info("transcript exported", "user_id", userID, "key", key, "turns", len(turns))
	return key, nil
}
