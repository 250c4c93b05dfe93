package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultRootCollection = "chats"
	turnCollection        = "messages"

	// Firestore transactions accept at most 500 writes
	maxWritesPerTransaction = 500
)

// Firestore stores turns at {root}/{userID}/messages/{turnID}
type Firestore struct {
	client     *firestore.Client
	root       string
	metrics    *observability.Metrics
	clientOpts []option.ClientOption
}

var _ Repository = (*Firestore)(nil)

type FirestoreOption func(*Firestore)

// WithRootCollection overrides the top level collection name ("chats")
func WithRootCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.root = name
	}
}

func WithClientOptions(opts ...option.ClientOption) FirestoreOption {
	return func(f *Firestore) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

func WithFirestoreMetrics(metrics *observability.Metrics) FirestoreOption {
	return func(f *Firestore) {
		f.metrics = metrics
	}
}

func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	f := &Firestore{root: defaultRootCollection}
	for _, opt := range opts {
		opt(f)
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, f.clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID),
		)
	}
	f.client = client
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) turns(userID model.UserID) *firestore.CollectionRef {
	return f.client.Collection(f.root).Doc(string(userID)).Collection(turnCollection)
}

func (f *Firestore) Append(ctx context.Context, userID model.UserID, turn *model.Turn) (model.TurnID, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if err := validateTurn(turn); err != nil {
		return "", err
	}

	stored := *turn
	if stored.ID == "" {
		stored.ID = model.NewTurnID()
	}
	stored.Archived = false
	// zero CreatedAt is replaced by the server timestamp
	stored.CreatedAt = time.Time{}

	if _, err := f.turns(userID).Doc(string(stored.ID)).Create(ctx, &stored); err != nil {
		return "", goerr.Wrap(ErrStoreWrite, "failed to create turn",
			goerr.V("user_id", userID),
			goerr.V("turn_id", stored.ID),
			goerr.V("cause", err.Error()),
		)
	}
	return stored.ID, nil
}

func (f *Firestore) ReadVisible(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	return withFallback(ctx, f.metrics, "read_visible",
		func(ctx context.Context) ([]*model.Turn, error) {
			return f.readVisibleIndexed(ctx, userID)
		},
		func(ctx context.Context) ([]*model.Turn, error) {
			all, err := f.ReadAll(ctx, userID)
			if err != nil {
				return nil, err
			}
			return filterVisible(all), nil
		},
	)
}

// readVisibleIndexed filters on archived==false ordered by created_at, which
// needs a composite index. Turns written before the archived flag existed do
// not match the equality filter, so their presence is detected by counting
// and served by the fallback scan.
func (f *Firestore) readVisibleIndexed(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	col := f.turns(userID)
	docs, err := col.Where("archived", "==", false).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, classifyQueryError(err, "failed to query visible turns", userID)
	}

	total, err := f.count(ctx, col.Query)
	if err != nil {
		return nil, classifyQueryError(err, "failed to count turns", userID)
	}
	archived, err := f.count(ctx, col.Where("archived", "==", true))
	if err != nil {
		return nil, classifyQueryError(err, "failed to count archived turns", userID)
	}
	if total-archived != int64(len(docs)) {
		return nil, goerr.Wrap(ErrIndexUnavailable, "turns without archived flag present",
			goerr.V("user_id", userID),
			goerr.V("reason", "unset_archived_flag"),
			goerr.V("unflagged", total-archived-int64(len(docs))),
		)
	}

	return decodeTurns(docs)
}

func (f *Firestore) ReadAll(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	docs, err := f.turns(userID).OrderBy("created_at", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query turns", goerr.V("user_id", userID))
	}
	return decodeTurns(docs)
}

func (f *Firestore) ArchiveAll(ctx context.Context, userID model.UserID) (int, error) {
	snapshot, err := f.ReadVisible(ctx, userID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to snapshot visible turns", goerr.V("user_id", userID))
	}

	col := f.turns(userID)
	archived := 0
	for start := 0; start < len(snapshot); start += maxWritesPerTransaction {
		end := min(start+maxWritesPerTransaction, len(snapshot))
		chunk := snapshot[start:end]

		err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, t := range chunk {
				ref := col.Doc(string(t.ID))
				if err := tx.Update(ref, []firestore.Update{{Path: "archived", Value: true}}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return archived, goerr.Wrap(ErrStoreWrite, "failed to archive turns",
				goerr.V("user_id", userID),
				goerr.V("archived", archived),
				goerr.V("cause", err.Error()),
			)
		}
		archived += len(chunk)
	}

	return archived, nil
}

func (f *Firestore) HasVisibleHistory(ctx context.Context, userID model.UserID) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	return withFallback(ctx, f.metrics, "has_visible",
		func(ctx context.Context) (bool, error) {
			col := f.turns(userID)
			total, err := f.count(ctx, col.Query)
			if err != nil {
				return false, classifyQueryError(err, "failed to count turns", userID)
			}
			archived, err := f.count(ctx, col.Where("archived", "==", true))
			if err != nil {
				return false, classifyQueryError(err, "failed to count archived turns", userID)
			}
			return total-archived > 0, nil
		},
		func(ctx context.Context) (bool, error) {
			iter := f.turns(userID).Documents(ctx)
			defer iter.Stop()
			for {
				doc, err := iter.Next()
				if err == iterator.Done {
					return false, nil
				}
				if err != nil {
					return false, goerr.Wrap(err, "failed to scan turns", goerr.V("user_id", userID))
				}
				var t model.Turn
				if err := doc.DataTo(&t); err != nil {
					return false, goerr.Wrap(err, "failed to decode turn", goerr.V("doc_id", doc.Ref.ID))
				}
				if !t.Archived {
					return true, nil
				}
			}
		},
	)
}

func (f *Firestore) count(ctx context.Context, q firestore.Query) (int64, error) {
	res, err := q.NewAggregationQuery().WithCount("n").Get(ctx)
	if err != nil {
		return 0, err
	}
	v, ok := res["n"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected aggregation result", goerr.V("result", res))
	}
	return v.GetIntegerValue(), nil
}

// classifyQueryError maps FailedPrecondition (missing index) to
// ErrIndexUnavailable.
func classifyQueryError(err error, msg string, userID model.UserID) error {
	if status.Code(err) == codes.FailedPrecondition {
		return goerr.Wrap(ErrIndexUnavailable, msg,
			goerr.V("user_id", userID),
			goerr.V("reason", "missing_index"),
			goerr.V("cause", err.Error()),
		)
	}
	return goerr.Wrap(err, msg, goerr.V("user_id", userID))
}

func decodeTurns(docs []*firestore.DocumentSnapshot) ([]*model.Turn, error) {
	turns := make([]*model.Turn, 0, len(docs))
	for _, doc := range docs {
		var t model.Turn
		if err := doc.DataTo(&t); err != nil {
			return nil, goerr.Wrap(err, "failed to decode turn", goerr.V("doc_id", doc.Ref.ID))
		}
		if t.ID == "" {
			t.ID = model.TurnID(doc.Ref.ID)
		}
		turns = append(turns, &t)
	}
	return turns, nil
}
