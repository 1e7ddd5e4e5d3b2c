package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scielo/kernel/internal/database"
	"github.com/scielo/kernel/internal/document"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// TestMongoRepoContract runs the backend contract against a live server.
// Set MONGODB_URI (e.g. mongodb://localhost:27017) to enable it.
func TestMongoRepoContract(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("kernel_contract")
	testBackend(t, func() Backend {
		col := db.Collection("docs_" + uuid.NewString())
		t.Cleanup(func() { _ = col.Drop(context.Background()) })
		return NewMongoRepo(col)
	})
}

func TestMongoRepoMocked(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	ns := func(mt *mtest.T) string { return mt.DB.Name() + "." + mt.Coll.Name() }

	mt.Run("InsertDuplicateKey", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error",
		}))
		_, err := NewMongoRepo(mt.Coll).Insert(ctx, "D1", &document.Record{})
		require.ErrorIs(mt, err, document.ErrAlreadyExists)
	})

	mt.Run("UpdateMatchesRevision", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1},
		))
		out, err := NewMongoRepo(mt.Coll).Update(ctx, "D1", &document.Record{Revision: 3, Content: map[string]any{"x": 1}})
		require.NoError(mt, err)
		require.Equal(mt, int64(4), out.Revision)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		require.Equal(mt, "update", started.CommandName)
		q := started.Command.Lookup("updates", "0", "q")
		require.Equal(mt, "D1", q.Document().Lookup("_id").StringValue())
		require.Equal(mt, int64(3), q.Document().Lookup("revision").AsInt64())
	})

	mt.Run("UpdateStaleRevisionConflicts", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: 1}, {Key: "n", Value: int32(1)}}),
		)
		_, err := NewMongoRepo(mt.Coll).Update(ctx, "D1", &document.Record{Revision: 1})
		require.ErrorIs(mt, err, document.ErrUpdateConflict)
	})

	mt.Run("UpdateMissingIsNotFound", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch),
		)
		_, err := NewMongoRepo(mt.Coll).Update(ctx, "D1", &document.Record{Revision: 1})
		require.ErrorIs(mt, err, document.ErrNotFound)
		require.NotErrorIs(mt, err, document.ErrUpdateConflict)
	})
}

func TestBuildFilter(t *testing.T) {
	f := Filter{
		"id":            Eq("D1"),
		"document_type": Eq(document.TypeArticle),
		"change_id":     Range(Op{OpGT, int64(3)}, Op{OpNE, int64(5)}),
		"content.title": Eq("x"),
	}
	got := buildFilter(f)
	require.Equal(t, bson.M{
		"_id":               "D1",
		"document_type":     "ARTICLE",
		"content.change_id": bson.M{"$gt": int64(3), "$ne": int64(5)},
		"content.title":     "x",
	}, got)

	require.Equal(t, bson.M{}, buildFilter(nil))
}

func TestBuildSortAndProjection(t *testing.T) {
	s := buildSort([]SortField{{Field: "change_id"}, {Field: "created_date", Desc: true}})
	require.Equal(t, bson.D{{Key: "content.change_id", Value: 1}, {Key: "created_date", Value: -1}}, s)

	require.Equal(t, bson.M{attachmentsField: 0}, buildProjection(nil))
	require.Equal(t, bson.M{"_id": 1, "document_type": 1, "revision": 1, "content.title": 1}, buildProjection([]string{"title"}))
	require.Equal(t, bson.M{"_id": 1, "document_type": 1, "revision": 1, "content": 1},
		buildProjection([]string{"content", "content.title", "title.main"}))
	require.Equal(t, bson.M{"_id": 1, "document_type": 1, "revision": 1, "content.a": 1, "content.ab": 1},
		buildProjection([]string{"a", "a.b.c", "ab"}))
}

func TestDecodeRecordNormalisesBSON(t *testing.T) {
	raw := bson.M{
		"_id":           "D1",
		"document_type": "ARTICLE",
		"created_date":  "1.000000",
		"updated_date":  "2.000000",
		"revision":      int32(4),
		"content": bson.M{
			"nested": bson.D{{Key: "a", Value: int32(1)}},
			"list":   primitive.A{"x", bson.M{"b": true}},
		},
		"attachments": primitive.A{
			bson.M{"file_id": "fig1.png", "content_type": "image/png", "content_size": int64(3), "revision": int32(2)},
		},
	}
	rec, err := decodeRecord(raw)
	require.NoError(t, err)
	require.Equal(t, "D1", rec.ID)
	require.Equal(t, int64(4), rec.Revision)
	require.Equal(t, "2.000000", *rec.UpdatedDate)
	require.Nil(t, rec.DeletedDate)
	require.Equal(t, map[string]any{"a": int32(1)}, rec.Content["nested"])
	require.Equal(t, []any{"x", map[string]any{"b": true}}, rec.Content["list"])
	require.Equal(t, document.AttachmentProperties{ContentType: "image/png", ContentSize: 3, Revision: 2}, rec.Attachments["fig1.png"])

	legacy, err := decodeRecord(bson.M{"_id": "D2", "attachments": bson.M{
		"a.pdf": bson.M{"content_type": "application/pdf", "content_size": int32(9), "revision": int64(1)},
	}})
	require.NoError(t, err)
	require.Equal(t, document.AttachmentProperties{ContentType: "application/pdf", ContentSize: 9, Revision: 1}, legacy.Attachments["a.pdf"])

	_, err = decodeRecord(bson.M{"content": bson.M{}})
	require.ErrorIs(t, err, document.ErrInvalidContent)
}

func TestRecordFieldsOmitsUnsetOptionals(t *testing.T) {
	d := &document.Record{ID: "D1", Type: document.TypeAsset, CreatedDate: "1.0", Revision: 1}
	set := recordFields(d)
	require.Equal(t, bson.M{}, set["content"])
	_, ok := set["updated_date"]
	require.False(t, ok)
	_, ok = set["attachments"]
	require.False(t, ok)

	d.Attachments = map[string]document.AttachmentProperties{
		"b.xml": {ContentType: "text/xml", ContentSize: 2, Revision: 1},
		"a.pdf": {ContentType: "application/pdf", ContentSize: 5, Revision: 3},
	}
	props, ok := recordFields(d)["attachments"].(bson.A)
	require.True(t, ok)
	require.Len(t, props, 2)
	require.Equal(t, "a.pdf", props[0].(bson.M)["file_id"])
	require.Equal(t, int64(3), props[0].(bson.M)["revision"])

	del := "3.0"
	d.DeletedDate = &del
	require.Equal(t, "3.0", recordFields(d)["deleted_date"])
}

func TestTranslateErrors(t *testing.T) {
	require.ErrorIs(t, translate(mongo.ErrNoDocuments), document.ErrNotFound)
	require.ErrorIs(t, translate(fmt.Errorf("wrapped: %w", mongo.ErrNoDocuments)), document.ErrNotFound)
	require.ErrorIs(t, translate(mongo.ErrClientDisconnected), document.ErrBackendUnavailable)
	require.ErrorIs(t, translate(context.DeadlineExceeded), document.ErrBackendUnavailable)
	require.ErrorIs(t, translate(mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}), document.ErrAlreadyExists)

	other := errors.New("boom")
	require.Equal(t, other, translate(other))
	require.NoError(t, translate(nil))
}

func TestAttachmentProps(t *testing.T) {
	raw := bson.M{attachmentsField: primitive.A{
		bson.M{"file_id": "a.xml", "revision": int32(1)},
		bson.M{"file_id": "fig1.png", "revision": int64(5)},
	}}
	p := attachmentProps(raw, "fig1.png", document.AttachmentProperties{ContentType: "image/png", ContentSize: 9})
	require.Equal(t, document.AttachmentProperties{ContentType: "image/png", ContentSize: 9, Revision: 5}, p)
}
