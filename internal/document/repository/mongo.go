package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scielo/kernel/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// BlobStore keeps attachment bytes outside of MongoDB. MinIO implements it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	RemovePrefix(ctx context.Context, prefix string) error
}

// attachmentsField holds backend-owned attachment state as an array of
// subdocuments; file ids routinely contain dots, so they cannot be keys.
const attachmentsField = "_attachments"

type storedAttachment struct {
	FileID      string `bson:"file_id"`
	ContentType string `bson:"content_type"`
	ContentSize int64  `bson:"content_size"`
	Revision    int64  `bson:"revision"`
	Data        []byte `bson:"data,omitempty"`
}

// MongoRepo implements Backend on a single MongoDB collection. Revisions
// are enforced with a conditional UpdateOne on {_id, revision}.
type MongoRepo struct {
	col   *mongo.Collection
	blobs BlobStore
}

// MongoOption configures a MongoRepo.
type MongoOption func(*MongoRepo)

// WithBlobStore stores attachment bytes in bs instead of inline.
func WithBlobStore(bs BlobStore) MongoOption {
	return func(m *MongoRepo) { m.blobs = bs }
}

func NewMongoRepo(col *mongo.Collection, opts ...MongoOption) *MongoRepo {
	m := &MongoRepo{col: col}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MongoRepo) Create(ctx context.Context, id string, rec *document.Record) (*document.Record, error) {
	return m.Insert(ctx, id, rec)
}

// Insert is Create; MongoDB rejects duplicate ids through the _id index.
func (m *MongoRepo) Insert(ctx context.Context, id string, rec *document.Record) (*document.Record, error) {
	d := rec.Clone()
	d.ID = id
	d.Revision = 1
	doc := recordFields(d)
	doc["_id"] = id
	if _, err := m.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("create %q: %w", id, translate(err))
	}
	return d, nil
}

func (m *MongoRepo) Read(ctx context.Context, id string) (*document.Record, error) {
	opts := options.FindOne().SetProjection(bson.M{attachmentsField: 0})
	var raw bson.M
	if err := m.col.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&raw); err != nil {
		return nil, fmt.Errorf("read %q: %w", id, translate(err))
	}
	return decodeRecord(raw)
}

func (m *MongoRepo) Update(ctx context.Context, id string, rec *document.Record) (*document.Record, error) {
	d := rec.Clone()
	d.ID = id
	d.Revision = rec.Revision + 1
	set := recordFields(d)
	unset := bson.M{}
	if d.UpdatedDate == nil {
		unset["updated_date"] = ""
	}
	if d.DeletedDate == nil {
		unset["deleted_date"] = ""
	}
	if d.Attachments == nil {
		unset["attachments"] = ""
	}
	upd := bson.M{"$set": set}
	if len(unset) > 0 {
		upd["$unset"] = unset
	}
	res, err := m.col.UpdateOne(ctx, bson.M{"_id": id, "revision": rec.Revision}, upd)
	if err != nil {
		return nil, fmt.Errorf("update %q: %w", id, translate(err))
	}
	if res.MatchedCount == 0 {
		if err := m.exists(ctx, id); err != nil {
			return nil, fmt.Errorf("update %q: %w", id, err)
		}
		return nil, fmt.Errorf("update %q at revision %d: %w", id, rec.Revision, document.ErrUpdateConflict)
	}
	return d, nil
}

func (m *MongoRepo) Delete(ctx context.Context, id string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %q: %w", id, translate(err))
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %q: %w", id, document.ErrNotFound)
	}
	if m.blobs != nil {
		if err := m.blobs.RemovePrefix(ctx, m.blobPrefix(id)); err != nil {
			return fmt.Errorf("delete %q attachments: %w", id, document.ErrBackendUnavailable)
		}
	}
	return nil
}

func (m *MongoRepo) Find(ctx context.Context, q Query) ([]*document.Record, error) {
	opts := options.Find()
	if s := buildSort(q.Sort); len(s) > 0 {
		opts.SetSort(s)
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	opts.SetProjection(buildProjection(q.Fields))
	cur, err := m.col.Find(ctx, buildFilter(q.Filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", translate(err))
	}
	defer cur.Close(ctx)
	out := []*document.Record{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("find decode: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("find: %w", translate(err))
	}
	return out, nil
}

func (m *MongoRepo) PutAttachment(ctx context.Context, id, fileID string, content []byte, props document.AttachmentProperties) (document.AttachmentProperties, error) {
	props.ContentSize = int64(len(content))
	inline := content
	if m.blobs != nil {
		if err := m.blobs.Put(ctx, m.blobKey(id, fileID), content, props.ContentType); err != nil {
			return props, fmt.Errorf("put attachment %q/%q: %w", id, fileID, document.ErrBackendUnavailable)
		}
		inline = nil
	}

	after := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{attachmentsField: 1})
	// Two attempts: the replace path, then the first-write path. A concurrent
	// first write of the same file id makes the push miss, and the retry
	// lands on the replace path.
	for attempt := 0; attempt < 2; attempt++ {
		set := bson.M{
			attachmentsField + ".$.content_type": props.ContentType,
			attachmentsField + ".$.content_size": props.ContentSize,
		}
		if inline != nil {
			set[attachmentsField+".$.data"] = inline
		}
		var raw bson.M
		err := m.col.FindOneAndUpdate(ctx,
			bson.M{"_id": id, attachmentsField + ".file_id": fileID},
			bson.M{"$set": set, "$inc": bson.M{attachmentsField + ".$.revision": 1}},
			after).Decode(&raw)
		if err == nil {
			return attachmentProps(raw, fileID, props), nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return props, fmt.Errorf("put attachment %q/%q: %w", id, fileID, translate(err))
		}

		first := storedAttachment{FileID: fileID, ContentType: props.ContentType, ContentSize: props.ContentSize, Revision: 1, Data: inline}
		err = m.col.FindOneAndUpdate(ctx,
			bson.M{"_id": id, attachmentsField + ".file_id": bson.M{"$ne": fileID}},
			bson.M{"$push": bson.M{attachmentsField: first}},
			after).Decode(&raw)
		if err == nil {
			return attachmentProps(raw, fileID, props), nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return props, fmt.Errorf("put attachment %q/%q: %w", id, fileID, translate(err))
		}
		if err := m.exists(ctx, id); err != nil {
			return props, fmt.Errorf("put attachment %q/%q: %w", id, fileID, err)
		}
	}
	return props, fmt.Errorf("put attachment %q/%q: %w", id, fileID, document.ErrUpdateConflict)
}

func (m *MongoRepo) GetAttachment(ctx context.Context, id, fileID string) ([]byte, error) {
	atts, err := m.attachments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get attachment %q/%q: %w", id, fileID, err)
	}
	for _, a := range atts {
		if a.FileID != fileID {
			continue
		}
		if m.blobs == nil {
			return append([]byte{}, a.Data...), nil
		}
		b, err := m.blobs.Get(ctx, m.blobKey(id, fileID))
		if err != nil {
			return nil, fmt.Errorf("get attachment %q/%q: %w", id, fileID, document.ErrBackendUnavailable)
		}
		return b, nil
	}
	return []byte{}, nil
}

func (m *MongoRepo) ListAttachments(ctx context.Context, id string) ([]string, error) {
	atts, err := m.attachments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list attachments %q: %w", id, err)
	}
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.FileID)
	}
	return out, nil
}

func (m *MongoRepo) DropDatabase(ctx context.Context) error {
	if err := m.col.Drop(ctx); err != nil {
		return fmt.Errorf("drop %s: %w", m.col.Name(), translate(err))
	}
	if m.blobs != nil {
		if err := m.blobs.RemovePrefix(ctx, m.col.Name()+"/"); err != nil {
			return fmt.Errorf("drop %s attachments: %w", m.col.Name(), document.ErrBackendUnavailable)
		}
	}
	return nil
}

func (m *MongoRepo) attachments(ctx context.Context, id string) ([]storedAttachment, error) {
	var doc struct {
		Attachments []storedAttachment `bson:"_attachments"`
	}
	opts := options.FindOne().SetProjection(bson.M{attachmentsField: 1})
	if err := m.col.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return doc.Attachments, nil
}

func (m *MongoRepo) exists(ctx context.Context, id string) error {
	n, err := m.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (m *MongoRepo) blobPrefix(id string) string {
	return m.col.Name() + "/" + id + "/"
}

func (m *MongoRepo) blobKey(id, fileID string) string {
	return m.blobPrefix(id) + fileID
}

func attachmentProps(raw bson.M, fileID string, fallback document.AttachmentProperties) document.AttachmentProperties {
	arr, _ := raw[attachmentsField].(primitive.A)
	for _, it := range arr {
		sub := normalize(it)
		mm, ok := sub.(map[string]any)
		if !ok || mm["file_id"] != fileID {
			continue
		}
		if rev, ok := document.ToInt64(mm["revision"]); ok {
			fallback.Revision = rev
		}
		return fallback
	}
	return fallback
}

// translate maps driver errors onto the document error kinds.
func translate(err error) error {
	var sse topology.ServerSelectionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return document.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return document.ErrAlreadyExists
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.As(err, &sse),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", document.ErrBackendUnavailable, err)
	}
	return err
}

// mongoPath maps a filter field name to its stored bson path.
func mongoPath(field string) string {
	switch field {
	case "id", "_id", "document_id":
		return "_id"
	case "type":
		return "document_type"
	case "document_type", "created_date", "updated_date", "deleted_date", "revision", "content":
		return field
	case "attachments_properties":
		return "attachments"
	}
	if strings.HasPrefix(field, "content.") {
		return field
	}
	return "content." + field
}

var mongoOps = map[Operator]string{
	OpGT:  "$gt",
	OpGTE: "$gte",
	OpLT:  "$lt",
	OpLTE: "$lte",
	OpNE:  "$ne",
}

func buildFilter(f Filter) bson.M {
	out := bson.M{}
	for field, cond := range f {
		path := mongoPath(field)
		if len(cond.Ops) == 0 {
			out[path] = scalar(cond.Equals)
			continue
		}
		ops := bson.M{}
		for _, op := range cond.Ops {
			ops[mongoOps[op.Operator]] = scalar(op.Value)
		}
		out[path] = ops
	}
	return out
}

func buildSort(fields []SortField) bson.D {
	out := bson.D{}
	for _, sf := range fields {
		dir := 1
		if sf.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: mongoPath(sf.Field), Value: dir})
	}
	return out
}

func buildProjection(fields []string) bson.M {
	if len(fields) == 0 {
		return bson.M{attachmentsField: 0}
	}
	out := bson.M{"_id": 1, "document_type": 1, "revision": 1}
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		paths = append(paths, mongoPath(f))
	}
	// MongoDB rejects a projection naming both a path and one of its parents.
	for _, p := range paths {
		if !hasParent(p, paths) {
			out[p] = 1
		}
	}
	return out
}

func hasParent(path string, paths []string) bool {
	for _, q := range paths {
		if strings.HasPrefix(path, q+".") {
			return true
		}
	}
	return false
}

func recordFields(d *document.Record) bson.M {
	set := bson.M{
		"document_type": string(d.Type),
		"content":       d.Content,
		"created_date":  d.CreatedDate,
		"revision":      d.Revision,
	}
	if d.Content == nil {
		set["content"] = bson.M{}
	}
	if d.UpdatedDate != nil {
		set["updated_date"] = *d.UpdatedDate
	}
	if d.DeletedDate != nil {
		set["deleted_date"] = *d.DeletedDate
	}
	if d.Attachments != nil {
		props := make(bson.A, 0, len(d.Attachments))
		for _, fileID := range d.AttachmentIDs() {
			p := d.Attachments[fileID]
			props = append(props, bson.M{
				"file_id":      fileID,
				"content_type": p.ContentType,
				"content_size": p.ContentSize,
				"revision":     p.Revision,
			})
		}
		set["attachments"] = props
	}
	return set
}

func decodeRecord(raw bson.M) (*document.Record, error) {
	m, _ := normalize(raw).(map[string]any)
	rec := &document.Record{}
	rec.ID, _ = m["_id"].(string)
	t, _ := m["document_type"].(string)
	rec.Type = document.Type(t)
	rec.Content, _ = m["content"].(map[string]any)
	rec.CreatedDate, _ = m["created_date"].(string)
	if v, ok := m["updated_date"].(string); ok {
		rec.UpdatedDate = &v
	}
	if v, ok := m["deleted_date"].(string); ok {
		rec.DeletedDate = &v
	}
	rec.Revision, _ = document.ToInt64(m["revision"])
	switch atts := m["attachments"].(type) {
	case []any:
		rec.Attachments = make(map[string]document.AttachmentProperties, len(atts))
		for _, v := range atts {
			p, _ := v.(map[string]any)
			fileID, _ := p["file_id"].(string)
			if fileID == "" {
				continue
			}
			rec.Attachments[fileID] = decodeProps(p)
		}
	case map[string]any:
		// keyed by file id, as written by older versions
		rec.Attachments = make(map[string]document.AttachmentProperties, len(atts))
		for k, v := range atts {
			p, _ := v.(map[string]any)
			rec.Attachments[k] = decodeProps(p)
		}
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: stored document without _id", document.ErrInvalidContent)
	}
	return rec, nil
}

func decodeProps(p map[string]any) document.AttachmentProperties {
	ct, _ := p["content_type"].(string)
	size, _ := document.ToInt64(p["content_size"])
	rev, _ := document.ToInt64(p["revision"])
	return document.AttachmentProperties{ContentType: ct, ContentSize: size, Revision: rev}
}

// normalize converts the driver's bson containers into plain Go maps and
// slices so records look the same regardless of backend.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case primitive.Binary:
		return t.Data
	}
	return v
}
