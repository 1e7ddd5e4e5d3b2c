package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/scielo/kernel/internal/changes"
	"github.com/scielo/kernel/internal/document"
	"github.com/scielo/kernel/internal/document/repository"
	"github.com/scielo/kernel/internal/document/service"
	"github.com/scielo/kernel/internal/sequence"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	feed := repository.NewMemoryRepo()
	log := changes.NewService(feed, sequence.NewBackendGenerator(feed, sequence.DefaultLabel))
	svc := service.New(repository.NewMemoryRepo(), log)
	r := gin.New()
	RegisterDocumentRoutes(r, svc)
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type mutation struct {
	Document map[string]any `json:"document"`
	ChangeID int64          `json:"change_id"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRegisterAndRead(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/documents", gin.H{"id": "D1", "document_type": "ARTICLE", "content": gin.H{"Test": "A"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "/api/documents/D1", w.Header().Get("Location"))
	m := decode[mutation](t, w)
	require.Equal(t, int64(1), m.ChangeID)
	require.Equal(t, "D1", m.Document["id"])
	require.EqualValues(t, 1, m.Document["revision"])

	w = do(r, http.MethodGet, "/api/documents/D1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[map[string]any](t, w)
	require.Equal(t, "ARTICLE", doc["document_type"])
	require.Equal(t, map[string]any{"Test": "A"}, doc["content"])
	require.NotEmpty(t, doc["created_date"])
	require.NotContains(t, doc, "updated_date")
}

func TestRegisterGeneratesID(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodPost, "/api/documents", gin.H{"document_type": "ISSUE", "content": gin.H{}})
	require.Equal(t, http.StatusCreated, w.Code)
	m := decode[mutation](t, w)
	require.NotEmpty(t, m.Document["id"])
}

func TestRegisterRequiresType(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodPost, "/api/documents", gin.H{"id": "D1", "content": gin.H{}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/documents", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadMissing(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodGet, "/api/documents/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "error")
}

func TestUpdateRevisionConflict(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/documents", gin.H{"id": "D1", "document_type": "ARTICLE", "content": gin.H{"Test": "A"}}).Code)

	w := do(r, http.MethodPut, "/api/documents/D1", gin.H{"revision": 1, "content": gin.H{"Test": "B"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode[mutation](t, w)
	require.Equal(t, int64(2), m.ChangeID)
	require.EqualValues(t, 2, m.Document["revision"])
	require.NotEmpty(t, m.Document["updated_date"])

	// stale revision
	w = do(r, http.MethodPut, "/api/documents/D1", gin.H{"revision": 1, "content": gin.H{"Test": "C"}})
	require.Equal(t, http.StatusConflict, w.Code)

	doc := decode[map[string]any](t, do(r, http.MethodGet, "/api/documents/D1", nil))
	require.Equal(t, map[string]any{"Test": "B"}, doc["content"])

	require.Equal(t, http.StatusNotFound, do(r, http.MethodPut, "/api/documents/missing", gin.H{"revision": 1, "content": gin.H{}}).Code)
}

func TestDelete(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/documents", gin.H{"id": "D1", "document_type": "ARTICLE", "content": gin.H{}}).Code)

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/api/documents/D1", nil).Code)
	require.Equal(t, http.StatusConflict, do(r, http.MethodDelete, "/api/documents/D1?revision=7", nil).Code)

	w := do(r, http.MethodDelete, "/api/documents/D1?revision=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode[mutation](t, w)
	require.NotEmpty(t, m.Document["deleted_date"])

	// tombstone stays readable but is no longer mutable
	doc := decode[map[string]any](t, do(r, http.MethodGet, "/api/documents/D1", nil))
	require.NotEmpty(t, doc["deleted_date"])
	require.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/documents/D1?revision=2", nil).Code)
}

func TestAttachments(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/documents", gin.H{"id": "D1", "document_type": "ARTICLE", "content": gin.H{}}).Code)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/D1/attachments/fig1.png", bytes.NewReader([]byte("PNGDATA")))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	put := decode[struct {
		Properties document.AttachmentProperties `json:"properties"`
		ChangeID   int64                         `json:"change_id"`
	}](t, w)
	require.Equal(t, "image/png", put.Properties.ContentType)
	require.Equal(t, int64(7), put.Properties.ContentSize)
	require.Equal(t, int64(2), put.ChangeID)

	w = do(r, http.MethodGet, "/api/documents/D1/attachments/fig1.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "PNGDATA", w.Body.String())
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = do(r, http.MethodGet, "/api/documents/D1/attachments/fig1.png/properties", nil)
	require.Equal(t, http.StatusOK, w.Code)
	props := decode[document.AttachmentProperties](t, w)
	require.Equal(t, int64(7), props.ContentSize)

	w = do(r, http.MethodGet, "/api/documents/D1/attachments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"attachments":["fig1.png"]}`, w.Body.String())

	doc := decode[map[string]any](t, do(r, http.MethodGet, "/api/documents/D1", nil))
	require.Equal(t, []any{"fig1.png"}, doc["attachments"])

	// unknown attachment of an existing document reads as empty
	w = do(r, http.MethodGet, "/api/documents/D1/attachments/none.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.Bytes())
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/documents/D1/attachments/none.pdf/properties", nil).Code)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/documents/D2/attachments/fig1.png", nil).Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/documents/D2/attachments", nil).Code)
}

func TestFind(t *testing.T) {
	r := newRouter(t)
	for i, typ := range []string{"ARTICLE", "ARTICLE", "ISSUE", "ARTICLE"} {
		body := gin.H{"id": fmt.Sprintf("D%d", i), "document_type": typ, "content": gin.H{"year": 2000 + i}}
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/documents", body).Code)
	}

	w := do(r, http.MethodPost, "/api/documents/_find", gin.H{
		"selector": gin.H{"document_type": "ARTICLE", "content.year": gin.H{"$gte": 2001}},
		"sort":     []any{gin.H{"content.year": "desc"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[struct {
		Docs []map[string]any `json:"docs"`
	}](t, w)
	require.Len(t, res.Docs, 2)
	require.Equal(t, "D3", res.Docs[0]["id"])
	require.Equal(t, "D1", res.Docs[1]["id"])

	w = do(r, http.MethodPost, "/api/documents/_find", gin.H{"selector": gin.H{}, "sort": []any{"id"}, "limit": 2})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[struct {
		Docs []map[string]any `json:"docs"`
	}](t, w)
	require.Len(t, res.Docs, 2)
	require.Equal(t, "D0", res.Docs[0]["id"])

	w = do(r, http.MethodPost, "/api/documents/_find", gin.H{"selector": gin.H{"revision": gin.H{"$regex": "x"}}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListChanges(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/documents", gin.H{"id": "D1", "document_type": "ARTICLE", "content": gin.H{}}).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/documents/D1", gin.H{"revision": 1, "content": gin.H{"a": 1}}).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/api/documents/D1?revision=2", nil).Code)

	type feed struct {
		Results []document.Change `json:"results"`
	}
	w := do(r, http.MethodGet, "/api/changes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[feed](t, w)
	require.Len(t, all.Results, 3)
	require.Equal(t, document.ChangeCreate, all.Results[0].Type)
	require.Equal(t, document.ChangeUpdate, all.Results[1].Type)
	require.Equal(t, document.ChangeDelete, all.Results[2].Type)
	require.Equal(t, "D1", all.Results[2].DocumentID)

	page := decode[feed](t, do(r, http.MethodGet, "/api/changes?since=1&limit=1", nil))
	require.Len(t, page.Results, 1)
	require.Equal(t, int64(2), page.Results[0].ChangeID)

	w = do(r, http.MethodGet, "/api/changes?since=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"results":[]}`, w.Body.String())

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/changes?since=abc", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/changes?limit=x", nil).Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		document.ErrNotFound:                            http.StatusNotFound,
		fmt.Errorf("wrapped: %w", document.ErrNotFound): http.StatusNotFound,
		document.ErrUpdateConflict:                      http.StatusConflict,
		document.ErrDeleteFailed:                        http.StatusConflict,
		document.ErrAlreadyExists:                       http.StatusConflict,
		document.ErrInvalidContent:                      http.StatusBadRequest,
		document.ErrBackendUnavailable:                  http.StatusServiceUnavailable,
		errors.New("boom"):                              http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
}
