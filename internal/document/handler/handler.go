package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/scielo/kernel/internal/document"
	"github.com/scielo/kernel/internal/document/service"
	"github.com/scielo/kernel/pkg/logger"
)

// maxAttachmentSize bounds PUT attachment bodies.
const maxAttachmentSize = 64 << 20

type documentHandler struct {
	svc service.Service
}

// RegisterDocumentRoutes mounts the document, attachment and change feed
// endpoints on r.
func RegisterDocumentRoutes(r *gin.Engine, svc service.Service) {
	h := &documentHandler{svc: svc}

	r.POST("/api/documents", h.register)
	r.POST("/api/documents/_find", h.find)
	r.GET("/api/documents/:id", h.read)
	r.PUT("/api/documents/:id", h.update)
	r.DELETE("/api/documents/:id", h.delete)

	r.GET("/api/documents/:id/attachments", h.listAttachments)
	r.PUT("/api/documents/:id/attachments/:file", h.putAttachment)
	r.GET("/api/documents/:id/attachments/:file", h.getAttachment)
	r.GET("/api/documents/:id/attachments/:file/properties", h.attachmentProperties)

	r.GET("/api/changes", h.listChanges)
}

type registerRequest struct {
	ID      string         `json:"id"`
	Type    document.Type  `json:"document_type"`
	Content map[string]any `json:"content"`
}

type updateRequest struct {
	Revision int64          `json:"revision"`
	Content  map[string]any `json:"content"`
}

// mutationResponse is returned by every write: the stored record plus the
// change id it produced in the feed.
type mutationResponse struct {
	Document *document.View `json:"document"`
	ChangeID int64          `json:"change_id"`
}

func (h *documentHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, change, err := h.svc.Register(c.Request.Context(), req.ID, &document.Record{Type: req.Type, Content: req.Content})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/documents/"+rec.ID)
	c.JSON(http.StatusCreated, mutationResponse{Document: document.NewView(rec), ChangeID: change})
}

func (h *documentHandler) read(c *gin.Context) {
	v, err := h.svc.Read(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *documentHandler) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, change, err := h.svc.Update(c.Request.Context(), c.Param("id"), &document.Record{Revision: req.Revision, Content: req.Content})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationResponse{Document: document.NewView(rec), ChangeID: change})
}

func (h *documentHandler) delete(c *gin.Context) {
	raw := c.Query("revision")
	revision, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "revision query parameter must be an integer"})
		return
	}
	rec, change, err := h.svc.Delete(c.Request.Context(), c.Param("id"), &document.Record{Revision: revision})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationResponse{Document: document.NewView(rec), ChangeID: change})
}

func (h *documentHandler) find(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := req.query()
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := h.svc.Find(c.Request.Context(), q.Filter, q.Fields, q.Sort)
	if err != nil {
		writeError(c, err)
		return
	}
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	out := make([]*document.View, 0, len(recs))
	for _, r := range recs {
		out = append(out, document.NewView(r))
	}
	c.JSON(http.StatusOK, gin.H{"docs": out})
}

func (h *documentHandler) listAttachments(c *gin.Context) {
	ids, err := h.svc.ListAttachments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachments": ids})
}

func (h *documentHandler) putAttachment(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAttachmentSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > maxAttachmentSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
		return
	}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	props, change, err := h.svc.PutAttachment(c.Request.Context(), c.Param("id"), c.Param("file"), body, contentType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": props, "change_id": change})
}

func (h *documentHandler) getAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	id, file := c.Param("id"), c.Param("file")
	data, err := h.svc.GetAttachment(ctx, id, file)
	if err != nil {
		writeError(c, err)
		return
	}
	contentType := "application/octet-stream"
	if props, err := h.svc.GetAttachmentProperties(ctx, id, file); err == nil && props.ContentType != "" {
		contentType = props.ContentType
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *documentHandler) attachmentProperties(c *gin.Context) {
	props, err := h.svc.GetAttachmentProperties(c.Request.Context(), c.Param("id"), c.Param("file"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (h *documentHandler) listChanges(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	changes, err := h.svc.ListChanges(c.Request.Context(), c.Query("since"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if changes == nil {
		changes = []document.Change{}
	}
	c.JSON(http.StatusOK, gin.H{"results": changes})
}

// writeError maps service errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrUpdateConflict), errors.Is(err, document.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, document.ErrInvalidContent):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
