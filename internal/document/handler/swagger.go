package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the document service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(r *gin.Engine) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>kernel-document - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "kernel-document", "version": "v0.1.0" },
  "paths": {
    "/api/documents": {
      "post": {
        "summary": "Register a document",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["document_type"],"properties":{"id":{"type":"string"},"document_type":{"type":"string"},"content":{"type":"object"}}}}}},
        "responses": { "201": { "description": "document stored, change id returned" }, "400": { "description": "invalid content" } }
      }
    },
    "/api/documents/_find": {
      "post": {
        "summary": "Query documents",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"selector":{"type":"object"},"fields":{"type":"array","items":{"type":"string"}},"sort":{"type":"array"},"limit":{"type":"integer"}}}}}},
        "responses": { "200": { "description": "matching documents" }, "400": { "description": "invalid query" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Read a document", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "put": {
        "summary": "Update a document at a known revision",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"revision":{"type":"integer"},"content":{"type":"object"}}}}}},
        "responses": { "200": { "description": "updated" }, "404": { "description": "not found" }, "409": { "description": "revision conflict" } }
      },
      "delete": {
        "summary": "Tombstone a document",
        "parameters": [{"name":"revision","in":"query","required":true,"schema":{"type":"integer"}}],
        "responses": { "200": { "description": "deleted" }, "404": { "description": "not found" }, "409": { "description": "delete failed" } }
      }
    },
    "/api/documents/{id}/attachments": {
      "get": { "summary": "List attachment ids", "responses": { "200": { "description": "attachment ids" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/attachments/{file}": {
      "put": { "summary": "Store an attachment", "requestBody": { "content": { "application/octet-stream": { "schema": {"type":"string","format":"binary"}}}}, "responses": { "200": { "description": "attachment properties and change id" }, "404": { "description": "not found" } } },
      "get": { "summary": "Read attachment bytes", "responses": { "200": { "description": "bytes, empty when the attachment does not exist" }, "404": { "description": "document not found" } } }
    },
    "/api/documents/{id}/attachments/{file}/properties": {
      "get": { "summary": "Attachment properties", "responses": { "200": { "description": "content type, size, revision" }, "404": { "description": "not found" } } }
    },
    "/api/changes": {
      "get": {
        "summary": "Change feed",
        "parameters": [{"name":"since","in":"query","schema":{"type":"string"}},{"name":"limit","in":"query","schema":{"type":"integer"}}],
        "responses": { "200": { "description": "changes in ascending order" }, "400": { "description": "invalid since or limit" } }
      }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
