// Package api serves submissions and export downloads over HTTP.
package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/celerix-dev/celerix-export/internal/portal"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/celerix-dev/celerix-export/pkg/sdk"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuditReader lists recent export attempts.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]schema.AuditLog, error)
}

type Handler struct {
	Service *portal.Service
	// Audit is nil when the audit log is disabled.
	Audit  AuditReader
	Logger *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) ListClients(c *gin.Context) {
	clients, err := h.Service.Backend().Clients(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if clients == nil {
		clients = []schema.Client{}
	}
	c.JSON(http.StatusOK, clients)
}

func (h *Handler) ListSubmissions(c *gin.Context) {
	q, ok := h.query(c)
	if !ok {
		return
	}
	listing, err := h.Service.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	subs := listing.Submissions
	if subs == nil {
		subs = []schema.Submission{}
	}
	c.JSON(http.StatusOK, gin.H{
		"title":       listing.Title,
		"submissions": subs,
	})
}

func (h *Handler) SubmitForm(c *gin.Context) {
	clientID := c.Param("client")

	var data schema.Payload
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.Service.Backend().SubmitForm(c.Request.Context(), clientID, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"formSubmission": sub})
}

func (h *Handler) DeleteSubmission(c *gin.Context) {
	id := c.Param("id")
	if err := h.Service.Backend().DeleteSubmission(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Export returns a handler streaming the selected submissions as format.
// An empty selection answers 204 with no body.
func (h *Handler) Export(format export.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := h.query(c)
		if !ok {
			return
		}
		res, _, err := h.Service.Export(c.Request.Context(), q, format, attachment(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		if res.Status == export.StatusSkipped {
			c.Status(http.StatusNoContent)
		}
	}
}

func (h *Handler) ExportSubmission(c *gin.Context) {
	if _, err := h.Service.ExportSubmission(c.Request.Context(), c.Param("id"), attachment(c)); err != nil {
		h.fail(c, err)
	}
}

func (h *Handler) RecentExports(c *gin.Context) {
	if h.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) query(c *gin.Context) (portal.Query, bool) {
	sort, err := portal.ParseSort(c.Query("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return portal.Query{}, false
	}
	self := false
	if raw := c.Query("self"); raw != "" {
		if self, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "self must be a boolean"})
			return portal.Query{}, false
		}
	}
	return portal.Query{
		ClientID: strings.TrimSpace(c.Query("client")),
		Self:     self,
		Sort:     sort,
	}, true
}

// attachment delivers a finished export as the response body.
func attachment(c *gin.Context) export.Sink {
	return export.SinkFunc(func(_ context.Context, f export.File) error {
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": f.Name})
		if disposition == "" {
			disposition = "attachment"
		}
		c.Header("Content-Disposition", disposition)
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, f.ContentType, f.Body)
		return nil
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

// StatusFor maps an error to an HTTP status and a client-facing message.
func StatusFor(err error) (int, string) {
	var apiErr *sdk.APIError
	switch {
	case errors.Is(err, sdk.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, sdk.ErrSubmissionNotFound), errors.Is(err, sdk.ErrClientNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, portal.ErrConflictingQuery):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode, apiErr.Message
		}
		return http.StatusBadGateway, apiErr.Message
	case errors.Is(err, sdk.ErrBadResponse):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, export.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request canceled"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
