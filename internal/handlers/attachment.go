package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/observability"
	"messaging-service/internal/storage"
)

// AttachmentHandler accepts uploads ahead of file-message appends.
type AttachmentHandler struct {
	store storage.AttachmentStore
}

// NewAttachmentHandler builds an AttachmentHandler.
func NewAttachmentHandler(store storage.AttachmentStore) *AttachmentHandler {
	return &AttachmentHandler{store: store}
}

// Upload persists a multipart file and returns the reference the client
// must pass when appending the message. Rejections leave no partial
// state behind: no bytes are written and no message row exists yet.
func (h *AttachmentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer f.Close()

	stored, err := h.store.Store(c.Request.Context(), f, fileHeader.Filename, fileHeader.Size, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrFileTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		case errors.Is(err, storage.ErrUnsupportedMediaType):
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported media type"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
		}
		return
	}

	observability.AddAttachmentBytes(stored.Size)
	c.JSON(http.StatusCreated, stored)
}
