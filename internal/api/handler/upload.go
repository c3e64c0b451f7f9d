package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlab/gradeflow/internal/storage"
)

// maxUploadSize caps submission payload uploads.
const maxUploadSize = 25 << 20

// UploadHandler stores submission payloads ahead of job creation. Clients
// upload first, then reference the returned storage key when enqueueing.
type UploadHandler struct {
	storage storage.ObjectStorage
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(store storage.ObjectStorage) *UploadHandler {
	return &UploadHandler{storage: store}
}

// Upload handles POST /api/v1/uploads. The payload arrives as the "file"
// multipart field; the response carries the storage key for CreateJob.
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing file field: " + err.Error(),
		})
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("File exceeds the %d byte upload limit", maxUploadSize),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read upload: " + err.Error(),
		})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := submissionKey(fileHeader.Filename)
	if err := h.storage.Upload(c.Request.Context(), key, file, fileHeader.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"storage_key": key,
		"url":         h.storage.GetURL(key),
		"file_name":   fileHeader.Filename,
		"size":        fileHeader.Size,
	})
}

// DeleteContent handles DELETE /api/v1/admin/content/*key, removing an
// uploaded payload that is no longer needed.
func (h *UploadHandler) DeleteContent(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing storage key"})
		return
	}

	exists, err := h.storage.Exists(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check object: " + err.Error()})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "No such object"})
		return
	}

	if err := h.storage.Delete(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete object: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

// submissionKey builds a collision-free object key, keeping the original
// extension so downstream MIME sniffing has a hint.
func submissionKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return "submissions/" + uuid.NewString() + ext
}
