package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/storage"
)

func setupAttachmentRouter(handler *AttachmentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/attachments", handler.Upload)
	return r
}

func multipartBody(t *testing.T, fieldName, fileName, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestUploadSuccess(t *testing.T) {
	store := new(mocks.AttachmentStoreMock)
	handler := NewAttachmentHandler(store)
	router := setupAttachmentRouter(handler)

	store.On("Store", mock.Anything, mock.Anything, "pic.png", int64(5), "image/png").
		Return(storage.StoredFile{URL: "/files/abc_pic.png", Name: "abc_pic.png", Size: 5}, nil).Once()

	body, contentType := multipartBody(t, "file", "pic.png", "image/png", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var stored storage.StoredFile
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stored))
	assert.Equal(t, "/files/abc_pic.png", stored.URL)
	store.AssertExpectations(t)
}

func TestUploadTooLarge(t *testing.T) {
	store := new(mocks.AttachmentStoreMock)
	handler := NewAttachmentHandler(store)
	router := setupAttachmentRouter(handler)

	store.On("Store", mock.Anything, mock.Anything, "big.bin", mock.Anything, mock.Anything).
		Return(storage.StoredFile{}, storage.ErrFileTooLarge).Once()

	body, contentType := multipartBody(t, "file", "big.bin", "application/octet-stream", []byte("xxxxxxxx"))
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadUnsupportedType(t *testing.T) {
	store := new(mocks.AttachmentStoreMock)
	handler := NewAttachmentHandler(store)
	router := setupAttachmentRouter(handler)

	store.On("Store", mock.Anything, mock.Anything, "run.exe", mock.Anything, mock.Anything).
		Return(storage.StoredFile{}, storage.ErrUnsupportedMediaType).Once()

	body, contentType := multipartBody(t, "file", "run.exe", "application/x-msdownload", []byte("MZ"))
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadMissingFile(t *testing.T) {
	handler := NewAttachmentHandler(new(mocks.AttachmentStoreMock))
	router := setupAttachmentRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/attachments", bytes.NewBufferString(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
