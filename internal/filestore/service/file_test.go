package service

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/data"
	"github.com/lk2023060901/file-dedup-service/internal/filestore/models"
	apperrors "github.com/lk2023060901/file-dedup-service/internal/pkg/errors"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
)

type uploadBody struct {
	Status     string  `json:"status"`
	ResponseID *string `json:"response_id"`
}

type statusBody struct {
	Status string `json:"status"`
}

func setupRouter(t *testing.T, maxUploadSize int64) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rcfg := pkgredis.DefaultConfig()
	rcfg.MasterAddr = mr.Addr()
	rdb, err := pkgredis.New(rcfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	store, err := data.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	hasher, err := biz.NewHasher(biz.HashSHA256)
	require.NoError(t, err)
	ids, err := biz.NewIDGenerator(biz.IDFormatUUID)
	require.NoError(t, err)

	repo := data.NewMetadataRepo(rdb, 100, logger.NewNop())
	engine := biz.NewEngine(repo, store, hasher, biz.DefaultEngineConfig(), logger.NewNop())

	router := gin.New()
	router.RedirectTrailingSlash = false
	NewFileService(engine, ids, maxUploadSize, logger.NewNop()).RegisterRoutes(router)
	return router, mr
}

func multipartRequest(t *testing.T, path, field, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "hello.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func upload(t *testing.T, router *gin.Engine, content string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "/upload", "file", content))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body uploadBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "success", body.Status)
	require.NotNil(t, body.ResponseID)
	return *body.ResponseID
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body statusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Status
}

func TestUploadDownloadDelete(t *testing.T) {
	router, mr := setupRouter(t, 0)

	u1 := upload(t, router, "hello")
	u2 := upload(t, router, "hello")
	assert.NotEqual(t, u1, u2)

	rec := get(router, "/download?id="+u1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, `attachment; filename="`+u1+`"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))

	rec = get(router, "/delete?id="+u1)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeStatus(t, rec))

	rec = get(router, "/download/?id="+u2)
	assert.Equal(t, "hello", rec.Body.String())

	rec = get(router, "/download?id="+u1)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgFileNotExists, decodeStatus(t, rec))

	rec = get(router, "/delete/?id="+u2)
	assert.Equal(t, "success", decodeStatus(t, rec))
	assert.Empty(t, mr.Keys())
}

func TestUploadFailures(t *testing.T) {
	router, mr := setupRouter(t, 512)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "/upload/", "other", "hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"status":"failure","response_id":null}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "/upload", "file", strings.Repeat("x", 1024)))
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
	assert.JSONEq(t, `{"status":"failure","response_id":null}`, rec.Body.String())

	assert.Empty(t, mr.Keys())
}

func TestUploadMetadataUnavailable(t *testing.T) {
	router, mr := setupRouter(t, 0)
	mr.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "/upload", "file", "hello"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"failure","response_id":null}`, rec.Body.String())
}

func TestDownloadMessages(t *testing.T) {
	router, mr := setupRouter(t, 0)

	rec := get(router, "/download")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgEnterFileID, decodeStatus(t, rec))

	rec = get(router, "/download?id=unknown")
	assert.Equal(t, MsgFileNotExists, decodeStatus(t, rec))

	// metadata points at a blob that is gone
	mr.HSet(models.UploadKey("broken"), "fh", "abcd", "fp", "ab/cd/abcd/broken", "ts", "1")
	rec = get(router, "/download?id=broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgFileUnavailable, decodeStatus(t, rec))
}

func TestDeleteFailures(t *testing.T) {
	router, _ := setupRouter(t, 0)

	rec := get(router, "/delete")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "failure", decodeStatus(t, rec))

	rec = get(router, "/delete?id=unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "failure", decodeStatus(t, rec))
}

func TestStat(t *testing.T) {
	router, _ := setupRouter(t, 0)
	id := upload(t, router, "hello")
	upload(t, router, "hello")

	rec := get(router, "/stat?id="+id)
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, id, body.ID)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", body.Hash)
	require.NotNil(t, body.Size)
	assert.Equal(t, int64(5), *body.Size)
	assert.Equal(t, int64(2), body.RefCount)

	rec = get(router, "/stat?id=unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndex(t *testing.T) {
	router, _ := setupRouter(t, 0)

	rec := get(router, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `name="file"`)
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		kind error
		code int
	}{
		{biz.ErrNotFound, apperrors.ErrFileNotFound},
		{biz.ErrInvalidID, apperrors.ErrFileInvalidID},
		{biz.ErrIDExists, apperrors.ErrFileIDExists},
		{biz.ErrContentBusy, apperrors.ErrFileBusy},
		{biz.ErrWriteFailed, apperrors.ErrFileWriteFailed},
		{biz.ErrIO, apperrors.ErrFileIO},
		{biz.ErrInconsistentState, apperrors.ErrFileInconsistent},
		{biz.ErrMetadataUnavailable, apperrors.ErrFileMetadataUnavailable},
		{assert.AnError, apperrors.ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.kind.Error(), func(t *testing.T) {
			err := &biz.StorageError{Op: "test", ID: "x", Kind: tt.kind}
			assert.Equal(t, tt.code, toAppError(err).Code)
		})
	}
}
