package service

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	apperrors "github.com/lk2023060901/file-dedup-service/internal/pkg/errors"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/lk2023060901/file-dedup-service/internal/pkg/response"
)

// Download failure messages returned as the status string
const (
	MsgEnterFileID     = "Enter file id for downloading file."
	MsgFileNotExists   = "File does not exists."
	MsgFileUnavailable = "File is unavailable."
)

const downloadChunkSize = 8 << 10

//go:embed index.html
var indexHTML []byte

type FileService struct {
	engine        *biz.Engine
	ids           biz.IDGenerator
	maxUploadSize int64
	logger        *logger.Logger
}

// NewFileService 创建文件服务，maxUploadSize 为 0 时不限制上传大小
func NewFileService(engine *biz.Engine, ids biz.IDGenerator, maxUploadSize int64, log *logger.Logger) *FileService {
	return &FileService{
		engine:        engine,
		ids:           ids,
		maxUploadSize: maxUploadSize,
		logger:        log.Named("file-service"),
	}
}

// RegisterRoutes 注册路由，每个接口同时接受带尾斜杠的路径。
// Failures keep the JSON status body but are sent with a 4xx/5xx code
// (404 unknown id, 400 bad input, 413 too large, 409 id collision,
// 503 busy or Redis down, 500 storage errors), not 200.
func (s *FileService) RegisterRoutes(r gin.IRoutes) {
	r.GET("/", s.Index)
	for _, prefix := range []string{"/upload", "/upload/"} {
		r.POST(prefix, s.Upload)
	}
	for _, prefix := range []string{"/download", "/download/"} {
		r.GET(prefix, s.Download)
	}
	for _, prefix := range []string{"/delete", "/delete/"} {
		r.GET(prefix, s.Delete)
	}
	for _, prefix := range []string{"/stat", "/stat/"} {
		r.GET(prefix, s.Stat)
	}
}

// Index 手动测试用的上传页面
func (s *FileService) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// Upload 上传文件（multipart 字段 file），返回新的逻辑文件 id
func (s *FileService) Upload(c *gin.Context) {
	if s.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.UploadFailure(c, apperrors.Wrap(err, apperrors.ErrFileTooLarge))
			return
		}
		response.UploadFailure(c, apperrors.Wrap(err, apperrors.ErrFileMissing))
		return
	}
	defer file.Close()

	id := s.ids.NewID()
	ctx := logger.WithFileID(c.Request.Context(), id)
	log := s.logger.WithContext(ctx)

	up, err := s.engine.Ingest(ctx, id, file)
	if err != nil {
		log.Error("failed to upload file",
			zap.String("filename", header.Filename),
			zap.Error(err),
		)
		response.UploadFailure(c, toAppError(err))
		return
	}

	log.Info("file uploaded",
		zap.String("filename", header.Filename),
		zap.Int64("size", up.Size),
		zap.Bool("deduplicated", up.Deduplicated),
		zap.Int64("ref_count", up.RefCount),
	)
	response.UploadSuccess(c, up.ID)
}

// Download 以附件形式流式返回文件内容
func (s *FileService) Download(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		response.Message(c, apperrors.New(apperrors.ErrInvalidParams), MsgEnterFileID)
		return
	}

	ctx := logger.WithFileID(c.Request.Context(), id)
	rc, size, err := s.engine.Open(ctx, id)
	if err != nil {
		appErr := toAppError(err)
		if !errors.Is(err, biz.ErrNotFound) {
			s.logger.WithContext(ctx).Error("failed to open file", zap.Error(err))
		}
		response.Message(c, appErr, downloadMessage(appErr))
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, id))
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Length", strconv.FormatInt(size, 10))
	c.Status(http.StatusOK)

	// Hide WriterTo so the copy goes through the fixed-size buffer.
	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(c.Writer, struct{ io.Reader }{rc}, buf); err != nil {
		s.logger.WithContext(ctx).Warn("download interrupted", zap.Error(err))
	}
}

// Delete 删除逻辑文件，最后一个引用删除时同时删除物理文件
func (s *FileService) Delete(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		response.Failure(c, apperrors.New(apperrors.ErrInvalidParams))
		return
	}

	ctx := logger.WithFileID(c.Request.Context(), id)
	if err := s.engine.Retire(ctx, id); err != nil {
		if !errors.Is(err, biz.ErrNotFound) {
			s.logger.WithContext(ctx).Error("failed to delete file", zap.Error(err))
		}
		response.Failure(c, toAppError(err))
		return
	}

	response.Success(c)
}

// StatResponse 只读元数据视图
type StatResponse struct {
	Status    string    `json:"status"`
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Size      *int64    `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	RefCount  int64     `json:"ref_count"`
}

// Stat 查询文件元数据
func (s *FileService) Stat(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		response.Failure(c, apperrors.New(apperrors.ErrInvalidParams))
		return
	}

	info, err := s.engine.Stat(c.Request.Context(), id)
	if err != nil {
		response.Failure(c, toAppError(err))
		return
	}

	resp := StatResponse{
		Status:    response.StatusSuccess,
		ID:        info.ID,
		Hash:      info.Hash,
		CreatedAt: info.CreatedAt.UTC(),
		RefCount:  info.RefCount,
	}
	if info.Size >= 0 {
		resp.Size = &info.Size
	}
	response.Data(c, resp)
}

// toAppError maps engine error kinds to coded errors
func toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, biz.ErrNotFound):
		return apperrors.Wrap(err, apperrors.ErrFileNotFound)
	case errors.Is(err, biz.ErrInvalidID):
		return apperrors.Wrap(err, apperrors.ErrFileInvalidID)
	case errors.Is(err, biz.ErrIDExists):
		return apperrors.Wrap(err, apperrors.ErrFileIDExists)
	case errors.Is(err, biz.ErrContentBusy):
		return apperrors.Wrap(err, apperrors.ErrFileBusy)
	case errors.Is(err, biz.ErrWriteFailed):
		return apperrors.Wrap(err, apperrors.ErrFileWriteFailed)
	case errors.Is(err, biz.ErrIO):
		return apperrors.Wrap(err, apperrors.ErrFileIO)
	case errors.Is(err, biz.ErrInconsistentState):
		return apperrors.Wrap(err, apperrors.ErrFileInconsistent)
	case errors.Is(err, biz.ErrMetadataUnavailable):
		return apperrors.Wrap(err, apperrors.ErrFileMetadataUnavailable)
	default:
		return apperrors.Wrap(err, apperrors.ErrInternalServer)
	}
}

func downloadMessage(err *apperrors.AppError) string {
	switch err.Code {
	case apperrors.ErrFileNotFound:
		return MsgFileNotExists
	case apperrors.ErrFileInconsistent:
		return MsgFileUnavailable
	default:
		return apperrors.GetMessage(err.Code)
	}
}
