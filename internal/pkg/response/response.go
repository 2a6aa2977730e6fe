package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/file-dedup-service/internal/pkg/errors"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Status 基础响应结构 {"status": ...}
type Status struct {
	Status string `json:"status"`
}

// Upload 上传响应结构，失败时 response_id 为 null
type Upload struct {
	Status     string  `json:"status"`
	ResponseID *string `json:"response_id"`
}

// Success 成功响应（200）{"status":"success"}
func Success(c *gin.Context) {
	c.JSON(http.StatusOK, Status{Status: StatusSuccess})
}

// UploadSuccess 上传成功（200），返回逻辑文件 id
func UploadSuccess(c *gin.Context, id string) {
	c.JSON(http.StatusOK, Upload{Status: StatusSuccess, ResponseID: &id})
}

// UploadFailure 上传失败，HTTP 状态码由错误码决定
func UploadFailure(c *gin.Context, err error) {
	c.JSON(HTTPStatus(err), Upload{Status: StatusFailure})
}

// Failure 通用失败响应 {"status":"failure"}
func Failure(c *gin.Context, err error) {
	c.JSON(HTTPStatus(err), Status{Status: StatusFailure})
}

// Message 以提示语作为 status 的失败响应（下载接口）
func Message(c *gin.Context, err error, message string) {
	c.JSON(HTTPStatus(err), Status{Status: message})
}

// Data 直接输出数据（200）
func Data(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// HTTPStatus 根据错误码推导 HTTP 状态码，非 AppError 视为 500。
// 失败响应的 body 不变，客户端也可以只看 status 字段。
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return apperrors.GetHTTPStatus(apperrors.ExtractCode(err))
}
