package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer = 1000
	ErrInvalidParams  = 1001
	ErrNotFound       = 1002
	ErrServiceUnavail = 1008

	// File store errors (6000-6999)
	ErrFileNotFound            = 6000
	ErrFileWriteFailed         = 6001
	ErrFileIO                  = 6002
	ErrFileInconsistent        = 6003
	ErrFileBusy                = 6004
	ErrFileInvalidID           = 6005
	ErrFileTooLarge            = 6006
	ErrFileMissing             = 6007
	ErrFileIDExists            = 6008
	ErrFileMetadataUnavailable = 6009
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer: {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:  {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:       {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrServiceUnavail: {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// File store errors
	ErrFileNotFound:            {ErrFileNotFound, http.StatusNotFound, "File does not exists."},
	ErrFileWriteFailed:         {ErrFileWriteFailed, http.StatusInternalServerError, "File could not be stored"},
	ErrFileIO:                  {ErrFileIO, http.StatusInternalServerError, "File storage I/O failed"},
	ErrFileInconsistent:        {ErrFileInconsistent, http.StatusInternalServerError, "File is unavailable."},
	ErrFileBusy:                {ErrFileBusy, http.StatusServiceUnavailable, "File content is being retired, retry later"},
	ErrFileInvalidID:           {ErrFileInvalidID, http.StatusBadRequest, "Invalid file id"},
	ErrFileTooLarge:            {ErrFileTooLarge, http.StatusRequestEntityTooLarge, "File size exceeds limit"},
	ErrFileMissing:             {ErrFileMissing, http.StatusBadRequest, "No file part in request"},
	ErrFileIDExists:            {ErrFileIDExists, http.StatusConflict, "File id already exists"},
	ErrFileMetadataUnavailable: {ErrFileMetadataUnavailable, http.StatusServiceUnavailable, "Metadata store unavailable"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	return GetHTTPStatus(code) >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
