package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth        = "AUTH_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeManifest    = "MANIFEST_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrManifestNotFound   = errors.New("manifest not found")
	ErrMissingCredentials = errors.New("missing API credentials")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrBookNotFound       = errors.New("book not found")
	ErrPageNotTracked     = errors.New("page not tracked")
	ErrRateLimited        = errors.New("rate limited")
)

// Operations reported in PageError.
const (
	OpExport = "export"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpRead   = "read"
	OpWrite  = "write"
	OpRemove = "remove"
)

// APIError represents an error returned by the wiki API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// PageError is a failure of one remote or local operation on a single page.
// The sync skips that page and continues with the rest.
type PageError struct {
	Op   string
	Key  Key
	Path string
	Err  error
}

func (e *PageError) Error() string {
	target := string(e.Key)
	if target == "" {
		target = e.Path
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// SyncError provides detailed sync failure information.
type SyncError struct {
	Code  string
	Phase string
	Root  string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s [%s]: %s: %v", e.Phase, e.Code, e.Root, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
