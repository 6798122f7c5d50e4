package engine

import (
	"context"
	"errors"
	"time"

	"github.com/StorX2-0/Share-Tools/cache"
)

// Task pairs a resolved folder with the recipient it is shared to.
type Task struct {
	FolderID  string
	Recipient cache.Recipient
}

// IssueTypeNoFolder marks recipients filtered out before dispatch because no
// folder matched their name.
const IssueTypeNoFolder = "NO_FOLDER"

// ShareResult is the outcome of one share attempt. Results are appended in
// completion order and never mutated; Timestamp is stamped by the
// coordinator on receipt.
type ShareResult struct {
	Success      bool            `json:"success"`
	PermissionID string          `json:"permissionId,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	IssueType    string          `json:"issueType,omitempty"`
	FolderID     string          `json:"folderId,omitempty"`
	Recipient    cache.Recipient `json:"recipient"`
	WorkerID     int             `json:"workerId"`
	Timestamp    time.Time       `json:"timestamp"`
}

// CellUpdate is a pending write to the remote document.
type CellUpdate struct {
	Range string `json:"range"`
	Value string `json:"value"`
}

// SheetInfo describes one sheet of the remote document.
type SheetInfo struct {
	Title   string `json:"title"`
	SheetID int64  `json:"sheetId"`
}

// RemoteClient is the capability over the external document and storage
// service. Implementations must not retry internally; retry policy belongs
// to the engine.
type RemoteClient interface {
	// GrantRead grants read capability on folderID to email without
	// triggering a user-visible notification.
	GrantRead(ctx context.Context, folderID, email string) (permissionID string, err error)

	// ListSheets returns the sheets of the document.
	ListSheets(ctx context.Context, spreadsheetID string) ([]SheetInfo, error)

	// BatchWriteCells applies all updates to the named sheet in one call.
	BatchWriteCells(ctx context.Context, spreadsheetID, sheetTitle string, updates []CellUpdate) error
}

// ClientFactory builds a RemoteClient for one worker. Each worker owns its
// own client so a bad initialization only sidelines that worker.
type ClientFactory func(ctx context.Context, workerID int) (RemoteClient, error)

// ErrorCoder is implemented by grant errors that carry a classification code
// (PERMISSION_DENIED, RATE_LIMITED, NOT_FOUND, EMAIL_INVALID, UNKNOWN).
type ErrorCoder interface {
	ErrorCode() string
}

// CodeUnknown is the fallback classification for unrecognized grant errors.
const CodeUnknown = "UNKNOWN"

// GrantErrorCode extracts the classification from a grant error.
func GrantErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var ec ErrorCoder
	if errors.As(err, &ec) {
		return ec.ErrorCode()
	}
	return CodeUnknown
}
