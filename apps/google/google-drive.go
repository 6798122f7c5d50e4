package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/StorX2-0/Share-Tools/pkg/monitor"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Grant error classification codes.
const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotFound         = "NOT_FOUND"
	CodeEmailInvalid     = "EMAIL_INVALID"
	CodeUnknown          = "UNKNOWN"
)

// callTimeout bounds every single remote call.
const callTimeout = 30 * time.Second

// GrantError wraps a Drive API failure with its classification code.
type GrantError struct {
	Code string
	Err  error
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *GrantError) Unwrap() error {
	return e.Err
}

// ErrorCode implements the engine's classification accessor.
func (e *GrantError) ErrorCode() string {
	return e.Code
}

// Client bundles the Drive and Sheets services behind one credential. It is
// stateless beyond the attached capability; failures are returned, never
// retried here.
type Client struct {
	drive  *drive.Service
	sheets *sheets.Service
}

// NewClient builds the Drive and Sheets services over an authenticated HTTP
// client.
func NewClient(ctx context.Context, httpClient *http.Client) (*Client, error) {
	driveSrv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	sheetsSrv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return &Client{drive: driveSrv, sheets: sheetsSrv}, nil
}

// GrantRead grants reader permission on folderID to email. The grant is
// silent: no notification e-mail is sent. Granting an already-granted
// permission is idempotent on the Drive side.
func (c *Client) GrantRead(ctx context.Context, folderID, email string) (permissionID string, err error) {
	defer monitor.Mon.Task()(&ctx)(&err)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	perm, err := c.drive.Permissions.Create(folderID, &drive.Permission{
		Type:         "user",
		Role:         "reader",
		EmailAddress: email,
	}).
		SendNotificationEmail(false).
		Fields("id").
		Context(callCtx).
		Do()
	if err != nil {
		return "", &GrantError{Code: classifyGrantError(err), Err: err}
	}
	return perm.Id, nil
}

// classifyGrantError maps a googleapi error onto the engine's code set.
func classifyGrantError(err error) string {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return CodeUnknown
	}

	switch apiErr.Code {
	case http.StatusForbidden, http.StatusTooManyRequests:
		if hasReason(apiErr, "rateLimitExceeded", "userRateLimitExceeded") ||
			apiErr.Code == http.StatusTooManyRequests {
			return CodeRateLimited
		}
		return CodePermissionDenied
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadRequest:
		if hasReason(apiErr, "invalidSharingRequest") ||
			strings.Contains(strings.ToLower(apiErr.Message), "email") {
			return CodeEmailInvalid
		}
		return CodeUnknown
	default:
		return CodeUnknown
	}
}

func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		for _, reason := range reasons {
			if item.Reason == reason {
				return true
			}
		}
	}
	return false
}
