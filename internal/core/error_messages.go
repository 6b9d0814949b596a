package core

// error_messages.go maps technical errors to user-friendly messages with
// codes for support reference. When users encounter errors, they can quote
// the code to support staff for faster diagnosis.
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Incomplete mapping: a rule or setting is missing or invalid
//	         Action: Review the plugin mapping settings
//	         Sentinel: mapping.ErrConfigShape
//
//	CFG002 - No mapping: the source app has no mapping configured
//	         Action: Configure the plugin for this app
//	         Sentinel: mapping.ErrUnknownApp
//
//	CFG003 - Unreadable mapping: the mapping document could not be parsed
//	         Patterns: "failed to parse mapping"
//
// # App Errors (APP001-APP099)
//
//	APP001 - Invalid app: the request does not name a valid app
//	         Patterns: "invalid app id"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large        Sentinel: ErrFileTooLarge
//	FILE002 - Unreadable workbook   Sentinel: sheet.ErrNoWorksheet; Patterns: "workbook"
//	FILE003 - Unsupported file type Patterns: "unsupported file type"
//	FILE004 - No file               Sentinel: ErrNoFile
//
// # Platform Errors (PLT001-PLT099)
//
// Errors returned by the platform REST API, matched on HTTP status first:
//
//	PLT001 - 401/403: API token rejected
//	PLT002 - 404: app, record or file not found
//	PLT003 - other 4xx: the platform rejected the request (e.g. record validation)
//	PLT004 - 5xx or transport failure: platform unavailable
//
// # Submission Errors (SUB001-SUB099)
//
//	SUB001 - Run not found: the run id is unknown or has expired
//
// # Request Errors (UPL002-UPL099)
//
//	UPL002 - System busy (too many runs)
//	UPL004 - Request cancelled ("context canceled")
//	UPL005 - Request timed out ("context deadline exceeded")
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests ("rate limit")
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check application
// logs for the original technical error.
//
// Sentinels are checked with errors.Is before any pattern, so wrapped
// errors map correctly regardless of their text. Patterns are matched
// case-insensitively using strings.Contains; the first match wins.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgConfigShape = UserMessage{
		Message: "The mapping configuration is incomplete",
		Action:  "Review the plugin mapping settings",
		Code:    "CFG001",
	}
	msgUnknownApp = UserMessage{
		Message: "No mapping is configured for this app",
		Action:  "Configure the plugin for this app",
		Code:    "CFG002",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the workbook into smaller files",
		Code:    "FILE001",
	}
	msgBadWorkbook = UserMessage{
		Message: "The file is not a readable spreadsheet",
		Action:  "Save the file as .xlsx and upload it again",
		Code:    "FILE002",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a spreadsheet to upload",
		Code:    "FILE004",
	}
	msgPlatformAuth = UserMessage{
		Message: "The platform rejected the API token",
		Action:  "Check the API token and its app permissions",
		Code:    "PLT001",
	}
	msgPlatformNotFound = UserMessage{
		Message: "The app, record or file was not found on the platform",
		Action:  "Verify the destination app and attachment still exist",
		Code:    "PLT002",
	}
	msgPlatformRejected = UserMessage{
		Message: "The platform rejected the records",
		Action:  "Check that the mapped fields match the destination app",
		Code:    "PLT003",
	}
	msgPlatformDown = UserMessage{
		Message: "The platform is not reachable",
		Action:  "Please try again in a few moments",
		Code:    "PLT004",
	}
	msgRunNotFound = UserMessage{
		Message: "Processing run not found",
		Action:  "The run may have expired. Check the run history",
		Code:    "SUB001",
	}
	msgTooManyRuns = UserMessage{
		Message: "System is busy processing other submissions",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgCanceled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller workbook or try again later",
		Code:    "UPL005",
	}
)

// errorSentinel maps a sentinel error to its user message.
type errorSentinel struct {
	err error
	msg UserMessage
}

var errorSentinels = []errorSentinel{
	{mapping.ErrConfigShape, msgConfigShape},
	{mapping.ErrUnknownApp, msgUnknownApp},
	{ErrFileTooLarge, msgFileTooLarge},
	{sheet.ErrNoWorksheet, msgBadWorkbook},
	{ErrNoFile, msgNoFile},
	{ErrRunNotFound, msgRunNotFound},
	{ErrTooManyRuns, msgTooManyRuns},
	{context.Canceled, msgCanceled},
	{context.DeadlineExceeded, msgTimeout},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. The first matching pattern wins, so more specific patterns
// come first.
var errorPatterns = []errorPattern{
	{
		pattern: "failed to parse mapping",
		msg: UserMessage{
			Message: "The mapping document could not be read",
			Action:  "Check the mapping file syntax",
			Code:    "CFG003",
		},
	},
	{
		pattern: "invalid app id",
		msg: UserMessage{
			Message: "The app id is not valid",
			Action:  "Use the numeric id of the source app",
			Code:    "APP001",
		},
	},
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "workbook", msg: msgBadWorkbook},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Only Excel files can be processed",
			Action:  "Attach .xlsx files only",
			Code:    "FILE003",
		},
	},
	{pattern: "no file provided", msg: msgNoFile},
	{pattern: "too many concurrent runs", msg: msgTooManyRuns},
	{pattern: "context canceled", msg: msgCanceled},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "connection refused", msg: msgPlatformDown},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known sentinels and platform statuses are checked first, then the
// error text is matched against known patterns. If nothing matches, a
// generic fallback message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range errorSentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return platformMessage(sc.HTTPStatus())
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrExternal) {
		return msgPlatformDown
	}

	return defaultMessage
}

func platformMessage(status int) UserMessage {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return msgPlatformAuth
	case status == http.StatusNotFound:
		return msgPlatformNotFound
	case status == http.StatusTooManyRequests:
		return UserMessage{
			Message: "The platform is throttling requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		}
	case status >= 400 && status < 500:
		return msgPlatformRejected
	default:
		return msgPlatformDown
	}
}
