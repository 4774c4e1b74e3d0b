package apierr

// Code is a machine-readable error code returned in API responses.
type Code string

// Common errors.
const (
	CodeInvalidRequestBody Code = "INVALID_REQUEST_BODY"
	CodeInvalidID          Code = "INVALID_ID"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeNotImplemented     Code = "NOT_IMPLEMENTED"
)

// Item errors.
const (
	CodeItemNotFound       Code = "ITEM_NOT_FOUND"
	CodeItemBusy           Code = "ITEM_BUSY"
	CodeItemListFailed     Code = "ITEM_LIST_FAILED"
	CodeItemCreateFailed   Code = "ITEM_CREATE_FAILED"
	CodeItemDeleteFailed   Code = "ITEM_DELETE_FAILED"
	CodeItemRetryFailed    Code = "ITEM_RETRY_FAILED"
	CodeItemCancelFailed   Code = "ITEM_CANCEL_FAILED"
	CodeInvalidStatusQuery Code = "INVALID_STATUS_FILTER"
)

// Presigned URL errors.
const (
	CodeMissingFields Code = "MISSING_FIELDS"
	CodeInvalidMethod Code = "INVALID_METHOD"
	CodePresignFailed Code = "PRESIGN_FAILED"
)

// Bucket event errors.
const (
	CodeUnsupportedEvent Code = "UNSUPPORTED_EVENT"
	CodeEventFailed      Code = "EVENT_FAILED"
)

// Link errors.
const (
	CodeLinksRequired Code = "LINKS_REQUIRED"
	CodeInvalidURL    Code = "INVALID_URL"
)

// Sync errors.
const (
	CodeSyncFailed Code = "SYNC_FAILED"
)

// Health errors.
const (
	CodeDatabaseNotReady Code = "DATABASE_NOT_READY"
	CodeQueueNotReady    Code = "QUEUE_NOT_READY"
)
