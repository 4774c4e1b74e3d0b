package apierr

import "net/http"

// --- Common ---

func InvalidRequestBody() *Error {
	return New(CodeInvalidRequestBody, http.StatusBadRequest, "Invalid request body")
}

func InvalidID(entity string) *Error {
	return New(CodeInvalidID, http.StatusBadRequest, "Invalid "+entity+" ID")
}

func InternalError(cause error) *Error {
	return Wrap(CodeInternalError, http.StatusInternalServerError, "Internal server error", cause)
}

func NotImplemented(feature string) *Error {
	return New(CodeNotImplemented, http.StatusNotImplemented, feature+" is not implemented")
}

// --- Items ---

func ItemNotFound(entity string) *Error {
	return New(CodeItemNotFound, http.StatusNotFound, entity+" not found")
}

func ItemBusy(message string) *Error {
	return New(CodeItemBusy, http.StatusConflict, message)
}

func ItemListFailed(cause error) *Error {
	return Wrap(CodeItemListFailed, http.StatusInternalServerError, "Failed to list items", cause)
}

func ItemCreateFailed(cause error) *Error {
	return Wrap(CodeItemCreateFailed, http.StatusInternalServerError, "Failed to add item", cause)
}

func ItemDeleteFailed(cause error) *Error {
	return Wrap(CodeItemDeleteFailed, http.StatusInternalServerError, "Failed to delete item", cause)
}

func ItemRetryFailed(cause error) *Error {
	return Wrap(CodeItemRetryFailed, http.StatusInternalServerError, "Failed to retry item", cause)
}

func ItemCancelFailed(cause error) *Error {
	return Wrap(CodeItemCancelFailed, http.StatusInternalServerError, "Failed to cancel task", cause)
}

func InvalidStatusFilter(value string) *Error {
	return New(CodeInvalidStatusQuery, http.StatusBadRequest, "Unknown status "+value)
}

// --- Presigned URLs ---

func MissingFields(fields string) *Error {
	return New(CodeMissingFields, http.StatusBadRequest, "Missing required fields: "+fields)
}

func InvalidMethod() *Error {
	return New(CodeInvalidMethod, http.StatusBadRequest, "Method must be one of: GET, PUT, DELETE")
}

func PresignFailed(cause error) *Error {
	return Wrap(CodePresignFailed, http.StatusInternalServerError, "Failed to generate presigned URL", cause)
}

// --- Bucket events ---

func UnsupportedEvent(name string) *Error {
	return New(CodeUnsupportedEvent, http.StatusNotImplemented, "Unsupported event "+name)
}

func EventFailed(cause error) *Error {
	return Wrap(CodeEventFailed, http.StatusInternalServerError, "Failed to handle bucket event", cause)
}

// --- Links ---

func LinksRequired() *Error {
	return New(CodeLinksRequired, http.StatusBadRequest, "At least one link is required")
}

func InvalidURL(value string) *Error {
	return New(CodeInvalidURL, http.StatusBadRequest, "Invalid URL: "+value)
}

// --- Sync ---

func SyncFailed(cause error) *Error {
	return Wrap(CodeSyncFailed, http.StatusInternalServerError, "Failed to schedule synchronization", cause)
}

// --- Health ---

func DatabaseNotReady() *Error {
	return New(CodeDatabaseNotReady, http.StatusServiceUnavailable, "Database not ready")
}

func QueueNotReady() *Error {
	return New(CodeQueueNotReady, http.StatusServiceUnavailable, "Task queue not ready")
}
