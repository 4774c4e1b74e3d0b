package objstore

import "net/url"

// Bucket notification event names handled by the pipeline.
const (
	EventCreatedPut                 = "s3:ObjectCreated:Put"
	EventCreatedCompleteMultipart   = "s3:ObjectCreated:CompleteMultipartUpload"
	EventRemovedDelete              = "s3:ObjectRemoved:Delete"
	EventRemovedNoOP                = "s3:ObjectRemoved:NoOP"
	EventRemovedDeleteMarkerCreated = "s3:ObjectRemoved:DeleteMarkerCreated"
)

// Action is what an event asks the pipeline to do.
type Action int

const (
	ActionUnsupported Action = iota
	ActionCreate
	ActionRemove
)

// Classify maps an event name to an Action.
func Classify(eventName string) Action {
	switch eventName {
	case EventCreatedPut, EventCreatedCompleteMultipart:
		return ActionCreate
	case EventRemovedDelete, EventRemovedNoOP, EventRemovedDeleteMarkerCreated:
		return ActionRemove
	}
	return ActionUnsupported
}

// Event is a single object change.
type Event struct {
	Name        string
	Bucket      string
	Key         string
	ETag        string
	Size        int64
	ContentType string
}

// DecodeKey undoes the form encoding object keys carry in notifications.
func DecodeKey(key string) string {
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}

// SubscribedEvents lists the events the listener subscribes to.
func SubscribedEvents() []string {
	return []string{"s3:ObjectCreated:*", "s3:ObjectRemoved:*"}
}
