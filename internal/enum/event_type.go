package enum

type EventType string

const (
	EventTypeAcct    EventType = "acct"
	EventTypeTran    EventType = "tran"
	EventTypeBounce  EventType = "bounce"
	EventTypeFbl     EventType = "fbl"
	EventTypeRb      EventType = "rb"
	EventTypeUnknown EventType = "unknown"
)

func (t EventType) String() string {
	return string(t)
}

// IsDelivered reports a delivered transaction.
func (t EventType) IsDelivered() bool {
	return t == EventTypeTran
}

// IsBounce reports hard bounces and remote rate blocks.
func (t EventType) IsBounce() bool {
	return t == EventTypeBounce || t == EventTypeRb
}

func (t EventType) IsComplaint() bool {
	return t == EventTypeFbl
}

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

func (s FileStatus) String() string {
	return string(s)
}

func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusError
}
