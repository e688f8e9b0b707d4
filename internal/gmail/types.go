package gmail

type MessageID string
type LabelID string

// LabelUnread is the system label whose presence marks a message unread.
const LabelUnread LabelID = "UNREAD"

// Message is a fetched message with headers flattened and the body decoded.
type Message struct {
	ID      MessageID
	Headers map[string]string // From, To, Subject, Date, etc.
	Body    string
}

// ListPage is a single page of message IDs returned by List.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// ModifyOps describes label changes to apply to one message.
type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `in:inbox newer_than:30d`)
}
