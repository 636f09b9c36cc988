package message

// RequestType discriminates the request variants understood by a Processor.
type RequestType string

const (
	TypeSend    RequestType = "send"
	TypeCancel  RequestType = "cancel"
	TypeRetry   RequestType = "retry"
	TypeResume  RequestType = "resume"
	TypeClear   RequestType = "clear"
	TypeRestore RequestType = "restore"
	TypeUndo    RequestType = "undo"
)

// Request is one of SendRequest, CancelRequest, RetryRequest, ResumeRequest,
// ClearRequest, RestoreRequest or UndoRequest.
type Request interface {
	Type() RequestType
	request()
}

// SendRequest submits new user content to a room. ID may be empty, in which
// case the processor assigns one.
type SendRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	RoomID  int64  `json:"roomId"`
}

// CancelRequest asks the processor to stop work on a message.
type CancelRequest struct {
	MessageID string `json:"messageId"`
}

// RetryRequest asks the processor to run a failed or cancelled message again.
type RetryRequest struct {
	MessageID string `json:"messageId"`
}

// ResumeRequest asks the processor to continue a cancelled message.
type ResumeRequest struct {
	MessageID string `json:"messageId"`
}

// ClearRequest removes every message of a room.
type ClearRequest struct {
	RoomID int64 `json:"roomId"`
}

// RestoreRequest puts previously cleared messages back into a room.
type RestoreRequest struct {
	RoomID   int64               `json:"roomId"`
	Messages []ConcurrentMessage `json:"messages"`
}

// UndoRequest reverts the last send. Both fields are optional.
type UndoRequest struct {
	Content *string `json:"content,omitempty"`
	RoomID  *int64  `json:"roomId,omitempty"`
}

func (SendRequest) Type() RequestType    { return TypeSend }
func (CancelRequest) Type() RequestType  { return TypeCancel }
func (RetryRequest) Type() RequestType   { return TypeRetry }
func (ResumeRequest) Type() RequestType  { return TypeResume }
func (ClearRequest) Type() RequestType   { return TypeClear }
func (RestoreRequest) Type() RequestType { return TypeRestore }
func (UndoRequest) Type() RequestType    { return TypeUndo }

func (SendRequest) request()    {}
func (CancelRequest) request()  {}
func (RetryRequest) request()   {}
func (ResumeRequest) request()  {}
func (ClearRequest) request()   {}
func (RestoreRequest) request() {}
func (UndoRequest) request()    {}

// Result is what a processor reports back. Every field is optional.
type Result struct {
	MessageID string              `json:"messageId,omitempty"`
	Messages  []ConcurrentMessage `json:"messages,omitempty"`
	Success   bool                `json:"success"`
	Error     string              `json:"error,omitempty"`
}
