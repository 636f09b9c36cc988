package command

import (
	"context"
	"fmt"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/message"
)

// SendMessageCommand sends content to a room. Undo asks the processor to
// retract it.
type SendMessageCommand struct {
	*lifecycle
	processor message.Processor
	content   string
	roomID    int64
}

// NewSendMessageCommand returns a send command. The command id doubles as the
// id of the message it sends.
func NewSendMessageCommand(processor message.Processor, content string, roomID int64) (*SendMessageCommand, error) {
	if isNil(processor) {
		return nil, apperr.Validation("Message processor is required")
	}
	return &SendMessageCommand{
		lifecycle: newLifecycle(),
		processor: processor,
		content:   content,
		roomID:    roomID,
	}, nil
}

func (c *SendMessageCommand) Execute(ctx context.Context) (message.Result, error) {
	return c.runExecute(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		return c.processor.Process(ctx, message.SendRequest{ID: c.id, Content: c.content, RoomID: c.roomID})
	})
}

func (c *SendMessageCommand) Undo(ctx context.Context) (message.Result, error) {
	return c.runUndo(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		content, room := c.content, c.roomID
		return c.processor.Process(ctx, message.UndoRequest{Content: &content, RoomID: &room})
	})
}

func (c *SendMessageCommand) Description() string {
	return fmt.Sprintf("Send message to room %d", c.roomID)
}

// Content returns the message text.
func (c *SendMessageCommand) Content() string { return c.content }

// RoomID returns the target room.
func (c *SendMessageCommand) RoomID() int64 { return c.roomID }
