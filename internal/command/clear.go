package command

import (
	"context"
	"fmt"
	"slices"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/message"
)

// ClearMessagesCommand empties a room, keeping what the processor returned so
// undo can put it back in the same order.
type ClearMessagesCommand struct {
	*lifecycle
	processor message.Processor
	roomID    int64
	snapshot  []message.ConcurrentMessage
}

func NewClearMessagesCommand(processor message.Processor, roomID int64) (*ClearMessagesCommand, error) {
	if isNil(processor) {
		return nil, apperr.Validation("Message processor is required")
	}
	return &ClearMessagesCommand{
		lifecycle: newLifecycle(),
		processor: processor,
		roomID:    roomID,
	}, nil
}

func (c *ClearMessagesCommand) Execute(ctx context.Context) (message.Result, error) {
	return c.runExecute(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		res, err := c.processor.Process(ctx, message.ClearRequest{RoomID: c.roomID})
		if err != nil {
			return res, err
		}
		c.snapshot = slices.Clone(res.Messages)
		return res, nil
	})
}

func (c *ClearMessagesCommand) Undo(ctx context.Context) (message.Result, error) {
	return c.runUndo(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		return c.processor.Process(ctx, message.RestoreRequest{
			RoomID:   c.roomID,
			Messages: slices.Clone(c.snapshot),
		})
	})
}

func (c *ClearMessagesCommand) Description() string {
	return fmt.Sprintf("Clear messages in room %d", c.roomID)
}

// Snapshot returns the messages removed by the last execution.
func (c *ClearMessagesCommand) Snapshot() []message.ConcurrentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.snapshot)
}
