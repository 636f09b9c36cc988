package command

import (
	"context"
	"fmt"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/message"
)

// CancelMessageCommand signals the processor to stop work on a message.
// Cancellation is cooperative; undo issues a resume, not a retry.
type CancelMessageCommand struct {
	*lifecycle
	processor message.Processor
	messageID string
}

func NewCancelMessageCommand(processor message.Processor, messageID string) (*CancelMessageCommand, error) {
	if isNil(processor) {
		return nil, apperr.Validation("Message processor is required")
	}
	return &CancelMessageCommand{
		lifecycle: newLifecycle(),
		processor: processor,
		messageID: messageID,
	}, nil
}

func (c *CancelMessageCommand) Execute(ctx context.Context) (message.Result, error) {
	return c.runExecute(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		return c.processor.Process(ctx, message.CancelRequest{MessageID: c.messageID})
	})
}

func (c *CancelMessageCommand) Undo(ctx context.Context) (message.Result, error) {
	return c.runUndo(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		return c.processor.Process(ctx, message.ResumeRequest{MessageID: c.messageID})
	})
}

func (c *CancelMessageCommand) Description() string {
	return fmt.Sprintf("Cancel message %s", c.messageID)
}

// MessageID returns the targeted message.
func (c *CancelMessageCommand) MessageID() string { return c.messageID }
