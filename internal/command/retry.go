package command

import (
	"context"
	"fmt"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/message"
)

// RetryMessageCommand re-runs a message and counts how often it did so.
type RetryMessageCommand struct {
	*lifecycle
	processor  message.Processor
	messageID  string
	retryCount int
}

func NewRetryMessageCommand(processor message.Processor, messageID string) (*RetryMessageCommand, error) {
	if isNil(processor) {
		return nil, apperr.Validation("Message processor is required")
	}
	return &RetryMessageCommand{
		lifecycle: newLifecycle(),
		processor: processor,
		messageID: messageID,
	}, nil
}

func (c *RetryMessageCommand) Execute(ctx context.Context) (message.Result, error) {
	return c.runExecute(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		res, err := c.processor.Process(ctx, message.RetryRequest{MessageID: c.messageID})
		if err != nil {
			return res, err
		}
		c.retryCount++
		return res, nil
	})
}

func (c *RetryMessageCommand) Undo(ctx context.Context) (message.Result, error) {
	return c.runUndo(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		res, err := c.processor.Process(ctx, message.CancelRequest{MessageID: c.messageID})
		if err != nil {
			return res, err
		}
		if c.retryCount > 0 {
			c.retryCount--
		}
		return res, nil
	})
}

func (c *RetryMessageCommand) Description() string {
	return fmt.Sprintf("Retry message %s", c.messageID)
}

// RetryCount returns the number of retries currently in effect.
func (c *RetryMessageCommand) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// MessageID returns the targeted message.
func (c *RetryMessageCommand) MessageID() string { return c.messageID }
