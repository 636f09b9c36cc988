package command

import (
	"context"
	"fmt"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/message"
)

// ChangeModelCommand switches the active model and remembers the previous one.
type ChangeModelCommand struct {
	*lifecycle
	selector message.ModelSelector
	newModel string
	previous string
}

func NewChangeModelCommand(selector message.ModelSelector, newModel string) (*ChangeModelCommand, error) {
	if isNil(selector) {
		return nil, apperr.Validation("Model selector is required")
	}
	return &ChangeModelCommand{
		lifecycle: newLifecycle(),
		selector:  selector,
		newModel:  newModel,
	}, nil
}

func (c *ChangeModelCommand) Execute(ctx context.Context) (message.Result, error) {
	return c.runExecute(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		c.previous = c.selector.GetCurrentModel()
		if err := c.selector.SetModel(ctx, c.newModel); err != nil {
			return message.Result{}, err
		}
		return message.Result{Success: true}, nil
	})
}

func (c *ChangeModelCommand) Undo(ctx context.Context) (message.Result, error) {
	return c.runUndo(ctx, c.Description(), func(ctx context.Context) (message.Result, error) {
		if err := c.selector.SetModel(ctx, c.previous); err != nil {
			return message.Result{}, err
		}
		return message.Result{Success: true}, nil
	})
}

func (c *ChangeModelCommand) Description() string {
	return fmt.Sprintf("Change model to %s", c.newModel)
}

// PreviousModel returns the model active before the last execution.
func (c *ChangeModelCommand) PreviousModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}
