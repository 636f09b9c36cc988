package message

import "context"

// Processor executes requests against the chat backend. Implementations own
// all network and persistence work.
type Processor interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req Request) (Result, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ModelOption is a selectable model.
type ModelOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ModelSelector reads and changes the model used for completions.
type ModelSelector interface {
	GetAvailableModels() []ModelOption
	GetCurrentModel() string
	SetModel(ctx context.Context, model string) error
	GetModelForRoom(ctx context.Context, roomID int64) (string, error)
}
