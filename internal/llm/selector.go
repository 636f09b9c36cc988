package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/comigor/chatcore/internal/message"
)

// ErrUnknownModel is returned by SetModel for a model that is not configured.
var ErrUnknownModel = errors.New("unknown model")

// RoomModels looks up per-room model overrides.
type RoomModels interface {
	RoomModel(ctx context.Context, roomID int64) (string, bool, error)
}

// Selector is a message.ModelSelector over a fixed list of models.
type Selector struct {
	mu      sync.RWMutex
	models  []message.ModelOption
	current string
	rooms   RoomModels
}

// NewSelector returns a selector starting at current. rooms may be nil.
func NewSelector(models []message.ModelOption, current string, rooms RoomModels) *Selector {
	if current == "" && len(models) > 0 {
		current = models[0].Value
	}
	return &Selector{
		models:  slices.Clone(models),
		current: current,
		rooms:   rooms,
	}
}

func (s *Selector) GetAvailableModels() []message.ModelOption {
	return slices.Clone(s.models)
}

func (s *Selector) GetCurrentModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetModel switches the current model. Only configured models are accepted.
func (s *Selector) SetModel(ctx context.Context, model string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	known := slices.ContainsFunc(s.models, func(m message.ModelOption) bool { return m.Value == model })
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	s.mu.Lock()
	s.current = model
	s.mu.Unlock()
	return nil
}

// GetModelForRoom returns the room's override, or the current model.
func (s *Selector) GetModelForRoom(ctx context.Context, roomID int64) (string, error) {
	if s.rooms != nil {
		model, ok, err := s.rooms.RoomModel(ctx, roomID)
		if err != nil {
			return "", err
		}
		if ok {
			return model, nil
		}
	}
	return s.GetCurrentModel(), nil
}
