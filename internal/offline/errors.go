package offline

import "github.com/tphakala/webaudio-go/internal/errors"

const componentOffline = "offline"

var (
	// ErrClosed is returned when subscribing on a closed controller
	ErrClosed = errors.New(errors.NewStd("offline context is closed")).
			Component(componentOffline).
			Category(errors.CategoryState).
			Build()

	// ErrEventTargetBound is returned by a second BindEventTarget
	ErrEventTargetBound = errors.New(errors.NewStd("event target already bound")).
				Component(componentOffline).
				Category(errors.CategoryState).
				Build()

	// ErrBufferTooLarge is returned when a render result exceeds the marshalling limit
	ErrBufferTooLarge = errors.New(errors.NewStd("rendered buffer exceeds host buffer limit")).
				Component(componentOffline).
				Category(errors.CategoryMarshalling).
				Build()

	// ErrNoBuffer is returned when the engine produced no buffer
	ErrNoBuffer = errors.New(errors.NewStd("engine returned no buffer")).
			Component(componentOffline).
			Category(errors.CategoryMarshalling).
			Build()

	// ErrChannelIndex is returned for an out of range channel index
	ErrChannelIndex = errors.New(errors.NewStd("channel index out of range")).
			Component(componentOffline).
			Category(errors.CategoryValidation).
			Build()
)
