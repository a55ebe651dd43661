// Package events defines the notifications an offline rendering engine emits
// and the dispatcher that fans them out to subscribers.
package events

import (
	"fmt"
	"time"
)

// Type identifies the kind of engine notification
type Type string

const (
	// TypeStateChange is emitted whenever the rendering state changes
	TypeStateChange Type = "statechange"
	// TypeComplete is emitted once, after the last quantum was rendered
	TypeComplete Type = "complete"
)

// RenderState is the engine-side rendering state carried by state-change events
type RenderState string

const (
	RenderStateSuspended RenderState = "suspended"
	RenderStateRunning   RenderState = "running"
	RenderStateClosed    RenderState = "closed"
)

// Event is a single engine notification
type Event struct {
	Type      Type
	State     RenderState // set for TypeStateChange
	Frame     int         // rendering position in sample frames
	Time      float64     // rendering position in seconds
	Timestamp time.Time   // wall clock time the engine emitted the event
}

// String returns a compact description used in logs
func (e Event) String() string {
	if e.Type == TypeStateChange {
		return fmt.Sprintf("%s(%s)@%d", e.Type, e.State, e.Frame)
	}
	return fmt.Sprintf("%s@%d", e.Type, e.Frame)
}

// StateChange builds a state-change event
func StateChange(state RenderState, frame int, sampleRate float32) Event {
	return Event{
		Type:      TypeStateChange,
		State:     state,
		Frame:     frame,
		Time:      framesToSeconds(frame, sampleRate),
		Timestamp: time.Now(),
	}
}

// Complete builds a completion event
func Complete(frame int, sampleRate float32) Event {
	return Event{
		Type:      TypeComplete,
		Frame:     frame,
		Time:      framesToSeconds(frame, sampleRate),
		Timestamp: time.Now(),
	}
}

func framesToSeconds(frame int, sampleRate float32) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(frame) / float64(sampleRate)
}
