// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import "fmt"

// EventType represents the type of event in the text stream
type EventType int

const (
	// EventTypeText represents a text chunk event
	EventTypeText EventType = iota
	// EventTypeEnd represents the end of the stream
	EventTypeEnd
	// EventTypeError represents an error event
	EventTypeError
	// EventTypeToolCalls represents a tool call event
	EventTypeToolCalls
)

// TextStreamEvent represents an event in the text stream
type TextStreamEvent struct {
	Type  EventType
	Value any
}

// TextStreamResult represents a stream of text events
type TextStreamResult struct {
	Stream <-chan TextStreamEvent
}

func NewStreamFromString(text string) *TextStreamResult {
	stream := make(chan TextStreamEvent)

	go func() {
		stream <- TextStreamEvent{
			Type:  EventTypeText,
			Value: text,
		}
		stream <- TextStreamEvent{
			Type: EventTypeEnd,
		}
		close(stream)
	}()

	return &TextStreamResult{
		Stream: stream,
	}
}

// ReadAll drains the stream and returns the concatenated text. Streams that
// end in a tool call event cannot be flattened to text and return an error.
func (t *TextStreamResult) ReadAll() (string, error) {
	var result string
	for event := range t.Stream {
		switch event.Type {
		case EventTypeText:
			if textChunk, ok := event.Value.(string); ok {
				result += textChunk
			}
		case EventTypeError:
			if err, ok := event.Value.(error); ok {
				return "", err
			}
		case EventTypeEnd:
			break
		case EventTypeToolCalls:
			return result, fmt.Errorf("tool calls are not supported for read all")
		}
	}

	return result, nil
}
