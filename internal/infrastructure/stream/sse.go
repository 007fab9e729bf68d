package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Flusher is the minimal interface an HTTP response writer must satisfy to
// push SSE frames immediately, matching gin.ResponseWriter's Flush method.
type Flusher interface {
	io.Writer
	Flush()
}

// WriteSSE serializes items as `data: <json>\n\n` frames, flushing after
// each one, and always terminates with a literal `data: [DONE]\n\n` — on the
// success path and the error path alike, so a disconnected or erroring
// stream never leaves the client hanging.
func WriteSSE(w Flusher, items []Item) error {
	defer func() {
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush()
	}()

	for _, item := range items {
		var payload interface{}
		switch {
		case item.Chunk != nil:
			payload = item.Chunk
		case item.Error != nil:
			payload = item.Error
		default:
			continue
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
			return err
		}
		w.Flush()
	}
	return nil
}
