package stream

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildSequence_SlicesIntoFixedSizeChunks(t *testing.T) {
	content := strings.Repeat("a", 45) // 3 chunks: 20, 20, 5
	items := BuildSequence("id1", "model", content, "sess-1", 1000, nil)

	// 2 full chunks + 1 partial + 1 final = 4
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	for i := 0; i < 3; i++ {
		if items[i].Chunk.Choices[0].FinishReason != nil {
			t.Fatalf("expected nil finish_reason for content chunk %d", i)
		}
	}
	final := items[3].Chunk
	if final.Choices[0].FinishReason == nil || *final.Choices[0].FinishReason != "stop" {
		t.Fatal("expected final chunk finish_reason=stop")
	}
	if final.SessionID != "sess-1" {
		t.Fatalf("expected session id on final chunk, got %q", final.SessionID)
	}
	if final.Choices[0].Delta.Content != "" {
		t.Fatal("expected empty delta on final chunk")
	}
}

func TestBuildSequence_NeverSplitsAMultiByteRune(t *testing.T) {
	content := strings.Repeat("世", 25) // 75 bytes, 25 runes: chunks of 20+5 runes
	items := BuildSequence("id1", "model", content, "", 1000, nil)

	if len(items) != 3 { // 2 content chunks + final
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, r := range []int{0, 1} {
		text := items[r].Chunk.Choices[0].Delta.Content
		if !utf8.ValidString(text) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, text)
		}
	}
	if got := items[0].Chunk.Choices[0].Delta.Content; len([]rune(got)) != ChunkSize {
		t.Fatalf("expected first chunk to hold %d runes, got %d", ChunkSize, len([]rune(got)))
	}
}

func TestBuildSequence_ErrorShortCircuits(t *testing.T) {
	errEvt := &ErrorEvent{Error: ErrorBody{Message: "boom", Type: "server_error"}}
	items := BuildSequence("id1", "model", "ignored", "", 0, errEvt)
	if len(items) != 1 || items[0].Error == nil {
		t.Fatalf("expected single error item, got %+v", items)
	}
}

type bufFlusher struct {
	bytes.Buffer
	flushes int
}

func (b *bufFlusher) Flush() { b.flushes++ }

func TestWriteSSE_AlwaysEmitsDoneSentinel(t *testing.T) {
	buf := &bufFlusher{}
	items := BuildSequence("id1", "model", "hi", "sess-1", 1000, nil)
	if err := WriteSSE(buf, items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "data: [DONE]\n\n") {
		t.Fatalf("expected trailing DONE sentinel, got:\n%s", buf.String())
	}
}

func TestWriteSSE_ErrorPathStillEmitsDone(t *testing.T) {
	buf := &bufFlusher{}
	errEvt := &ErrorEvent{Error: ErrorBody{Message: "boom", Type: "server_error"}}
	items := BuildSequence("id1", "model", "", "", 0, errEvt)
	if err := WriteSSE(buf, items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"boom"`) {
		t.Fatalf("expected error payload in output, got %s", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Fatalf("expected trailing DONE sentinel, got:\n%s", out)
	}
}
