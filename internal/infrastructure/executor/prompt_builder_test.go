package executor

import (
	"strings"
	"testing"
)

func TestBuildPrompt_ResumingReturnsLastUserMessage(t *testing.T) {
	history := []ChatMessage{
		{Role: "user", Content: "A"},
		{Role: "assistant", Content: "B"},
		{Role: "user", Content: "C"},
	}
	got, err := BuildPrompt(history, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "C" {
		t.Fatalf("expected %q, got %q", "C", got)
	}
}

func TestBuildPrompt_ResumingWithNoUserMessageFails(t *testing.T) {
	history := []ChatMessage{{Role: "assistant", Content: "B"}}
	_, err := BuildPrompt(history, true)
	if err != ErrNoUserMessage {
		t.Fatalf("expected ErrNoUserMessage, got %v", err)
	}
}

func TestBuildPrompt_NotResumingBuildsHistoryBlock(t *testing.T) {
	history := []ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "A"},
		{Role: "assistant", Content: "B"},
		{Role: "user", Content: "C"},
	}
	got, err := BuildPrompt(history, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"--- CONVERSATION HISTORY ---",
		"User: A",
		"Assistant: B",
		"--- END HISTORY ---",
		"Current query:",
		"C",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestBuildPrompt_NotResumingSingleMessageReturnsItVerbatim(t *testing.T) {
	history := []ChatMessage{{Role: "user", Content: "only"}}
	got, err := BuildPrompt(history, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "only" {
		t.Fatalf("expected %q, got %q", "only", got)
	}
}

func TestBuildPrompt_NotResumingEmptyHistoryReturnsEmpty(t *testing.T) {
	got, err := BuildPrompt(nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
