package llm

import (
	"testing"
)

func TestParseBareObject(t *testing.T) {
	resp, err := ParseAgentResponse(`{"command": "ls -la", "reason": "inspect"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Command == nil || *resp.Command != "ls -la" {
		t.Fatalf("expected command, got %+v", resp)
	}
}

func TestParseFencedObject(t *testing.T) {
	text := "Here is my decision:\n```json\n{\"done\": true, \"summary\": \"finished\"}\n```\n"
	resp, err := ParseAgentResponse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !resp.IsDone() {
		t.Fatalf("expected done, got %+v", resp)
	}
	if resp.Summary == nil || *resp.Summary != "finished" {
		t.Fatalf("expected summary, got %+v", resp)
	}
}

func TestParseBracesInsideStrings(t *testing.T) {
	text := `{"command": "awk '{print $1}' file.txt", "reason": "first column"}`
	resp, err := ParseAgentResponse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Command == nil || *resp.Command != "awk '{print $1}' file.txt" {
		t.Fatalf("expected command with braces, got %+v", resp)
	}
}

func TestParseEscapedQuotes(t *testing.T) {
	text := `{"command": "echo \"hello}\"", "done": false}`
	resp, err := ParseAgentResponse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Command == nil || *resp.Command != `echo "hello}"` {
		t.Fatalf("expected escaped command, got %+v", resp)
	}
}

func TestParseNestedObject(t *testing.T) {
	text := `{"tool": "write_file", "tool_args": {"path": "/tmp/a", "content": "x"}}`
	resp, err := ParseAgentResponse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Tool == nil || *resp.Tool != "write_file" {
		t.Fatalf("expected tool, got %+v", resp)
	}
	if path, _ := resp.ToolArgs["path"].(string); path != "/tmp/a" {
		t.Fatalf("expected tool args, got %+v", resp.ToolArgs)
	}
}

func TestParsePlainProseFails(t *testing.T) {
	if _, err := ParseAgentResponse("I cannot help with that."); err != ErrNoJSON {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestParseUnbalancedFails(t *testing.T) {
	if _, err := ParseAgentResponse(`{"command": "ls"`); err != ErrNoJSON {
		t.Fatalf("expected ErrNoJSON for truncated object, got %v", err)
	}
}

func TestParseInvalidJSONFails(t *testing.T) {
	if _, err := ParseAgentResponse(`{command: ls}`); err == nil {
		t.Fatalf("expected decode error")
	}
}
