package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestThreadMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     ThreadMessage
		wantErr bool
	}{
		{"valid", ThreadMessage{Text: "hello", TokenCount: 11}, false},
		{"empty text", ThreadMessage{Text: ""}, true},
		{"too long", ThreadMessage{Text: strings.Repeat("a", MaxMessageChars+1)}, true},
		{"at limit", ThreadMessage{Text: strings.Repeat("a", MaxMessageChars)}, false},
		{"negative tokens", ThreadMessage{Text: "x", TokenCount: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestThreadContext_Helpers(t *testing.T) {
	ctx := &ThreadContext{
		ChannelID: "C1",
		ThreadTS:  "100.1",
		Messages: []ThreadMessage{
			{UserID: "U2", Text: "third", Timestamp: "3"},
			{UserID: "B1", Text: "second", Timestamp: "2", IsBot: true},
			{UserID: "U1", Text: "first", Timestamp: "1"},
			{UserID: "U2", Text: "zeroth", Timestamp: "0"},
		},
	}

	if got := ctx.ThreadID(); got != "C1:100.1" {
		t.Errorf("ThreadID() = %q, want %q", got, "C1:100.1")
	}

	chrono := ctx.Chronological()
	if chrono[0].Timestamp != "0" || chrono[3].Timestamp != "3" {
		t.Errorf("Chronological() order = %v", chrono)
	}
	if ctx.Messages[0].Timestamp != "3" {
		t.Error("Chronological() must not mutate the context")
	}

	participants := ctx.Participants()
	if len(participants) != 2 || participants[0] != "U2" || participants[1] != "U1" {
		t.Errorf("Participants() = %v, want [U2 U1]", participants)
	}

	var nilCtx *ThreadContext
	if nilCtx.ThreadID() != "" {
		t.Error("nil ThreadID() should be empty")
	}
}

func TestValue_Accessors(t *testing.T) {
	s := String("brief")
	if got, ok := s.AsString(); !ok || got != "brief" {
		t.Errorf("AsString() = %q, %v", got, ok)
	}
	if _, ok := s.AsInt(); ok {
		t.Error("string value should not convert to int")
	}

	i := Int(10)
	if got, ok := i.AsInt(); !ok || got != 10 {
		t.Errorf("AsInt() = %d, %v", got, ok)
	}
	if i.Text() != "10" {
		t.Errorf("Text() = %q, want 10", i.Text())
	}

	l := List("a", "b")
	items, ok := l.AsList()
	if !ok || len(items) != 2 {
		t.Fatalf("AsList() = %v, %v", items, ok)
	}
	items[0] = "mutated"
	again, _ := l.AsList()
	if again[0] != "a" {
		t.Error("AsList() should return a copy")
	}

	var zero Value
	if zero.IsValid() {
		t.Error("zero Value should be invalid")
	}
	if zero.Kind().String() != "invalid" {
		t.Errorf("zero kind = %s", zero.Kind())
	}
}

func TestParams_JSON(t *testing.T) {
	params := Params{
		"message_count": Int(10),
		"style":         String("brief"),
		"verbose":       Bool(true),
		"users":         List("alice"),
	}

	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Params
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.IntOr("message_count", 0) != 10 {
		t.Errorf("message_count = %d, want 10", decoded.IntOr("message_count", 0))
	}
	if decoded.StringOr("style", "") != "brief" {
		t.Errorf("style = %q", decoded.StringOr("style", ""))
	}
	if !decoded.BoolOr("verbose", false) {
		t.Error("verbose should be true")
	}

	var bad Params
	if err := json.Unmarshal([]byte(`{"x": 1.5}`), &bad); err == nil {
		t.Error("expected error for non-integral number")
	}
}

func TestParams_MergeAndKeys(t *testing.T) {
	base := Params{"limit": Int(10), "channel_id": String("C1")}
	merged := base.Merge(Params{"limit": Int(25)})

	if merged.IntOr("limit", 0) != 25 {
		t.Errorf("merged limit = %d, want 25", merged.IntOr("limit", 0))
	}
	if base.IntOr("limit", 0) != 10 {
		t.Error("Merge() must not mutate the receiver")
	}

	keys := merged.Keys()
	if len(keys) != 2 || keys[0] != "channel_id" || keys[1] != "limit" {
		t.Errorf("Keys() = %v", keys)
	}
	if merged.IntOr("missing", 7) != 7 {
		t.Error("IntOr() should return default for missing key")
	}
}

func TestToolResult_Normalize(t *testing.T) {
	failed := ToolResult{ToolName: "x"}.Normalize()
	if failed.Error != DefaultToolError {
		t.Errorf("Error = %q, want default", failed.Error)
	}

	ok := SuccessResult("x", "data", 0)
	if ok.Error != "" || !ok.Success {
		t.Errorf("SuccessResult() = %+v", ok)
	}

	explicit := FailureResult("x", "boom", 0)
	if explicit.Error != "boom" {
		t.Errorf("Error = %q, want boom", explicit.Error)
	}
}

func TestParseTS(t *testing.T) {
	got, err := ParseTS("1700000000.500000")
	if err != nil {
		t.Fatalf("ParseTS() error = %v", err)
	}
	if got.Unix() != 1700000000 {
		t.Errorf("Unix() = %d", got.Unix())
	}
	if FormatTS(got) != "1700000000.500000" {
		t.Errorf("FormatTS() = %q", FormatTS(got))
	}
	if _, err := ParseTS("x"); err == nil {
		t.Error("expected error for invalid ts")
	}
}
