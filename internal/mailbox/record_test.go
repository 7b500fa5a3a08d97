package mailbox

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDecodeMailboxMinimalRecord(t *testing.T) {
	data := []byte(`[{
		"from": "team-lead",
		"text": "CI failure detected",
		"timestamp": "2026-02-11T14:30:00Z",
		"read": false
	}]`)

	msgs, err := DecodeMailbox(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.From != "team-lead" || m.Text != "CI failure detected" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Read || m.Summary != "" || m.MessageID != "" || m.Extra != nil {
		t.Fatalf("unexpected optional fields: %+v", m)
	}
}

func TestDecodeMailboxEmptyContent(t *testing.T) {
	for _, data := range [][]byte{nil, []byte(""), []byte("  \n")} {
		msgs, err := DecodeMailbox(data)
		if err != nil {
			t.Fatalf("decode of empty content failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Fatalf("expected empty mailbox, got %d messages", len(msgs))
		}
	}
}

func TestDecodeMailboxMalformedContent(t *testing.T) {
	if _, err := DecodeMailbox([]byte(`{"not": "an array"`)); err == nil {
		t.Fatalf("expected decode error for malformed content")
	}
}

func TestMessageRoundTripPreservesUnknownFields(t *testing.T) {
	data := []byte(`{
		"from": "team-lead",
		"text": "hello",
		"timestamp": "2026-02-11T14:30:00Z",
		"read": false,
		"priority": "high",
		"futureFeature": {"nested": ["data", 1, true]}
	}`)

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(msg.Extra) != 2 {
		t.Fatalf("expected 2 unknown fields, got %d", len(msg.Extra))
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var reparsed map[string]json.RawMessage
	if err := json.Unmarshal(out, &reparsed); err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if !bytes.Equal(reparsed["priority"], []byte(`"high"`)) {
		t.Fatalf("priority not preserved: %s", reparsed["priority"])
	}
	var original map[string]json.RawMessage
	if err := json.Unmarshal(data, &original); err != nil {
		t.Fatalf("parse original: %v", err)
	}
	var got, want any
	if err := json.Unmarshal(reparsed["futureFeature"], &got); err != nil {
		t.Fatalf("parse round-tripped futureFeature: %v", err)
	}
	if err := json.Unmarshal(original["futureFeature"], &want); err != nil {
		t.Fatalf("parse original futureFeature: %v", err)
	}
	if gotJSON, wantJSON := mustJSON(t, got), mustJSON(t, want); gotJSON != wantJSON {
		t.Fatalf("futureFeature changed: got %s want %s", gotJSON, wantJSON)
	}
}

func TestMessageMarshalOmitsEmptyOptionals(t *testing.T) {
	out, err := json.Marshal(Message{
		From:      "a",
		Text:      "b",
		Timestamp: "2026-02-11T14:30:00Z",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if _, ok := fields["summary"]; ok {
		t.Fatalf("empty summary should be omitted: %s", out)
	}
	if _, ok := fields["message_id"]; ok {
		t.Fatalf("empty message_id should be omitted: %s", out)
	}
	if _, ok := fields["read"]; !ok {
		t.Fatalf("read must always be present: %s", out)
	}
}

func TestMessageMarshalExtraCannotShadowKnownFields(t *testing.T) {
	msg := Message{
		From:      "real-sender",
		Text:      "body",
		Timestamp: "2026-02-11T14:30:00Z",
		Extra: map[string]json.RawMessage{
			"from":  json.RawMessage(`"spoofed"`),
			"other": json.RawMessage(`1`),
		},
	}
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var reparsed Message
	if err := json.Unmarshal(out, &reparsed); err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if reparsed.From != "real-sender" {
		t.Fatalf("known field shadowed by Extra: %q", reparsed.From)
	}
	if string(reparsed.Extra["other"]) != "1" {
		t.Fatalf("extra field lost: %+v", reparsed.Extra)
	}
}

func TestSortMessagesOrdersByTimestampThenID(t *testing.T) {
	msgs := []Message{
		{Text: "c", Timestamp: "2026-02-11T11:00:00Z", MessageID: "id-3"},
		{Text: "b", Timestamp: "2026-02-11T10:00:00Z", MessageID: "id-2"},
		{Text: "a", Timestamp: "2026-02-11T10:00:00Z", MessageID: "id-1"},
	}
	sortMessages(msgs)
	if msgs[0].MessageID != "id-1" || msgs[1].MessageID != "id-2" || msgs[2].MessageID != "id-3" {
		t.Fatalf("unexpected order: %v %v %v", msgs[0].MessageID, msgs[1].MessageID, msgs[2].MessageID)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(out)
}
