package mailbox

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Message is one record in a mailbox file. Known fields are typed; anything
// else found on the wire is carried verbatim in Extra so that fields written
// by other tools survive a read-modify-write cycle through this engine.
type Message struct {
	From      string
	Text      string
	Timestamp string
	Read      bool
	Summary   string
	MessageID string
	Extra     map[string]json.RawMessage
}

type messageKnown struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read"`
	Summary   string `json:"summary,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

var knownMessageFields = map[string]bool{
	"from":       true,
	"text":       true,
	"timestamp":  true,
	"read":       true,
	"summary":    true,
	"message_id": true,
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var known messageKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for name := range fields {
		if knownMessageFields[name] {
			delete(fields, name)
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	*m = Message{
		From:      known.From,
		Text:      known.Text,
		Timestamp: known.Timestamp,
		Read:      known.Read,
		Summary:   known.Summary,
		MessageID: known.MessageID,
		Extra:     fields,
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(messageKnown{
		From:      m.From,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		Read:      m.Read,
		Summary:   m.Summary,
		MessageID: m.MessageID,
	})
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for name, value := range m.Extra {
		if knownMessageFields[name] {
			continue
		}
		fields[name] = value
	}
	return json.Marshal(fields)
}

// signature identifies a message that has no message_id. It is only used as a
// dedup fallback during conflict merges, where a weaker identity beats
// duplicating the record.
func (m Message) signature() string {
	return m.From + "\x00" + m.Text + "\x00" + m.Timestamp
}

// DecodeMailbox parses a mailbox file into its records. Empty content decodes
// to an empty mailbox; anything else must be a JSON array of records.
func DecodeMailbox(data []byte) ([]Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// EncodeMailbox serializes records in the indented form other tools expect to
// find on disk.
func EncodeMailbox(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.MarshalIndent(msgs, "", "  ")
}

// sortMessages orders records chronologically, breaking timestamp ties on
// message_id so merged mailboxes come out identical regardless of which
// writer performed the merge.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
}
