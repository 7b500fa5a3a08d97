package mailbox

import "testing"

func TestValidateMailboxAcceptsForeignFields(t *testing.T) {
	data := []byte(`[
  {
    "from": "team-lead",
    "text": "ship it",
    "timestamp": "2026-08-27T10:00:00Z",
    "read": false,
    "priority": "high",
    "thread": {"id": 7}
  }
]`)
	if err := ValidateMailbox(data); err != nil {
		t.Fatalf("foreign fields must validate: %v", err)
	}
}

func TestValidateMailboxRejectsMissingRequiredField(t *testing.T) {
	data := []byte(`[{"from": "team-lead", "text": "no timestamp", "read": false}]`)
	if err := ValidateMailbox(data); err == nil {
		t.Fatal("expected validation failure for missing timestamp")
	}
}

func TestValidateMailboxRejectsNonArray(t *testing.T) {
	data := []byte(`{"from": "team-lead"}`)
	if err := ValidateMailbox(data); err == nil {
		t.Fatal("expected validation failure for non-array document")
	}
}

func TestValidateSpoolEntryRoundTrip(t *testing.T) {
	data := []byte(`{
  "targetTeam": "dev",
  "targetAgent": "builder",
  "message": {"from": "team-lead", "text": "hi", "timestamp": "2026-08-27T10:00:00Z", "read": false},
  "retryCount": 3,
  "maxRetries": 10,
  "createdAt": "2026-08-27T10:00:00Z",
  "lastAttempt": "2026-08-27T10:05:00Z"
}`)
	if err := ValidateSpoolEntry(data); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}
}

func TestValidateSpoolEntryRejectsUnknownField(t *testing.T) {
	data := []byte(`{
  "targetTeam": "dev",
  "targetAgent": "builder",
  "message": {},
  "retryCount": 0,
  "maxRetries": 10,
  "createdAt": "2026-08-27T10:00:00Z",
  "lastAttempt": "2026-08-27T10:05:00Z",
  "smuggled": true
}`)
	if err := ValidateSpoolEntry(data); err == nil {
		t.Fatal("expected validation failure for unknown field")
	}
}

func TestValidateMailboxRejectsGarbage(t *testing.T) {
	if err := ValidateMailbox([]byte("not json")); err == nil {
		t.Fatal("expected decode failure")
	}
}
