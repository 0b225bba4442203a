package secrets

import (
	"context"
	"strings"
	"testing"
)

func TestProcessIncomingTextRedactsAPIKey(t *testing.T) {
	s := New()
	text := `my api_key: sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaa and nothing else`
	redacted, refs, err := s.ProcessIncomingText(context.Background(), text, "chan-1", "msg-1")
	if err != nil {
		t.Fatalf("process incoming text: %v", err)
	}
	if strings.Contains(redacted, "sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaa") {
		t.Fatalf("expected secret value to be redacted, got %q", redacted)
	}
	if len(refs) == 0 {
		t.Fatalf("expected at least one secret reference")
	}
	for _, r := range refs {
		if r.SourceMessageID != "msg-1" || r.ContextHint != "chan-1" {
			t.Fatalf("unexpected reference metadata: %+v", r)
		}
	}
}

func TestProcessIncomingTextNoSecretsIsPassthrough(t *testing.T) {
	s := New()
	redacted, refs, err := s.ProcessIncomingText(context.Background(), "just a normal message", "chan-1", "msg-2")
	if err != nil {
		t.Fatalf("process incoming text: %v", err)
	}
	if redacted != "just a normal message" {
		t.Fatalf("expected passthrough, got %q", redacted)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no references, got %v", refs)
	}
}

func TestListAllSecretsAccumulates(t *testing.T) {
	s := New()
	_, _, _ = s.ProcessIncomingText(context.Background(), "password: supersecret1", "chan-1", "msg-1")
	_, _, _ = s.ProcessIncomingText(context.Background(), "api_key=abcdefghijklmnop1234", "chan-1", "msg-2")

	all := s.ListAllSecrets(context.Background())
	if len(all) != 2 {
		t.Fatalf("expected 2 accumulated secrets, got %d", len(all))
	}
}

func TestProcessIncomingTextSameSecretSameUUID(t *testing.T) {
	s := New()
	_, refs1, _ := s.ProcessIncomingText(context.Background(), "password: supersecret1", "c", "m1")
	_, refs2, _ := s.ProcessIncomingText(context.Background(), "password: supersecret1", "c", "m2")
	if len(refs1) != 1 || len(refs2) != 1 {
		t.Fatalf("expected one reference per call, got %d and %d", len(refs1), len(refs2))
	}
	if refs1[0].UUID != refs2[0].UUID {
		t.Fatalf("expected the same secret to fingerprint to the same UUID")
	}
}

func TestFilterConfigVersion(t *testing.T) {
	s := New()
	if s.FilterConfigVersion() != filterConfigVersion {
		t.Fatalf("expected filter config version to match package constant")
	}
}
