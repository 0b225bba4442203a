// Package secrets implements the secrets-filter capability of spec section
// 6: process_incoming_text redacts detected secrets out of observer-ingested
// text before it ever reaches a Task/Thought or an LLM prompt.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// SecretReference is a redacted secret's metadata: never the secret value
// itself, only enough to recall that something was found at a location.
type SecretReference struct {
	UUID           string
	Pattern        string
	SourceMessageID string
	ContextHint    string
	DetectedAt     time.Time
}

type secretPattern struct {
	re   *regexp.Regexp
	name string
}

// Reused from the teacher's prompt/output leak-detection vocabulary
// (internal/safety.LeakDetector), widened here to cover inbound chat text
// rather than only tool output.
var patterns = []secretPattern{
	{re: regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`), name: "api_key"},
	{re: regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), name: "bearer_token"},
	{re: regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), name: "google_api_key"},
	{re: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), name: "openai_api_key"},
	{re: regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+(RSA\s+)?PRIVATE\s+KEY-----`), name: "private_key"},
	{re: regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`), name: "password"},
	{re: regexp.MustCompile(`\b\d{13,19}\b`), name: "card_number_like"},
}

// FilterConfigVersion is bumped whenever the pattern set changes; exposed
// via FilterConfigVersion() so a caller can tell whether previously-issued
// SecretReferences were produced under an older rule set.
const filterConfigVersion = 1

// Service implements process_incoming_text/list_all_secrets (spec section
// 6). Detected secrets are tracked in memory only, keyed by UUID, never
// persisted in cleartext.
type Service struct {
	mu      sync.Mutex
	secrets map[string]SecretReference
}

// New builds an empty secrets Service.
func New() *Service {
	return &Service{secrets: make(map[string]SecretReference)}
}

// ProcessIncomingText scans text for secret-shaped substrings, replaces each
// with a stable placeholder referencing a SecretReference, and records the
// reference (not the secret value) for later lookup.
func (s *Service) ProcessIncomingText(ctx context.Context, text, contextHint, sourceMessageID string) (string, []SecretReference, error) {
	if text == "" {
		return text, nil, nil
	}

	var refs []SecretReference
	redacted := text
	for _, pat := range patterns {
		redacted = pat.re.ReplaceAllStringFunc(redacted, func(match string) string {
			ref := SecretReference{
				UUID:            fingerprint(match),
				Pattern:         pat.name,
				SourceMessageID: sourceMessageID,
				ContextHint:     contextHint,
				DetectedAt:      time.Now().UTC(),
			}
			s.mu.Lock()
			s.secrets[ref.UUID] = ref
			s.mu.Unlock()
			refs = append(refs, ref)
			return fmt.Sprintf("{SECRET:%s:%s}", pat.name, ref.UUID[:8])
		})
	}
	return redacted, refs, nil
}

// ListAllSecrets returns every SecretReference detected so far.
func (s *Service) ListAllSecrets(ctx context.Context) []SecretReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SecretReference, 0, len(s.secrets))
	for _, ref := range s.secrets {
		out = append(out, ref)
	}
	return out
}

// FilterConfigVersion reports the active detection rule-set version.
func (s *Service) FilterConfigVersion() int {
	return filterConfigVersion
}

// fingerprint derives a stable, non-reversible UUID-shaped id for a secret
// value so the same secret always maps to the same reference without ever
// storing the value itself.
func fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	h := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
