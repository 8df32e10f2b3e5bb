package screen

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Rejection reasons returned by ValidateMessage. These are surfaced to the
// transport layer; security-class reasons never reach the client verbatim.
const (
	ReasonBlocked          = "client blocked"
	ReasonRateLimited      = "message rate exceeded"
	ReasonMissingType      = "missing type field"
	ReasonTypeNotAllowed   = "message type not allowed"
	ReasonTooLarge         = "message too large"
	ReasonMaliciousContent = "malicious content"
)

// maliciousSubstrings are matched case-insensitively against every string
// value in the message. Substring checks cover the common literal payloads;
// the regexes below catch the spaced/obfuscated variants.
var maliciousSubstrings = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"document.cookie",
	"document.write",
	"eval(",
	"expression(",
	"<iframe",
	"srcdoc=",
}

var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),   // inline event handlers
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)<\s*i?frame`),
}

// ValidateMessage screens one inbound message for a client. It returns
// whether the message is acceptable and, if not, a machine-readable reason.
// A malicious-payload hit also records an abuse signal; oversize or malformed
// messages do not.
func (s *Screen) ValidateMessage(clientID string, message map[string]any) (bool, string) {
	if s.IsBlocked(clientID) {
		return false, ReasonBlocked
	}

	rawType, ok := message["type"]
	if !ok {
		return false, ReasonMissingType
	}
	msgType, ok := rawType.(string)
	if !ok || msgType == "" {
		return false, ReasonMissingType
	}
	if !s.typeAllowed(msgType) {
		return false, ReasonTypeNotAllowed
	}

	serialized, err := json.Marshal(message)
	if err != nil {
		return false, ReasonMissingType
	}
	if len(serialized) > s.maxMessageBytes() {
		return false, ReasonTooLarge
	}

	if containsMaliciousContent(message) {
		s.RecordAbuse(clientID, AbuseMaliciousPayload)
		return false, ReasonMaliciousContent
	}
	return true, ""
}

func (s *Screen) typeAllowed(msgType string) bool {
	for _, allowed := range s.allowedTypes() {
		if msgType == allowed {
			return true
		}
	}
	return false
}

// containsMaliciousContent walks every string value in the message
// (recursing through nested maps and slices) and checks it against the
// injection/XSS signature set.
func containsMaliciousContent(value any) bool {
	switch v := value.(type) {
	case string:
		return matchesSignature(v)
	case map[string]any:
		for _, inner := range v {
			if containsMaliciousContent(inner) {
				return true
			}
		}
	case []any:
		for _, inner := range v {
			if containsMaliciousContent(inner) {
				return true
			}
		}
	}
	return false
}

func matchesSignature(s string) bool {
	lower := strings.ToLower(s)
	for _, sig := range maliciousSubstrings {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	for _, re := range maliciousPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
