package toolpoison

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict values.
const (
	VerdictAllow = "ALLOW"
	VerdictDeny  = "DENY"
)

// Verdict is a parsed classifier decision.
type Verdict struct {
	Verdict    string
	Confidence float64
	Reason     string
}

// fencedJSON extracts a JSON list from a markdown code fence.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")

// classifierItem is one entry of the classifier's JSON reply.
type classifierItem struct {
	FunctionName string          `json:"function_name"`
	IsMalicious  json.RawMessage `json:"is_malicious"`
	Reason       string          `json:"reason"`
}

// ParseResponse interprets the raw classifier text. Structured JSON
// wins; when parsing fails, verdict keywords in the text decide, and a
// fully unrecognized reply degrades to a neutral ALLOW.
func ParseResponse(text string) Verdict {
	jsonStr := text
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		jsonStr = m[1]
	}

	if item, ok := parseItem(jsonStr); ok {
		if isTruthy(item.IsMalicious) {
			return Verdict{
				Verdict:    VerdictDeny,
				Confidence: calculateConfidence(item.Reason),
				Reason:     item.Reason,
			}
		}
		return Verdict{Verdict: VerdictAllow, Confidence: 10, Reason: item.Reason}
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "DENY") || strings.Contains(upper, `IS_MALICIOUS": 1`):
		return Verdict{Verdict: VerdictDeny, Confidence: 85, Reason: "Text-based detection (fallback)"}
	case strings.Contains(upper, "ALLOW") || strings.Contains(upper, `IS_MALICIOUS": 0`):
		return Verdict{Verdict: VerdictAllow, Confidence: 90}
	default:
		return Verdict{Verdict: VerdictAllow, Confidence: 50}
	}
}

// parseItem decodes either a JSON list (first entry wins) or a single
// object.
func parseItem(jsonStr string) (classifierItem, bool) {
	var list []classifierItem
	if err := json.Unmarshal([]byte(jsonStr), &list); err == nil {
		if len(list) == 0 {
			return classifierItem{}, false
		}
		return list[0], true
	}
	var item classifierItem
	if err := json.Unmarshal([]byte(jsonStr), &item); err == nil {
		return item, true
	}
	return classifierItem{}, false
}

// isTruthy accepts 1, true or "1" for is_malicious.
func isTruthy(raw json.RawMessage) bool {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return s == "1" || strings.EqualFold(s, "true")
}

// highRiskKeywords boost confidence when they appear in the
// classifier's reason.
var highRiskKeywords = []string{
	"data exfiltration", "exfiltration", "bypass", "override",
	"elevated privilege", "admin mode", "ignore above", "ignore all",
	"secret_mode", "hidden", "do not notify", "webhook", "attacker",
	"password", "api key", "session token", "rm -rf", "shell command",
}

// calculateConfidence scores a DENY verdict from the reason text:
// base 60, plus length tiers, plus high-risk keyword tiers, capped at
// 100. An empty reason stays at the base.
func calculateConfidence(reason string) float64 {
	if reason == "" {
		return 60
	}

	confidence := 60.0

	switch {
	case len(reason) > 200:
		confidence += 15
	case len(reason) > 100:
		confidence += 10
	case len(reason) > 50:
		confidence += 5
	}

	lower := strings.ToLower(reason)
	count := 0
	for _, kw := range highRiskKeywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	switch {
	case count >= 4:
		confidence += 20
	case count >= 3:
		confidence += 15
	case count >= 2:
		confidence += 10
	case count >= 1:
		confidence += 5
	}

	if confidence > 100 {
		confidence = 100
	}
	return confidence
}
