package engine

import (
	"time"

	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// Severity is the risk level of a detection result.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Finding categories, ordered by weight. Categories rank evidence
// inside one result; the result severity is derived from the highest
// category present.
const (
	CategoryCritical = "critical"
	CategoryHigh     = "high"
	CategoryMedium   = "medium"
	CategoryLow      = "low"
)

// FindingOrigin records where previously harvested evidence came from.
// Used by correlating engines to annotate a match with its source.
type FindingOrigin struct {
	Source    string `json:"source"`
	McpTag    string `json:"mcpTag,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Context   string `json:"context,omitempty"`
}

// Finding is one piece of evidence inside a result.
type Finding struct {
	Category    string `json:"category"`
	Type        string `json:"type,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	MatchedText string `json:"matched_text,omitempty"`
	Reason      string `json:"reason"`

	// Engine-specific annotations.
	ToolName string         `json:"tool_name,omitempty"`
	Field    string         `json:"field,omitempty"`
	Target   string         `json:"exfiltration_target,omitempty"`
	Origin   *FindingOrigin `json:"origin,omitempty"`
}

// Payload is the detector-facing half of a result envelope.
type Payload struct {
	Detector   string    `json:"detector"`
	Severity   Severity  `json:"severity"`
	Evaluation int       `json:"evaluation"`
	Findings   []Finding `json:"findings"`
	EventType  string    `json:"event_type"`
	Producer   string    `json:"producer"`
	McpServer  string    `json:"mcp_server,omitempty"`

	// Optional detector annotations.
	AnalysisText  string  `json:"analysis_text,omitempty"`
	ToolName      string  `json:"tool_name,omitempty"`
	Verdict       string  `json:"verdict,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	Detail        string  `json:"detail,omitempty"`
	DetectionTime string  `json:"detection_time,omitempty"`
	TrackedEmails int     `json:"tracked_emails_count,omitempty"`

	OriginalEvent *events.Event `json:"original_event"`
}

// Result is the envelope an engine emits for one event. Every result
// references at least one event id and carries severity != none.
type Result struct {
	Reference []string `json:"reference"`
	Result    Payload  `json:"result"`
}

// NewResult builds a result envelope for the given event.
func NewResult(detector string, ev *events.Event, severity Severity, evaluation int, findings []Finding) *Result {
	producer := ev.Producer
	if producer == "" {
		producer = events.ProducerUnknown
	}
	return &Result{
		Reference: []string{ev.Reference()},
		Result: Payload{
			Detector:      detector,
			Severity:      severity,
			Evaluation:    evaluation,
			Findings:      findings,
			EventType:     ev.EventType,
			Producer:      producer,
			McpServer:     ev.ResolvedMcpTag(),
			DetectionTime: time.Now().Format(time.RFC3339),
			OriginalEvent: ev,
		},
	}
}

// baseScores maps result severity to the evaluation floor shared by
// the pattern-matching engines.
var baseScores = map[Severity]int{
	SeverityHigh:   85,
	SeverityMedium: 50,
	SeverityLow:    25,
	SeverityNone:   0,
}

// Score computes the evaluation for a pattern-matching result:
// base[severity] + min(3*findings, 15), clamped to 100.
func Score(severity Severity, findingsCount int) int {
	base := baseScores[severity]
	bonus := 3 * findingsCount
	if bonus > 15 {
		bonus = 15
	}
	total := base + bonus
	if total > 100 {
		total = 100
	}
	return total
}

// categoryRank orders finding categories for severity derivation.
var categoryRank = map[string]int{
	CategoryCritical: 4,
	CategoryHigh:     3,
	CategoryMedium:   2,
	CategoryLow:      1,
}

// SeverityFromFindings derives the result severity from the highest
// finding category present. Critical and high findings both yield a
// high result; the result severity domain stops at high.
func SeverityFromFindings(findings []Finding) Severity {
	maxRank := 0
	for _, f := range findings {
		if r := categoryRank[f.Category]; r > maxRank {
			maxRank = r
		}
	}
	switch {
	case maxRank >= 3:
		return SeverityHigh
	case maxRank == 2:
		return SeverityMedium
	case maxRank == 1:
		return SeverityLow
	default:
		return SeverityNone
	}
}
