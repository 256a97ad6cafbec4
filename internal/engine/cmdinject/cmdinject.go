// Package cmdinject implements the command-injection detection engine,
// a static pattern matcher over MCP tool-call payloads.
package cmdinject

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

type patternDef struct {
	re       *regexp.Regexp
	category string
	reason   string
}

// Critical: shell metacharacter sequences chaining destructive
// commands.
var criticalPatterns = []patternDef{
	{regexp.MustCompile(`\brm\s+-rf?\b`), engine.CategoryCritical, "recursive force delete"},
	{regexp.MustCompile(`;\s*rm\b`), engine.CategoryCritical, "command chaining into rm"},
	{regexp.MustCompile(`\|\s*rm\b`), engine.CategoryCritical, "pipe into rm"},
	{regexp.MustCompile(`&&\s*rm\b`), engine.CategoryCritical, "conditional chaining into rm"},
	{regexp.MustCompile(`\beval\s*\(`), engine.CategoryCritical, "eval of dynamic code"},
	{regexp.MustCompile("`[^`]*(?:curl|wget|sh)[^`]*`"), engine.CategoryCritical, "backtick substitution running a downloader or shell"},
}

// High: chaining combined with network tools or substitutions.
var highPatterns = []patternDef{
	{regexp.MustCompile(`;\s*(?:wget|curl)\b`), engine.CategoryHigh, "command chaining into a network tool"},
	{regexp.MustCompile(`&&\s*(?:bash|sh|wget|curl)\b`), engine.CategoryHigh, "conditional chaining into a shell or network tool"},
	{regexp.MustCompile(`\|\s*(?:curl|wget|bash|sh)\b`), engine.CategoryHigh, "pipe into a shell or network tool"},
	{regexp.MustCompile(`\$\([^)]*\)`), engine.CategoryHigh, "command substitution"},
	{regexp.MustCompile("`[^`]+`"), engine.CategoryHigh, "backtick expansion"},
}

// Medium: direct shell interpreter invocation and suspicious flags.
var mediumPatterns = []patternDef{
	{regexp.MustCompile(`(?i)\bcmd(?:\.exe)?\s*/c\b`), engine.CategoryMedium, "Windows shell interpreter invocation"},
	{regexp.MustCompile(`(?i)\b(?:bash|sh|zsh)\s+-c\b`), engine.CategoryMedium, "shell interpreter with inline command"},
	{regexp.MustCompile(`(?i)\bpowershell\b`), engine.CategoryMedium, "PowerShell invocation"},
	{regexp.MustCompile(`(?i)\bping\s+-[tn]\b`), engine.CategoryMedium, "unbounded or repeated ping"},
}

// Dangerous binaries flagged even without metacharacters.
var dangerousCommandPattern = regexp.MustCompile(`(?i)\b(rm|del|rmdir|wget|curl|nc|ncat|netcat|chmod|chown|mkfs|dd|shutdown|reboot)\b`)

// Engine detects command-injection attempts in MCP traffic.
type Engine struct {
	engine.Base
}

// New constructs the command-injection engine.
func New(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		Base: engine.NewBase(
			config.EngineCommandInjection,
			[]string{events.TypeMCP},
			[]string{events.ProducerLocal, events.ProducerRemote},
			logger,
		),
	}
}

// Process scans the event's task, method and parameters for injection
// patterns. Safe payloads yield no result.
func (e *Engine) Process(_ context.Context, ev *events.Event) (*engine.Result, error) {
	text := analysisText(ev)
	if text == "" {
		return nil, nil
	}

	findings := scan(text)
	if len(findings) == 0 {
		return nil, nil
	}

	severity := engine.SeverityFromFindings(findings)
	score := engine.Score(severity, len(findings))

	res := engine.NewResult("CommandInjection", ev, severity, score, findings)
	res.Result.AnalysisText = text
	return res, nil
}

// scan applies all pattern tiers to the analysis text.
func scan(text string) []engine.Finding {
	var findings []engine.Finding

	tiers := [][]patternDef{criticalPatterns, highPatterns, mediumPatterns}
	for _, tier := range tiers {
		for _, p := range tier {
			if match := p.re.FindString(text); match != "" {
				findings = append(findings, engine.Finding{
					Category:    p.category,
					Pattern:     p.re.String(),
					MatchedText: strings.TrimSpace(match),
					Reason:      p.reason,
				})
			}
		}
	}

	// Bare dangerous binaries rank medium unless a higher tier already
	// fired on the same text.
	for _, match := range dangerousCommandPattern.FindAllString(text, -1) {
		findings = append(findings, engine.Finding{
			Category:    engine.CategoryMedium,
			Type:        "dangerous_command",
			Pattern:     dangerousCommandPattern.String(),
			MatchedText: match,
			Reason:      "invocation of a dangerous binary",
		})
	}

	return findings
}

// analysisText concatenates data.task, message.method and the
// JSON-serialized params into one string for scanning.
func analysisText(ev *events.Event) string {
	var parts []string
	if task := ev.Task(); task != "" {
		parts = append(parts, task)
	}
	if method := ev.Method(); method != "" {
		parts = append(parts, method)
	}
	if params := ev.Params(); params != nil {
		if data, err := json.Marshal(params); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, " ")
}
