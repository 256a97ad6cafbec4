// Package exfil implements the zero-click data-exfiltration detection
// engine. It correlates email addresses harvested from tool responses
// with later outbound email tool calls: a recipient the user never
// typed, but a tool response planted, is treated as an exfiltration
// channel.
package exfil

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// emailPattern matches RFC-ish addresses with at least a two-letter TLD.
var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// emailToolKeywords mark a tool slug as email-sending.
var emailToolKeywords = []string{"send_email", "gmail_send_email"}

// recipientFields are the argument keys checked for recipients.
var recipientFields = []string{"to", "cc", "bcc", "recipient_email"}

// contextWindow is the number of characters captured around a
// harvested address.
const contextWindow = 50

// Engine is the zero-click exfiltration detector.
type Engine struct {
	engine.Base
	registry *Registry
}

// New constructs the engine with a bounded address registry.
func New(registryCapacity int, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		Base: engine.NewBase(
			config.EngineDataExfiltration,
			[]string{events.TypeMCP},
			[]string{events.ProducerLocal, events.ProducerRemote},
			logger,
		),
		registry: NewRegistry(registryCapacity),
	}
}

// Registry exposes the tracked-address registry, mainly for the status
// endpoint.
func (e *Engine) Registry() *Registry { return e.registry }

// Process runs the two-phase correlation. Incoming results only feed
// the registry and never produce a detection by themselves; outgoing
// tools/call events are checked against it.
func (e *Engine) Process(_ context.Context, ev *events.Event) (*engine.Result, error) {
	task := ev.Task()

	if task == events.TaskRecv && ev.Result() != nil {
		e.harvest(ev)
		return nil, nil
	}

	if task == events.TaskSend && ev.Method() == "tools/call" {
		return e.detect(ev), nil
	}

	return nil, nil
}

// harvest records every address found anywhere in a tool response,
// with its surrounding text as context.
func (e *Engine) harvest(ev *events.Event) {
	text := events.FlattenText(ev.Result(), events.MaxWalkDepth)
	if text == "" {
		return
	}

	mcpTag := ev.ResolvedMcpTag()
	timestamp := time.UnixMilli(ev.TS).Format(time.RFC3339)

	for _, email := range emailPattern.FindAllString(text, -1) {
		idx := strings.Index(text, email)
		start := idx - contextWindow
		if start < 0 {
			start = 0
		}
		end := idx + len(email) + contextWindow
		if end > len(text) {
			end = len(text)
		}

		e.registry.Track(strings.ToLower(email), Origin{
			Source:    "tool_response",
			McpTag:    mcpTag,
			Timestamp: timestamp,
			Context:   text[start:end],
		})
		e.Logger().Infow("tracked email from tool response", "email", email, "server", mcpTag)
	}
}

// detect checks an outgoing email tool call for tracked recipients.
func (e *Engine) detect(ev *events.Event) *engine.Result {
	toolName, arguments := callTarget(ev.Params())
	if !isEmailTool(toolName) {
		return nil
	}

	recipients := extractRecipients(arguments)
	if len(recipients) == 0 {
		return nil
	}

	var findings []engine.Finding
	for _, rec := range recipients {
		origin, tracked := e.registry.Lookup(strings.ToLower(rec.email))
		if !tracked {
			continue
		}

		findings = append(findings, engine.Finding{
			Category: engine.CategoryCritical,
			Type:     "zero_click_exfiltration",
			ToolName: toolName,
			Field:    rec.field,
			Target:   rec.email,
			Reason: fmt.Sprintf("Email '%s' in '%s' field originated from %s - zero-click exfiltration detected",
				rec.email, rec.field, origin.Source),
			Origin: &engine.FindingOrigin{
				Source:    origin.Source,
				McpTag:    origin.McpTag,
				Timestamp: origin.Timestamp,
				Context:   origin.Context,
			},
		})
		e.Logger().Warnw("zero-click exfiltration detected",
			"tool", toolName, "field", rec.field, "email", rec.email, "origin_server", origin.McpTag)
	}
	if len(findings) == 0 {
		return nil
	}

	score := 95 + len(findings)
	if score > 100 {
		score = 100
	}

	res := engine.NewResult("DataExfiltration", ev, engine.SeverityHigh, score, findings)
	res.Result.ToolName = toolName
	res.Result.TrackedEmails = e.registry.Len()
	return res
}

// callTarget resolves the tool slug and arguments of a tools/call.
// Composio-style gateways nest the real call under
// params.arguments.params; direct MCP calls carry params.name and
// params.arguments.
func callTarget(params map[string]any) (string, map[string]any) {
	if params == nil {
		return "", nil
	}

	if outer, ok := params["arguments"].(map[string]any); ok {
		if inner, ok := outer["params"].(map[string]any); ok {
			if slug, ok := inner["tool_slug"].(string); ok && slug != "" {
				args, _ := inner["arguments"].(map[string]any)
				return slug, args
			}
		}
	}

	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)
	return name, args
}

func isEmailTool(toolName string) bool {
	if toolName == "" {
		return false
	}
	lower := strings.ToLower(toolName)
	for _, kw := range emailToolKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type recipient struct {
	field string
	email string
}

// extractRecipients pulls addresses out of the known recipient fields.
// Values may be a single string or a list of strings; each may carry
// several addresses.
func extractRecipients(arguments map[string]any) []recipient {
	if arguments == nil {
		return nil
	}

	var out []recipient
	for _, field := range recipientFields {
		value, ok := arguments[field]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			for _, email := range emailPattern.FindAllString(v, -1) {
				out = append(out, recipient{field: field, email: email})
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					for _, email := range emailPattern.FindAllString(s, -1) {
						out = append(out, recipient{field: field, email: email})
					}
				}
			}
		}
	}
	return out
}
