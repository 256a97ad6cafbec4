// Package fsexposure implements the filesystem-exposure detection
// engine. It inspects path-bearing fields of MCP tool calls for
// critical system paths, credential material, dangerous extensions and
// path-traversal sequences.
package fsexposure

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// pathFields are the argument keys scanned for candidate paths.
var pathFields = []string{"path", "file", "filepath", "directory", "folder", "location"}

// criticalExact matches are full-path hits on curated system files,
// expressed in normalized form (lowercase, forward slashes).
var criticalExact = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/etc/sudoers",
	"/etc/gshadow",
	"c:/windows/system32/config/sam",
	"c:/windows/system32/config/system",
	"c:/boot.ini",
}

// criticalPrefixes cover directory trees that are critical wholesale.
var criticalPrefixes = []string{
	"/root/.ssh/",
	"/proc/self/",
	"c:/windows/syswow64/",
	"c:/windows/system32/config/",
}

// credentialMarkers identify well-known credential file locations.
var credentialMarkers = []string{
	".ssh/id_",
	"/.aws/credentials",
	"/.kube/config",
	"/.docker/config.json",
	"/.netrc",
	"/.pgpass",
}

// dangerousExtensions flag key and secret material by suffix.
var dangerousExtensions = []string{".key", ".pem", ".env", ".ini", ".pfx", ".p12"}

// traversalMarkers are substrings indicating path traversal, including
// single- and double-URL-encoded variants. Backslash traversal is
// covered by separator normalization before matching.
var traversalMarkers = []string{"../", "%2e%2e%2f", "%2e%2e%5c", "%252e%252e%252f", "%252e%252e%255c"}

const depthThreshold = 4

// Engine detects sensitive filesystem access in MCP traffic.
type Engine struct {
	engine.Base
}

// New constructs the filesystem-exposure engine.
func New(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		Base: engine.NewBase(
			config.EngineFileSystemExposure,
			[]string{events.TypeMCP},
			[]string{events.ProducerLocal, events.ProducerRemote},
			logger,
		),
	}
}

// Process collects all path-bearing string values from the event and
// evaluates each. Events with no path fields yield no result.
func (e *Engine) Process(_ context.Context, ev *events.Event) (*engine.Result, error) {
	paths := ExtractPaths(ev)
	if len(paths) == 0 {
		return nil, nil
	}

	var findings []engine.Finding
	depthBonus := 0
	for _, p := range paths {
		f, bonus := inspectPath(p)
		findings = append(findings, f...)
		depthBonus += bonus
	}
	if len(findings) == 0 {
		return nil, nil
	}

	severity := deriveSeverity(findings)
	score := engine.Score(severity, len(findings)) + depthBonus
	if score > 100 {
		score = 100
	}

	return engine.NewResult("FileSystemExposure", ev, severity, score, findings), nil
}

// ExtractPaths returns every string found under a known path-bearing
// key anywhere in the event payload.
func ExtractPaths(ev *events.Event) []string {
	return events.CollectFieldStrings(ev.Data, pathFields)
}

// inspectPath evaluates one candidate path against all rule classes
// and returns the findings plus a depth bonus for the score.
func inspectPath(path string) ([]engine.Finding, int) {
	var findings []engine.Finding
	norm := normalize(path)

	for _, exact := range criticalExact {
		if norm == exact {
			findings = append(findings, engine.Finding{
				Category:    engine.CategoryCritical,
				Type:        "critical_system_path",
				MatchedText: path,
				Reason:      "access to critical system file",
			})
			break
		}
	}
	for _, prefix := range criticalPrefixes {
		if strings.HasPrefix(norm, prefix) {
			findings = append(findings, engine.Finding{
				Category:    engine.CategoryCritical,
				Type:        "critical_system_path",
				MatchedText: path,
				Reason:      "access under a protected system tree",
			})
			break
		}
	}

	for _, marker := range credentialMarkers {
		if strings.Contains(norm, marker) {
			findings = append(findings, engine.Finding{
				Category:    engine.CategoryMedium,
				Type:        "credential_file",
				MatchedText: path,
				Reason:      "access to credential material",
			})
			break
		}
	}

	for _, ext := range dangerousExtensions {
		if strings.HasSuffix(norm, ext) {
			findings = append(findings, engine.Finding{
				Category:    engine.CategoryLow,
				Type:        "dangerous_extension",
				MatchedText: path,
				Reason:      "file extension commonly holding secrets",
			})
			break
		}
	}

	for _, marker := range traversalMarkers {
		if strings.Contains(norm, marker) {
			findings = append(findings, engine.Finding{
				Category:    engine.CategoryCritical,
				Type:        "path_traversal",
				MatchedText: path,
				Reason:      "path traversal sequence",
			})
			break
		}
	}

	return findings, DepthScore(path)
}

// DepthScore awards one point per path segment beyond the threshold.
func DepthScore(path string) int {
	norm := normalize(path)
	norm = strings.Trim(norm, "/")
	if norm == "" {
		return 0
	}
	segments := strings.Count(norm, "/") + 1
	if segments <= depthThreshold {
		return 0
	}
	return segments - depthThreshold
}

// deriveSeverity maps rule classes onto result severity: critical
// paths and traversal rank high, credential files medium, extensions
// and depth alone low.
func deriveSeverity(findings []engine.Finding) engine.Severity {
	severity := engine.SeverityLow
	for _, f := range findings {
		switch f.Type {
		case "critical_system_path", "path_traversal":
			return engine.SeverityHigh
		case "credential_file":
			severity = engine.SeverityMedium
		}
	}
	return severity
}

// normalize lowercases and flips backslashes so that Windows and URL
// encoded inputs compare against one rule table.
func normalize(path string) string {
	lower := strings.ToLower(path)
	return strings.ReplaceAll(lower, `\`, "/")
}
