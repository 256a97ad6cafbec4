package fsexposure

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

func pathEvent(field, path string) *events.Event {
	return &events.Event{
		EventType: events.TypeMCP,
		Producer:  events.ProducerLocal,
		TS:        1234567890,
		Data: map[string]any{
			"message": map[string]any{
				"params": map[string]any{
					"arguments": map[string]any{field: path},
				},
			},
		},
	}
}

func TestEngineFilters(t *testing.T) {
	eng := New(zap.NewNop().Sugar())
	assert.Equal(t, "FileSystemExposureEngine", eng.Name())
	assert.True(t, eng.ShouldProcess(&events.Event{EventType: events.TypeMCP, Producer: events.ProducerLocal}))
	assert.False(t, eng.ShouldProcess(&events.Event{EventType: events.TypeProcess, Producer: events.ProducerLocal}))
}

func TestDetectCriticalWindowsPaths(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	paths := []string{
		`C:\Windows\System32\config\SAM`,
		`C:\Windows\SysWOW64\cmd.exe`,
		`C:\boot.ini`,
	}
	for _, path := range paths {
		res, err := eng.Process(context.Background(), pathEvent("path", path))
		require.NoError(t, err)
		require.NotNil(t, res, "failed to detect critical path: %s", path)
		assert.Equal(t, engine.SeverityHigh, res.Result.Severity)
	}
}

func TestDetectCriticalLinuxPaths(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	paths := []string{
		"/etc/passwd",
		"/etc/shadow",
		"/etc/sudoers",
		"/root/.ssh/id_rsa",
		"/proc/self/environ",
	}
	for _, path := range paths {
		res, err := eng.Process(context.Background(), pathEvent("file", path))
		require.NoError(t, err)
		require.NotNil(t, res, "failed to detect critical path: %s", path)
		assert.Equal(t, engine.SeverityHigh, res.Result.Severity)
	}
}

func TestDetectCredentialFiles(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	paths := []string{
		"/home/user/.ssh/id_rsa",
		"/home/user/.aws/credentials",
		"/home/user/.kube/config",
		"/home/user/.docker/config.json",
	}
	for _, path := range paths {
		res, err := eng.Process(context.Background(), pathEvent("filepath", path))
		require.NoError(t, err)
		require.NotNil(t, res, "failed to detect credential file: %s", path)
		assert.Equal(t, "FileSystemExposure", res.Result.Detector)
		assert.Equal(t, engine.SeverityMedium, res.Result.Severity)
	}
}

func TestDetectDangerousExtensions(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	paths := []string{
		"/home/user/private.key",
		"/home/user/cert.pem",
		"/home/user/.env",
		"/home/user/config.ini",
	}
	for _, path := range paths {
		res, err := eng.Process(context.Background(), pathEvent("file", path))
		require.NoError(t, err)
		require.NotNil(t, res, "failed to detect dangerous file: %s", path)
	}
}

func TestDetectPathTraversal(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	paths := []string{
		"../../etc/passwd",
		`..\..\Windows\System32`,
		"%2e%2e%2fetc%2fpasswd",
		"%252e%252e%252fetc%252fpasswd",
	}
	for _, path := range paths {
		res, err := eng.Process(context.Background(), pathEvent("path", path))
		require.NoError(t, err)
		require.NotNil(t, res, "failed to detect path traversal: %s", path)

		found := false
		for _, f := range res.Result.Findings {
			if strings.Contains(f.Type, "traversal") {
				found = true
			}
		}
		assert.True(t, found, "no traversal finding for: %s", path)
	}
}

func TestNoDetectionForSafePaths(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	paths := []string{
		"/home/user/documents/report.pdf",
		"/tmp/myfile.txt",
		`C:\Users\John\Documents\file.docx`,
	}
	for _, path := range paths {
		res, err := eng.Process(context.Background(), pathEvent("path", path))
		require.NoError(t, err)
		assert.Nil(t, res, "false positive for safe path: %s", path)
	}
}

func TestExtractPathsFromVariousFields(t *testing.T) {
	for _, field := range []string{"path", "file", "filepath", "directory", "folder", "location"} {
		paths := ExtractPaths(pathEvent(field, "/etc/passwd"))
		assert.Contains(t, paths, "/etc/passwd", "failed to extract from field: %s", field)
	}
}

func TestDepthScore(t *testing.T) {
	assert.Equal(t, 0, DepthScore("/etc/passwd"))
	assert.Greater(t, DepthScore("/home/user/documents/private/secrets/key.pem"), 0)
	assert.Equal(t, 0, DepthScore(""))
}

func TestDepthAloneYieldsNoResult(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	res, err := eng.Process(context.Background(), pathEvent("path", "/a/b/c/d/e/f/plain.txt"))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNoPathsInEvent(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	ev := &events.Event{
		EventType: events.TypeMCP,
		Producer:  events.ProducerLocal,
		Data: map[string]any{
			"message": map[string]any{
				"params": map[string]any{
					"arguments": map[string]any{"command": "ls -la"},
				},
			},
		},
	}
	res, err := eng.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResultStructure(t *testing.T) {
	eng := New(zap.NewNop().Sugar())

	res, err := eng.Process(context.Background(), pathEvent("path", "/etc/passwd"))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"id-1234567890"}, res.Reference)
	assert.Equal(t, "FileSystemExposure", res.Result.Detector)
	assert.NotZero(t, res.Result.Evaluation)
	assert.Equal(t, events.TypeMCP, res.Result.EventType)
	assert.Equal(t, events.ProducerLocal, res.Result.Producer)
	for _, f := range res.Result.Findings {
		assert.NotEmpty(t, f.Category)
		assert.NotEmpty(t, f.MatchedText)
		assert.NotEmpty(t, f.Reason)
	}
}
