package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/story-service/internal/core"
	"github.com/book-expert/story-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStory = "A small dog dashed along the shoreline, scattering gulls and chasing foam. " +
	"Salt stung his nose, sand flew from his paws, and when the tide rolled in he " +
	"barked proudly, certain he had won the race."

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func TestValidateRunFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "dog.jpg")
	require.NoError(t, os.WriteFile(imagePath, jpegHeader, 0o600))

	tests := []struct {
		name    string
		flags   runFlags
		wantErr error
		errText string
	}{
		{name: "valid image", flags: runFlags{image: imagePath}},
		{name: "missing image flag", flags: runFlags{}, wantErr: errImageRequired},
		{name: "blank image flag", flags: runFlags{image: "   "}, wantErr: errImageRequired},
		{name: "directory", flags: runFlags{image: dir}, wantErr: errImageIsDir},
		{name: "nonexistent file", flags: runFlags{image: filepath.Join(dir, "nope.jpg")}, errText: "cannot read image"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateRunFlags(testCase.flags)

			switch {
			case testCase.wantErr != nil:
				require.ErrorIs(t, err, testCase.wantErr)
			case testCase.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), testCase.errText)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestResultRows(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		rows := resultRows(pipeline.Result{
			State:    pipeline.StateDone,
			Scenario: "a dog",
			Story:    "story",
			Artifact: &core.Artifact{Location: "audio.flac", Format: "flac", Size: 8},
		})

		assert.Equal(t, [][2]string{
			{"State", "done"},
			{"Scenario", "a dog"},
			{"Story", "story"},
			{"Audio", "audio.flac"},
			{"Format", "flac"},
			{"Size", "8 bytes"},
		}, rows)
	})

	t.Run("failure keeps earlier values", func(t *testing.T) {
		t.Parallel()

		rows := resultRows(pipeline.Result{
			State:       pipeline.StateFailed,
			FailedStage: core.StageNarrate,
			Scenario:    "a cat",
			Err:         errors.New("quota exceeded"),
		})

		assert.Equal(t, [][2]string{
			{"State", "failed"},
			{"Scenario", "a cat"},
			{"Failed stage", "narrate"},
			{"Error", "quota exceeded"},
		}, rows)
	})
}

func TestRenderTable_PlainOutsideTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	rendered := renderTable(&buf, [2]string{"Field", "Value"}, [][2]string{{"State", "done"}})

	assert.Contains(t, rendered, "+")
	assert.NotContains(t, rendered, "╭")
	assert.Contains(t, rendered, "FIELD")
	assert.Contains(t, rendered, "State")
	assert.Contains(t, rendered, "done")
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

func TestCheckEndpoints(t *testing.T) {
	t.Parallel()

	rows, healthy := checkEndpoints(context.Background(), []endpoint{
		{name: "caption", checker: fakeChecker{}},
		{name: "synthesize", checker: fakeChecker{err: errors.New("503 Service Unavailable")}},
	})

	assert.False(t, healthy)
	assert.Equal(t, [][2]string{
		{"caption", "ok"},
		{"synthesize", "503 Service Unavailable"},
	}, rows)
}

// fakeProviders serves the captioning, chat-completion and speech endpoints.
func fakeProviders(t *testing.T, captionStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/caption", func(responseWriter http.ResponseWriter, _ *http.Request) {
		if captionStatus != http.StatusOK {
			responseWriter.WriteHeader(captionStatus)
			_, _ = responseWriter.Write([]byte(`{"error":"Model is currently loading"}`))

			return
		}

		_, _ = responseWriter.Write([]byte(`[{"generated_text":"a dog running on a beach"}]`))
	})
	mux.HandleFunc("/v1/chat/completions", func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(responseWriter).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": testStory}}},
		})
	})
	mux.HandleFunc("/speech", func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set("Content-Type", "audio/flac")
		_, _ = responseWriter.Write([]byte("fLaC\x00\x00\x00\x22"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func writeTestConfig(t *testing.T, serverURL string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "out", "audio.flac")
	configPath := filepath.Join(dir, "story.toml")

	content := fmt.Sprintf(`
[captioner]
endpoint = %q

[narrator]
base_url = %q

[synthesizer]
endpoint = %q

[credentials]
hugging_face_token_env = "STORY_CLIENT_TEST_HF"
openai_api_key_env = "STORY_CLIENT_TEST_OPENAI"

[paths]
base_logs_dir = %q
artifact_path = %q
`, serverURL+"/caption", serverURL+"/v1", serverURL+"/speech", filepath.Join(dir, "logs"), artifactPath)

	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return configPath, artifactPath
}

func writeTestImage(t *testing.T) string {
	t.Helper()

	imagePath := filepath.Join(t.TempDir(), "dog.jpg")
	require.NoError(t, os.WriteFile(imagePath, jpegHeader, 0o600))

	return imagePath
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestRunCommand_WritesAudio(t *testing.T) {
	t.Setenv("STORY_CLIENT_TEST_HF", "hf_test")
	t.Setenv("STORY_CLIENT_TEST_OPENAI", "sk-test")

	server := fakeProviders(t, http.StatusOK)
	configPath, artifactPath := writeTestConfig(t, server.URL)

	stdout, stderr, err := execute(t, "run", "--config", configPath, "--image", writeTestImage(t))
	require.NoError(t, err)

	assert.Contains(t, stdout, "a dog running on a beach")
	assert.Contains(t, stdout, "shoreline")
	assert.Contains(t, stdout, artifactPath)
	assert.Equal(t, "-> captioning\n-> narrating\n-> synthesizing\n-> done\n", stderr)

	written, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(written, []byte("fLaC")))
}

func TestRunCommand_OutputFlagOverridesArtifactPath(t *testing.T) {
	t.Setenv("STORY_CLIENT_TEST_HF", "hf_test")
	t.Setenv("STORY_CLIENT_TEST_OPENAI", "sk-test")

	server := fakeProviders(t, http.StatusOK)
	configPath, configured := writeTestConfig(t, server.URL)
	output := filepath.Join(t.TempDir(), "story.flac")

	_, _, err := execute(t, "run", "-c", configPath, "-i", writeTestImage(t), "-o", output)
	require.NoError(t, err)

	assert.FileExists(t, output)
	assert.NoFileExists(t, configured)
}

func TestRunCommand_CaptionFailureStopsPipeline(t *testing.T) {
	t.Setenv("STORY_CLIENT_TEST_HF", "hf_test")
	t.Setenv("STORY_CLIENT_TEST_OPENAI", "sk-test")

	server := fakeProviders(t, http.StatusServiceUnavailable)
	configPath, artifactPath := writeTestConfig(t, server.URL)

	stdout, stderr, err := execute(t, "run", "--config", configPath, "--image", writeTestImage(t))
	require.Error(t, err)

	assert.True(t, strings.HasPrefix(err.Error(), "caption failed"))
	assert.Contains(t, stdout, "Model is currently loading")
	assert.Equal(t, "-> captioning\n-> failed\n", stderr)
	assert.NoFileExists(t, artifactPath)
}

func TestRunCommand_RequiresImage(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "run")
	require.ErrorIs(t, err, errImageRequired)
}

func TestHealthCommand(t *testing.T) {
	t.Setenv("STORY_CLIENT_TEST_HF", "hf_test")
	t.Setenv("STORY_CLIENT_TEST_OPENAI", "sk-test")

	server := fakeProviders(t, http.StatusOK)
	configPath, _ := writeTestConfig(t, server.URL)

	stdout, _, err := execute(t, "health", "--config", configPath)
	require.NoError(t, err)

	assert.Contains(t, stdout, "caption")
	assert.Contains(t, stdout, "synthesize")
	assert.Equal(t, 2, strings.Count(stdout, " ok "))
}

func TestRunCommand_ClosesLoggerWhenRunFails(t *testing.T) {
	t.Setenv("STORY_CLIENT_TEST_HF", "hf_test")
	t.Setenv("STORY_CLIENT_TEST_OPENAI", "sk-test")

	server := fakeProviders(t, http.StatusServiceUnavailable)
	configPath, _ := writeTestConfig(t, server.URL)
	envFile := ""

	ctx := &commandContext{configFlag: &configPath, envFileFlag: &envFile}

	cmd := newRunCommand(ctx)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--image", writeTestImage(t)})

	require.Error(t, cmd.ExecuteContext(context.Background()))

	require.NotNil(t, ctx.cfg, "configuration should have been resolved")
	assert.Nil(t, ctx.log, "logger should be closed after a failed run")
}

func TestHealthCommand_ClosesLoggerWhenUnhealthy(t *testing.T) {
	t.Setenv("STORY_CLIENT_TEST_HF", "hf_test")
	t.Setenv("STORY_CLIENT_TEST_OPENAI", "sk-test")

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	configPath, _ := writeTestConfig(t, server.URL)
	envFile := ""

	ctx := &commandContext{configFlag: &configPath, envFileFlag: &envFile}

	cmd := newHealthCommand(ctx)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	require.ErrorIs(t, cmd.ExecuteContext(context.Background()), errUnhealthy)
	assert.Nil(t, ctx.log)
}

func TestRunCommand_MissingExplicitEnvFileFails(t *testing.T) {
	server := fakeProviders(t, http.StatusOK)
	configPath, artifactPath := writeTestConfig(t, server.URL)

	_, _, err := execute(t, "run", "--config", configPath,
		"--env-file", filepath.Join(t.TempDir(), "typo.env"), "--image", writeTestImage(t))
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.NoFileExists(t, artifactPath)
}
