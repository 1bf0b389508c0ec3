// Package diagnostics runs the startup environment checks surfaced in
// the settings UI.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"vtt-keyboard/internal/domain"
)

// Checker validates external tools and runtime prerequisites.
type Checker struct {
	lookPath     func(string) (string, error)
	dockerPing   func(context.Context) error
	hasNvidia    func(context.Context) (bool, error)
	inputDevices func() (int, error)
	mkdirAll     func(string, os.FileMode) error
	createTemp   func(string, string) (*os.File, error)
	remove       func(string) error
}

// DockerProbe is the docker surface the checker needs.
type DockerProbe interface {
	Available(ctx context.Context) error
	HasNvidiaRuntime(ctx context.Context) (bool, error)
}

// NewChecker builds a checker using real OS dependencies. inputDevices
// counts available capture devices; pass the portaudio-backed counter
// from the capture package.
func NewChecker(docker DockerProbe, inputDevices func() (int, error)) *Checker {
	return &Checker{
		lookPath:     exec.LookPath,
		dockerPing:   docker.Available,
		hasNvidia:    docker.HasNvidiaRuntime,
		inputDevices: inputDevices,
		mkdirAll:     os.MkdirAll,
		createTemp:   os.CreateTemp,
		remove:       os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings, dataDir string) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkAudioInput(),
		c.checkDataDir(dataDir),
		c.checkCredentials(settings),
	}
	if settings.Provider == domain.ProviderLocal || settings.Local.Installed {
		items = append(items, c.checkDocker(ctx))
		option := domain.LookupLocalModel(domain.LocalModel(settings.Local.Model))
		if option.RequiredDevice == domain.DeviceCUDA || settings.Local.Device == string(domain.DeviceCUDA) {
			items = append(items, c.checkNvidia(ctx))
		}
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkAudioInput verifies at least one capture device is present.
func (c *Checker) checkAudioInput() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "audio_input",
		Name: "Audio input",
	}

	count, err := c.inputDevices()
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot enumerate audio devices: %v", err)
		item.Hint = "Check that an audio subsystem is available and the microphone is not claimed by another application."
		return item
	}
	if count == 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "No audio input devices found."
		item.Hint = "Connect a microphone and grant the application microphone access."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%d input device(s) available", count)
	return item
}

// checkDocker verifies the docker CLI is installed and the daemon responds.
func (c *Checker) checkDocker(ctx context.Context) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "docker",
		Name: "Docker",
	}

	if _, err := c.lookPath("docker"); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "docker not found in PATH."
		item.Hint = "Install Docker to run the local transcription service."
		return item
	}
	if err := c.dockerPing(ctx); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Docker daemon is not responding: %v", err)
		item.Hint = "Start the Docker daemon before using the local transcription service."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "Docker daemon reachable"
	return item
}

// checkNvidia verifies the nvidia container runtime when the selected
// local model needs a GPU.
func (c *Checker) checkNvidia(ctx context.Context) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "nvidia_runtime",
		Name: "NVIDIA runtime",
	}

	ok, err := c.hasNvidia(ctx)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot query docker runtimes: %v", err)
		item.Hint = "Start the Docker daemon and retry."
		return item
	}
	if !ok {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "NVIDIA container runtime not registered with docker."
		item.Hint = "Install the NVIDIA Container Toolkit, or select a CPU-capable local model."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "NVIDIA container runtime available"
	return item
}

// checkDataDir validates the application data directory is writable.
func (c *Checker) checkDataDir(dataDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "data_dir",
		Name: "Data directory",
	}

	if strings.TrimSpace(dataDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Data directory is empty."
		item.Hint = "Set a directory where settings and history can be stored."
		return item
	}

	if err := c.mkdirAll(dataDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create data directory: %s", dataDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dataDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %s", dataDir)
		item.Hint = "Choose a writable directory for settings and history storage."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dataDir)
	return item
}

// checkCredentials verifies the selected cloud provider has the
// credentials it needs. The local provider carries none.
func (c *Checker) checkCredentials(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "credentials",
		Name: "Provider credentials",
	}

	switch settings.Provider {
	case domain.ProviderOpenAI:
		if strings.TrimSpace(settings.OpenAI.APIKey) == "" {
			item.Status = domain.DiagnosticStatusFail
			item.Message = "OpenAI API key is not configured."
			item.Hint = "Set the API key in settings or via the VTT_OPENAI_API_KEY environment variable."
			return item
		}
	case domain.ProviderVolcengine:
		if strings.TrimSpace(settings.Volcengine.AppID) == "" || strings.TrimSpace(settings.Volcengine.AccessToken) == "" {
			item.Status = domain.DiagnosticStatusFail
			item.Message = "Volcengine app id or access token is not configured."
			item.Hint = "Set both the app id and the access token in settings."
			return item
		}
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Provider %q ready", settings.Provider)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	dockerPing func(context.Context) error,
	hasNvidia func(context.Context) (bool, error),
	inputDevices func() (int, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:     lookPath,
		dockerPing:   dockerPing,
		hasNvidia:    hasNvidia,
		inputDevices: inputDevices,
		mkdirAll:     mkdirAll,
		createTemp:   createTemp,
		remove:       remove,
	}
}
