// Package bootstrap wires the application together and exposes the
// backend surface bound into the Wails frontend.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"vtt-keyboard/internal/capture"
	"vtt-keyboard/internal/config"
	"vtt-keyboard/internal/diagnostics"
	"vtt-keyboard/internal/dispatch"
	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/events"
	"vtt-keyboard/internal/history"
	"vtt-keyboard/internal/localservice"
	"vtt-keyboard/internal/session"
	"vtt-keyboard/internal/trigger"
)

// historyStore is the persistence surface the app needs from history.
type historyStore interface {
	Append(domain.HistoryItem) error
	Recent(limit int) ([]domain.HistoryItem, error)
	Close() error
}

// App wires configuration, capture, dispatch, the local service, and
// UI runtime callbacks.
type App struct {
	Store config.Store

	log      zerolog.Logger
	bus      *events.Bus
	session  *session.Controller
	local    *localservice.Manager
	history  historyStore
	checker  *diagnostics.Checker
	assets   fs.FS
	dataDir  string

	mu          sync.Mutex
	settings    domain.Settings
	diagnostics domain.DiagnosticReport
	runtimeCtx  context.Context
	forwardStop func()
}

// New builds the application with persisted settings and startup
// diagnostics.
func New(assets fs.FS) (*App, error) {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := config.LoadEnv(); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	dataDir := config.AppDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnvOverrides(settings)

	bus := events.NewBus(1000)
	docker := localservice.NewDocker()
	local := localservice.NewManager(docker, bus, dataDir, settings.Local, log)

	hist, err := history.Open(filepath.Join(dataDir, "history.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	checker := diagnostics.NewChecker(docker, capture.CountInputDevices)
	report := checker.Run(context.Background(), settings, dataDir)

	app := &App{
		Store:       store,
		log:         log,
		bus:         bus,
		local:       local,
		history:     hist,
		checker:     checker,
		assets:      assets,
		dataDir:     dataDir,
		settings:    settings,
		diagnostics: report,
	}

	dispatcher := dispatch.NewDispatcher(&http.Client{}, local.State, log)
	recorder := capture.NewRecorder(log)
	app.session = session.NewController(recorder, dispatcher, app.settingsSnapshot, hist, bus, log)

	// Keep the persisted install flag in step with the manager so a
	// completed install survives restart.
	local.SetOnChange(app.persistLocalStatus)

	return app, nil
}

// NewForTests builds the app around injected collaborators.
func NewForTests(store config.Store, sess *session.Controller, local *localservice.Manager, hist historyStore, checker *diagnostics.Checker, bus *events.Bus, log zerolog.Logger) *App {
	settings, _ := store.Load()
	return &App{
		Store:    store,
		log:      log,
		bus:      bus,
		session:  sess,
		local:    local,
		history:  hist,
		checker:  checker,
		settings: settings,
	}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "VTT Keyboard",
		Width:       980,
		Height:      720,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and begins forwarding core
// events to the frontend.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()
	a.startEventForwarding(ctx)
}

// Shutdown stops event forwarding, waits for in-flight sessions, and
// releases resources.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	stop := a.forwardStop
	a.forwardStop = nil
	a.runtimeCtx = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}

	a.session.Cancel()
	a.session.Wait()
	a.local.Close()
	if err := a.history.Close(); err != nil {
		a.log.Error().Err(err).Msg("close history store")
	}
}

// startEventForwarding bridges the internal event bus onto the Wails
// event channel consumed by the frontend.
func (a *App) startEventForwarding(ctx context.Context) {
	sub := a.bus.Subscribe()
	done := make(chan struct{})

	a.mu.Lock()
	a.forwardStop = func() {
		a.bus.Unsubscribe(sub)
		<-done
	}
	a.mu.Unlock()

	go func() {
		defer close(done)
		for event := range sub {
			wailsruntime.EventsEmit(ctx, "app:event", event)
		}
	}()
}

// PressShortcut starts a push-to-talk recording session.
func (a *App) PressShortcut() error {
	return a.session.Press()
}

// ReleaseShortcut ends capture and finalizes the session in the
// background.
func (a *App) ReleaseShortcut() {
	a.session.Release()
}

// CancelRecording aborts the active session without a transcript.
func (a *App) CancelRecording() {
	a.session.Cancel()
}

// IsRecording reports whether a session is actively capturing.
func (a *App) IsRecording() bool {
	return a.session.Recording()
}

// GetSettings returns the current settings snapshot.
func (a *App) GetSettings() domain.Settings {
	return a.settingsSnapshot()
}

// SaveSettings validates, normalizes, and persists settings. Locked
// trigger cards cannot be deleted or unlocked through this path.
func (a *App) SaveSettings(edited domain.Settings) (domain.Settings, error) {
	current := a.settingsSnapshot()

	edited.Triggers = trigger.MergeLocked(current.Triggers, edited.Triggers)
	if err := trigger.ValidateCards(edited.Triggers); err != nil {
		return domain.Settings{}, err
	}

	normalized := normalizeSettings(edited)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	normalized = config.ApplyEnvOverrides(normalized)

	a.mu.Lock()
	a.settings = normalized
	a.mu.Unlock()

	a.refreshDiagnostics(normalized)
	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns the startup environment checks.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	return a.refreshDiagnostics(a.settingsSnapshot())
}

// RecentHistory returns up to limit completed sessions, newest first.
func (a *App) RecentHistory(limit int) ([]domain.HistoryItem, error) {
	return a.history.Recent(limit)
}

// EventsSince returns buffered events after seq, letting a reloaded
// frontend catch up without missing transitions.
func (a *App) EventsSince(seq int64) []events.Event {
	return a.bus.Since(seq)
}

// LocalModelOptions lists the built-in local model variants.
func (a *App) LocalModelOptions() []domain.LocalModelOption {
	return domain.LocalModelCatalog
}

// LocalServiceStatus returns the local service lifecycle snapshot.
func (a *App) LocalServiceStatus() domain.LocalServiceStatus {
	return a.local.Status()
}

// LocalServiceLogs returns recent container log lines.
func (a *App) LocalServiceLogs() []string {
	return a.local.Logs()
}

// PrepareLocalService installs the container image for a local model.
func (a *App) PrepareLocalService(model string, modelID string, device string) error {
	return a.local.Prepare(context.Background(), domain.LocalModel(model), modelID, domain.Device(device))
}

// StartLocalService starts the local model container and waits for it
// to become healthy.
func (a *App) StartLocalService(model string, modelID string, device string) error {
	return a.local.Start(context.Background(), domain.LocalModel(model), modelID, domain.Device(device))
}

// StopLocalService stops the local model container.
func (a *App) StopLocalService() error {
	return a.local.Stop(context.Background())
}

// ResetLocalService stops the service and clears the installed state.
func (a *App) ResetLocalService() error {
	return a.local.Reset(context.Background())
}

// settingsSnapshot returns a copy of current settings. Sessions read it
// once at press time.
func (a *App) settingsSnapshot() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

func (a *App) refreshDiagnostics(settings domain.Settings) domain.DiagnosticReport {
	if a.checker == nil {
		return a.GetDiagnostics()
	}
	report := a.checker.Run(context.Background(), settings, a.dataDir)
	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report
}

// persistLocalStatus mirrors local service identity changes into the
// settings file. The running state itself is never persisted.
func (a *App) persistLocalStatus(status domain.LocalServiceStatus) {
	a.mu.Lock()
	local := a.settings.Local
	local.Installed = status.Installed
	if status.Model != "" {
		local.Model = string(status.Model)
	}
	if status.ModelID != "" {
		local.ModelID = status.ModelID
	}
	if status.Device != "" {
		local.Device = string(status.Device)
	}
	changed := local != a.settings.Local
	a.settings.Local = local
	settings := a.settings
	a.mu.Unlock()

	if !changed {
		return
	}
	if err := a.Store.Save(settings); err != nil {
		a.log.Error().Err(err).Msg("persist local service settings")
	}
}

// normalizeSettings trims user input and applies defaults for empty or
// out-of-range values.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.Shortcut.Key = strings.TrimSpace(settings.Shortcut.Key)
	if settings.Shortcut.Key == "" {
		settings.Shortcut.Key = defaults.Shortcut.Key
	}

	if settings.Recording.SegmentSeconds < 5 || settings.Recording.SegmentSeconds > 300 {
		settings.Recording.SegmentSeconds = defaults.Recording.SegmentSeconds
	}
	if settings.Recording.SampleRate <= 0 {
		settings.Recording.SampleRate = defaults.Recording.SampleRate
	}
	if settings.Recording.Channels <= 0 {
		settings.Recording.Channels = defaults.Recording.Channels
	}

	switch settings.Provider {
	case domain.ProviderOpenAI, domain.ProviderVolcengine, domain.ProviderLocal:
	default:
		settings.Provider = defaults.Provider
	}

	settings.OpenAI.APIBase = strings.TrimSpace(settings.OpenAI.APIBase)
	if settings.OpenAI.APIBase == "" {
		settings.OpenAI.APIBase = defaults.OpenAI.APIBase
	}
	settings.OpenAI.Model = strings.TrimSpace(settings.OpenAI.Model)
	if settings.OpenAI.Model == "" {
		settings.OpenAI.Model = defaults.OpenAI.Model
	}

	settings.Local.ServiceURL = strings.TrimSpace(settings.Local.ServiceURL)
	if settings.Local.ServiceURL == "" {
		settings.Local.ServiceURL = defaults.Local.ServiceURL
	}
	option := domain.LookupLocalModel(domain.LocalModel(settings.Local.Model))
	settings.Local.Model = string(option.Model)
	settings.Local.ModelID = option.NormalizeModelID(strings.TrimSpace(settings.Local.ModelID))
	switch domain.Device(settings.Local.Device) {
	case domain.DeviceAuto, domain.DeviceCPU, domain.DeviceCUDA:
	default:
		settings.Local.Device = string(domain.DeviceAuto)
	}

	return settings
}
