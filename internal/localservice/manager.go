// Package localservice owns the lifecycle of the container-hosted
// transcription model: image install, container start/stop, health
// monitoring, and model switching.
package localservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vtt-keyboard/internal/domain"
	"vtt-keyboard/internal/events"
	"vtt-keyboard/internal/provider"
)

const (
	healthMonitorInterval = time.Second
	healthFailureLimit    = 3
	buildTimeout          = 40 * time.Minute
	logStreamName         = "local-service"
)

// ErrManagerClosed is returned for lifecycle calls after Close.
var ErrManagerClosed = errors.New("local service manager is closed")

// Manager serializes all lifecycle transitions through one command
// loop: concurrent Prepare/Start/Stop calls queue behind the
// in-progress transition instead of interleaving.
type Manager struct {
	docker  *Docker
	bus     *events.Bus
	client  *http.Client
	dataDir string
	log     zerolog.Logger

	commands  chan func()
	closeOnce sync.Once
	closed    chan struct{}

	mu         sync.RWMutex
	state      domain.LocalServiceState
	installed  bool
	model      domain.LocalModel
	modelID    string
	device     domain.Device
	serviceURL string
	lastError  string

	logs          *logRing
	monitorCancel context.CancelFunc
	tailCancel    context.CancelFunc

	probeFor        func(model domain.LocalModel) probeFunc
	startTimeout    time.Duration // overrides catalog timeouts when set
	monitorInterval time.Duration
	onChange        func(domain.LocalServiceStatus)
}

// NewManager creates the manager. Running state is never persisted:
// an installed service always begins Stopped after a restart.
func NewManager(docker *Docker, bus *events.Bus, dataDir string, settings domain.LocalServiceSettings, log zerolog.Logger) *Manager {
	client := &http.Client{Timeout: healthProbeTimeout}
	m := &Manager{
		docker:     docker,
		bus:        bus,
		client:     client,
		dataDir:    dataDir,
		log:        log.With().Str("component", "localservice").Logger(),
		commands:   make(chan func()),
		closed:     make(chan struct{}),
		state:      domain.LocalStateUninstalled,
		installed:  settings.Installed,
		model:      domain.LocalModel(settings.Model),
		modelID:    settings.ModelID,
		device:     domain.Device(settings.Device),
		serviceURL: settings.ServiceURL,
		logs:       newLogRing(defaultLogCapacity),
		probeFor: func(model domain.LocalModel) probeFunc {
			return newHTTPProbe(client, model)
		},
		monitorInterval: healthMonitorInterval,
	}
	if settings.Installed {
		m.state = domain.LocalStateStopped
	}
	go m.loop()
	return m
}

// NewManagerForTests creates a manager with an injected health probe
// and short timeouts.
func NewManagerForTests(docker *Docker, bus *events.Bus, dataDir string, settings domain.LocalServiceSettings, probeFor func(domain.LocalModel) probeFunc, log zerolog.Logger) *Manager {
	m := NewManager(docker, bus, dataDir, settings, log)
	m.probeFor = probeFor
	m.startTimeout = 250 * time.Millisecond
	m.monitorInterval = 10 * time.Millisecond
	return m
}

// SetOnChange registers a callback invoked after every state change,
// outside the manager lock.
func (m *Manager) SetOnChange(fn func(domain.LocalServiceStatus)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Close stops the command loop. It does not stop a running container.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
}

func (m *Manager) loop() {
	for {
		select {
		case fn := <-m.commands:
			fn()
		case <-m.closed:
			return
		}
	}
}

// do runs fn on the command loop and waits for its result. This is the
// single serialization point for lifecycle transitions.
func (m *Manager) do(fn func() error) error {
	errCh := make(chan error, 1)
	wrapped := func() { errCh <- fn() }
	select {
	case m.commands <- wrapped:
	case <-m.closed:
		return ErrManagerClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-m.closed:
		return ErrManagerClosed
	}
}

// State returns the current lifecycle state. Used by the dispatcher to
// gate routing to the local provider.
func (m *Manager) State() domain.LocalServiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a full snapshot for the UI.
func (m *Manager) Status() domain.LocalServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() domain.LocalServiceStatus {
	return domain.LocalServiceStatus{
		State:      m.state,
		Installed:  m.installed,
		Model:      m.model,
		ModelID:    m.modelID,
		Device:     m.device,
		ServiceURL: m.serviceURL,
		LastError:  m.lastError,
	}
}

// Logs returns the retained container log lines, oldest first.
func (m *Manager) Logs() []string {
	return m.logs.Lines()
}

// Prepare installs the image for a model variant: build for the
// bundled SenseVoice image, pull for vLLM-hosted models. Weights are
// fetched by the service on first start into the shared model cache.
func (m *Manager) Prepare(ctx context.Context, model domain.LocalModel, modelID string, device domain.Device) error {
	return m.do(func() error { return m.prepare(ctx, model, modelID, device) })
}

// Start launches the container for a model variant and waits until it
// is healthy. Starting a different model while one is running stops
// the previous container first; a second start for the same running
// model is a no-op.
func (m *Manager) Start(ctx context.Context, model domain.LocalModel, modelID string, device domain.Device) error {
	return m.do(func() error { return m.start(ctx, model, modelID, device) })
}

// Stop tears the container down. Idempotent when already stopped.
func (m *Manager) Stop(ctx context.Context) error {
	return m.do(func() error { return m.stop(ctx) })
}

// Reset forces the service back to Uninstalled so the next Prepare
// re-downloads from scratch. A running container is stopped first so
// the state machine walks Running -> Stopping -> Stopped before the
// Uninstalled edge.
func (m *Manager) Reset(ctx context.Context) error {
	return m.do(func() error {
		if err := m.stop(ctx); err != nil {
			return err
		}
		m.setInstalled(false)
		m.setState(domain.LocalStateUninstalled, "")
		return nil
	})
}

func (m *Manager) prepare(ctx context.Context, model domain.LocalModel, modelID string, device domain.Device) error {
	option := domain.LookupLocalModel(model)
	modelID = option.NormalizeModelID(modelID)

	if err := m.validateDevice(ctx, option, device); err != nil {
		return err
	}
	if err := m.docker.Available(ctx); err != nil {
		return provider.Lifecycle("docker is not available", err)
	}

	switch m.State() {
	case domain.LocalStateUninstalled, domain.LocalStateInstalled, domain.LocalStateStopped, domain.LocalStateError:
	default:
		return provider.Lifecycle(fmt.Sprintf("cannot install from state %s", m.State()), nil)
	}

	m.setIdentity(option.Model, modelID, device)
	m.setState(domain.LocalStateDownloading, "")

	progress := newProgressReporter(m, "install")
	progress.Report(0, "preparing build context")

	err := m.installImage(ctx, option, progress)
	if err != nil {
		// A failed install leaves partial artifacts in an unknown
		// state; fall back to Uninstalled so the next prepare
		// re-verifies everything.
		m.setInstalled(false)
		m.setState(domain.LocalStateUninstalled, err.Error())
		return err
	}

	progress.Stage("verify")
	if !m.docker.ImageExists(ctx, option.ImageTag) {
		err := provider.Lifecycle(fmt.Sprintf("image %s missing after install", option.ImageTag), nil)
		m.setInstalled(false)
		m.setState(domain.LocalStateUninstalled, err.Error())
		return err
	}
	progress.Report(100, "image ready")

	m.setInstalled(true)
	m.setState(domain.LocalStateInstalled, "")
	return nil
}

func (m *Manager) installImage(ctx context.Context, option domain.LocalModelOption, progress *progressReporter) error {
	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	onLine := func(line string) {
		m.publishLogLine(line)
		progress.Bump(line)
	}

	if !option.BuildLocally {
		progress.Stage("download")
		if m.docker.ImageExists(ctx, option.ImageTag) {
			progress.Report(85, "image already present")
			return nil
		}
		if err := m.docker.Pull(ctx, option.ImageTag, onLine); err != nil {
			return provider.Lifecycle("image pull failed", err)
		}
		return nil
	}

	contextDir := filepath.Join(m.dataDir, "runtime")
	if err := materializeRuntime(contextDir); err != nil {
		return provider.Lifecycle("write build context", err)
	}
	stamp, err := runtimeStamp()
	if err != nil {
		return provider.Lifecycle("hash build context", err)
	}

	if m.docker.ImageExists(ctx, option.ImageTag) && readStamp(m.dataDir) == stamp {
		progress.Report(85, "cached image is up to date")
		return nil
	}

	progress.Stage("download")
	if err := m.docker.Build(ctx, contextDir, option.ImageTag, onLine); err != nil {
		return provider.Lifecycle("image build failed", err)
	}
	if err := writeStamp(m.dataDir, stamp); err != nil {
		m.log.Warn().Err(err).Msg("could not record image stamp")
	}
	return nil
}

func (m *Manager) start(ctx context.Context, model domain.LocalModel, modelID string, device domain.Device) error {
	option := domain.LookupLocalModel(model)
	modelID = option.NormalizeModelID(modelID)

	if err := m.validateDevice(ctx, option, device); err != nil {
		return err
	}

	current := m.Status()
	if current.State == domain.LocalStateRunning {
		if current.Model == option.Model && current.ModelID == modelID {
			return nil
		}
		// Model switch: the previous container is fully stopped
		// before the new one starts, never both at once.
		if err := m.stop(ctx); err != nil {
			return err
		}
	}

	switch m.State() {
	case domain.LocalStateInstalled, domain.LocalStateStopped, domain.LocalStateError:
	default:
		return provider.Lifecycle(fmt.Sprintf("cannot start from state %s", m.State()), nil)
	}
	if !m.docker.ImageExists(ctx, option.ImageTag) {
		return provider.ServiceUnavailable("local service image is not installed")
	}

	m.setIdentity(option.Model, modelID, device)
	m.setState(domain.LocalStateStarting, "")
	m.logs.Reset()

	// A stale container from a previous run would collide on the name.
	if err := m.docker.Remove(ctx, option.ContainerName); err != nil {
		m.log.Warn().Err(err).Msg("stale container cleanup failed")
	}

	args, err := m.runArgs(option, modelID, device)
	if err != nil {
		m.setState(domain.LocalStateError, err.Error())
		return err
	}
	if err := m.docker.RunDetached(ctx, args); err != nil {
		lerr := provider.Lifecycle("container start failed", err)
		m.setState(domain.LocalStateError, lerr.Error())
		return lerr
	}

	m.startLogTail(option.ContainerName)

	timeout := option.StartTimeout
	if m.startTimeout > 0 {
		timeout = m.startTimeout
	}
	probe := m.probeFor(option.Model)
	if err := waitHealthy(ctx, probe, m.serviceURLSnapshot(), timeout, m.monitorInterval); err != nil {
		m.stopLogTail()
		_ = m.docker.Remove(ctx, option.ContainerName)
		lerr := provider.Lifecycle("service did not become healthy", err)
		m.setState(domain.LocalStateError, lerr.Error())
		return lerr
	}

	m.setState(domain.LocalStateRunning, "")
	m.startHealthMonitor(probe)
	return nil
}

func (m *Manager) stop(ctx context.Context) error {
	switch m.State() {
	case domain.LocalStateRunning, domain.LocalStateStarting, domain.LocalStateError:
	case domain.LocalStateStopped, domain.LocalStateInstalled:
		return nil
	default:
		return nil
	}

	m.setState(domain.LocalStateStopping, "")
	if err := m.stopContainer(ctx); err != nil {
		m.setState(domain.LocalStateError, err.Error())
		return err
	}
	m.setState(domain.LocalStateStopped, "")
	return nil
}

func (m *Manager) stopContainer(ctx context.Context) error {
	// In-flight probes are cancelled before the container goes away.
	m.stopHealthMonitor()
	m.stopLogTail()

	option := domain.LookupLocalModel(m.modelSnapshot())
	if err := m.docker.Stop(ctx, option.ContainerName); err != nil {
		return provider.Lifecycle("container stop failed", err)
	}
	if err := m.docker.Remove(ctx, option.ContainerName); err != nil {
		return provider.Lifecycle("container remove failed", err)
	}
	return nil
}

// validateDevice fails fast for hardware-bound models before any
// container operation is attempted.
func (m *Manager) validateDevice(ctx context.Context, option domain.LocalModelOption, device domain.Device) error {
	if option.RequiredDevice != domain.DeviceCUDA {
		return nil
	}
	if device == domain.DeviceCPU {
		return provider.Validation(fmt.Sprintf("%s requires an NVIDIA GPU and cannot run on cpu", option.Name), nil)
	}
	hasNvidia, err := m.docker.HasNvidiaRuntime(ctx)
	if err != nil {
		return provider.Lifecycle("query docker runtimes", err)
	}
	if !hasNvidia {
		return provider.Validation(fmt.Sprintf("%s requires the NVIDIA container runtime, which is not available", option.Name), nil)
	}
	return nil
}

// runArgs assembles docker run arguments for a model variant.
func (m *Manager) runArgs(option domain.LocalModelOption, modelID string, device domain.Device) ([]string, error) {
	host, port, err := parseHostPort(m.serviceURLSnapshot())
	if err != nil {
		return nil, provider.Validation("invalid service url", err)
	}
	modelCache := filepath.Join(m.dataDir, "models")

	if option.Model == domain.LocalModelQwen3ASR {
		serve := fmt.Sprintf(
			"pip install --no-cache-dir 'vllm[audio]' && vllm serve '%s' --host 0.0.0.0 --port 8000 --enforce-eager --gpu-memory-utilization 0.8 --max-model-len 12288",
			modelID,
		)
		return []string{
			"--name", option.ContainerName,
			"--gpus", "all",
			"-p", fmt.Sprintf("%s:%s:8000", host, port),
			"--mount", fmt.Sprintf("type=bind,source=%s,target=/root/.cache/huggingface", modelCache),
			"--entrypoint", "bash",
			option.ImageTag,
			"-c", serve,
		}, nil
	}

	args := []string{
		"--name", option.ContainerName,
		"-p", fmt.Sprintf("%s:%s:%s", host, port, port),
		"--mount", fmt.Sprintf("type=bind,source=%s,target=/models", modelCache),
		"-e", "SENSEVOICE_MODEL_ID=" + modelID,
		"-e", "SENSEVOICE_MODEL_DIR=/models",
		"-e", "SENSEVOICE_DEVICE=" + string(device),
		"-e", "SENSEVOICE_HUB=hf",
		"-e", "SENSEVOICE_HOST=0.0.0.0",
		"-e", "SENSEVOICE_PORT=" + port,
	}
	if device == domain.DeviceCUDA {
		args = append(args, "--gpus", "all")
	}
	return append(args, option.ImageTag), nil
}

// startHealthMonitor probes the running service in the background and
// demotes the state to Error after three consecutive failures.
func (m *Manager) startHealthMonitor(probe probeFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.monitorCancel = cancel
	m.mu.Unlock()

	go func() {
		failures := 0
		ticker := time.NewTicker(m.monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if err := probe(ctx, m.serviceURLSnapshot()); err != nil {
				failures++
				if failures < healthFailureLimit {
					continue
				}
				m.log.Error().Err(err).Msg("service failed three consecutive health probes")
				go func(probeErr error) {
					_ = m.do(func() error {
						if m.State() != domain.LocalStateRunning {
							return nil
						}
						m.stopHealthMonitor()
						m.setState(domain.LocalStateError, fmt.Sprintf("service became unhealthy: %v", probeErr))
						return nil
					})
				}(err)
				return
			}
			failures = 0
		}
	}()
}

func (m *Manager) stopHealthMonitor() {
	m.mu.Lock()
	cancel := m.monitorCancel
	m.monitorCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// startLogTail follows the container's output into the bounded log
// ring and the event stream.
func (m *Manager) startLogTail(containerName string) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.tailCancel = cancel
	m.mu.Unlock()

	go func() {
		err := m.docker.TailLogs(ctx, containerName, m.publishLogLine)
		if err != nil && ctx.Err() == nil {
			m.log.Warn().Err(err).Msg("container log tail ended")
		}
	}()
}

func (m *Manager) stopLogTail() {
	m.mu.Lock()
	cancel := m.tailCancel
	m.tailCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) publishLogLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	m.logs.Append(line)
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.TypeRuntimeLog,
			LogLine:   line,
			LogStream: logStreamName,
		})
	}
}

// setState applies one transition, publishes it, and notifies the
// change callback.
func (m *Manager) setState(next domain.LocalServiceState, lastError string) {
	m.mu.Lock()
	from := m.state
	if from != next && !isValidTransition(from, next) {
		m.mu.Unlock()
		m.log.Error().Str("from", string(from)).Str("to", string(next)).Msg("rejected invalid state transition")
		return
	}
	m.state = next
	m.lastError = lastError
	status := m.statusLocked()
	onChange := m.onChange
	m.mu.Unlock()

	m.log.Info().Str("from", string(from)).Str("to", string(next)).Msg("service state changed")
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:    events.TypeProgress,
			Message: lastError,
			Progress: &domain.LocalServiceProgress{
				Stage:   "state",
				Message: string(next),
				Detail:  lastError,
			},
		})
	}
	if onChange != nil {
		onChange(status)
	}
}

func (m *Manager) setIdentity(model domain.LocalModel, modelID string, device domain.Device) {
	m.mu.Lock()
	m.model = model
	m.modelID = modelID
	m.device = device
	m.mu.Unlock()
}

func (m *Manager) setInstalled(installed bool) {
	m.mu.Lock()
	m.installed = installed
	m.mu.Unlock()
}

func (m *Manager) modelSnapshot() domain.LocalModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

func (m *Manager) serviceURLSnapshot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serviceURL
}

// isValidTransition enforces the allowed lifecycle edges.
func isValidTransition(from, to domain.LocalServiceState) bool {
	switch from {
	case domain.LocalStateUninstalled:
		return to == domain.LocalStateDownloading
	case domain.LocalStateDownloading:
		return to == domain.LocalStateInstalled || to == domain.LocalStateUninstalled || to == domain.LocalStateError
	case domain.LocalStateInstalled:
		return to == domain.LocalStateStarting || to == domain.LocalStateDownloading || to == domain.LocalStateUninstalled || to == domain.LocalStateError
	case domain.LocalStateStarting:
		return to == domain.LocalStateRunning || to == domain.LocalStateStopping || to == domain.LocalStateError
	case domain.LocalStateRunning:
		return to == domain.LocalStateStopping || to == domain.LocalStateError
	case domain.LocalStateStopping:
		return to == domain.LocalStateStopped || to == domain.LocalStateError
	case domain.LocalStateStopped:
		return to == domain.LocalStateStarting || to == domain.LocalStateDownloading || to == domain.LocalStateUninstalled || to == domain.LocalStateError
	case domain.LocalStateError:
		return to == domain.LocalStateUninstalled || to == domain.LocalStateStopped || to == domain.LocalStateStopping || to == domain.LocalStateDownloading || to == domain.LocalStateStarting
	default:
		return false
	}
}

// progressReporter publishes monotonically increasing progress within
// one prepare run.
type progressReporter struct {
	m       *Manager
	stage   string
	percent int
}

func newProgressReporter(m *Manager, stage string) *progressReporter {
	return &progressReporter{m: m, stage: stage}
}

// Stage advances to the next stage label without regressing percent.
func (p *progressReporter) Stage(stage string) {
	p.stage = stage
}

// Report publishes an absolute percentage, clamped to be monotonic.
func (p *progressReporter) Report(percent int, message string) {
	if percent < p.percent {
		percent = p.percent
	}
	if percent > 100 {
		percent = 100
	}
	p.percent = percent
	p.publish(message, "")
}

// Bump nudges progress forward for each output line, capped below the
// verify threshold so percent stays meaningful.
func (p *progressReporter) Bump(detail string) {
	if p.percent < 85 {
		p.percent++
	}
	p.publish("", detail)
}

func (p *progressReporter) publish(message, detail string) {
	if p.m.bus == nil {
		return
	}
	p.m.bus.Publish(events.Event{
		Type: events.TypeProgress,
		Progress: &domain.LocalServiceProgress{
			Stage:   p.stage,
			Message: message,
			Percent: p.percent,
			Detail:  detail,
		},
	})
}

func parseHostPort(serviceURL string) (host, port string, err error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		return "", "", err
	}
	host = parsed.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("service url %q has no host", serviceURL)
	}
	port = parsed.Port()
	if port == "" {
		port = "80"
	}
	return host, port, nil
}
