package domain

// LocalServiceState is the lifecycle state of the container-hosted model
// service. Transitions are serialized by the localservice manager.
type LocalServiceState string

const (
	LocalStateUninstalled LocalServiceState = "uninstalled"
	LocalStateDownloading LocalServiceState = "downloading"
	LocalStateInstalled   LocalServiceState = "installed"
	LocalStateStarting    LocalServiceState = "starting"
	LocalStateRunning     LocalServiceState = "running"
	LocalStateStopping    LocalServiceState = "stopping"
	LocalStateStopped     LocalServiceState = "stopped"
	LocalStateError       LocalServiceState = "error"
)

// LocalModel identifies one runnable local model variant.
type LocalModel string

const (
	LocalModelSenseVoice LocalModel = "sensevoice"
	LocalModelQwen3ASR   LocalModel = "qwen3-asr"
)

// Device selects the accelerator for the local model service.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// LocalServiceStatus is a snapshot of the local service for the UI.
type LocalServiceStatus struct {
	State      LocalServiceState `json:"state"`
	Installed  bool              `json:"installed"`
	Model      LocalModel        `json:"model"`
	ModelID    string            `json:"modelId"`
	Device     Device            `json:"device"`
	ServiceURL string            `json:"serviceUrl"`
	LastError  string            `json:"lastError,omitempty"`
}

// LocalServiceProgress reports install/start progress to the UI.
// Percent is monotonically increasing within one prepare or start run.
type LocalServiceProgress struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent,omitempty"`
	Detail  string `json:"detail,omitempty"`
}
