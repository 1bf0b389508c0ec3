package domain

import "time"

// LocalModelOption describes one runnable local model variant with its
// container image and run parameters.
type LocalModelOption struct {
	Model          LocalModel    `json:"model"`
	Name           string        `json:"name"`
	ImageTag       string        `json:"imageTag"`
	ContainerName  string        `json:"containerName"`
	DefaultModelID string        `json:"defaultModelId"`
	AllowedIDs     []string      `json:"allowedIds,omitempty"`
	RequiredDevice Device        `json:"requiredDevice,omitempty"`
	StartTimeout   time.Duration `json:"-"`
	BuildLocally   bool          `json:"buildLocally"`
	Description    string        `json:"description,omitempty"`
}

// LocalModelCatalog lists the built-in local model variants.
var LocalModelCatalog = []LocalModelOption{
	{
		Model:          LocalModelSenseVoice,
		Name:           "SenseVoice Small",
		ImageTag:       "vtt-sensevoice:local",
		ContainerName:  "vtt-local-service",
		DefaultModelID: "iic/SenseVoiceSmall",
		StartTimeout:   90 * time.Second,
		BuildLocally:   true,
		Description:    "Default lightweight multilingual model, runs on CPU or GPU.",
	},
	{
		Model:          LocalModelQwen3ASR,
		Name:           "Qwen3 ASR",
		ImageTag:       "vllm/vllm-openai:nightly",
		ContainerName:  "vtt-local-service",
		DefaultModelID: "Qwen/Qwen3-ASR-1.7B",
		AllowedIDs: []string{
			"Qwen/Qwen3-ASR-1.7B",
			"Qwen/Qwen3-ASR-0.6B",
		},
		RequiredDevice: DeviceCUDA,
		StartTimeout:   5 * time.Minute,
		Description:    "vLLM-hosted ASR model, requires an NVIDIA GPU.",
	},
}

// LookupLocalModel resolves a model identity from the catalog, falling
// back to the SenseVoice default for unknown values.
func LookupLocalModel(model LocalModel) LocalModelOption {
	for _, option := range LocalModelCatalog {
		if option.Model == model {
			return option
		}
	}
	return LocalModelCatalog[0]
}

// NormalizeModelID clamps a model ID to the variant's allow list.
func (o LocalModelOption) NormalizeModelID(modelID string) string {
	if len(o.AllowedIDs) == 0 {
		if modelID == "" {
			return o.DefaultModelID
		}
		return modelID
	}
	for _, allowed := range o.AllowedIDs {
		if allowed == modelID {
			return modelID
		}
	}
	return o.DefaultModelID
}
