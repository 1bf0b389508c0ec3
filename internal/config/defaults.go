package config

import (
	"os"
	"path/filepath"

	"vtt-keyboard/internal/domain"
)

// AppDir returns the per-user data directory for the application.
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".vtt-keyboard")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		Shortcut: domain.ShortcutSettings{
			Key: "CommandOrControl+Shift+Space",
		},
		Recording: domain.RecordingSettings{
			SegmentSeconds: 60,
			SampleRate:     16000,
			Channels:       1,
		},
		Provider: domain.ProviderOpenAI,
		OpenAI: domain.OpenAISettings{
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-4o-transcribe",
			ResponseFormat: "json",
			Temperature:    0,
		},
		Volcengine: domain.VolcengineSettings{
			Language: "zh-CN",
		},
		Local: domain.LocalServiceSettings{
			ServiceURL: "http://127.0.0.1:8765",
			Model:      string(domain.LocalModelSenseVoice),
			ModelID:    "iic/SenseVoiceSmall",
			Device:     string(domain.DeviceAuto),
			Language:   "auto",
		},
		Triggers: DefaultTriggers(),
	}
}

// DefaultTriggers returns the built-in locked trigger cards. Locked
// cards survive settings edits that attempt to delete them.
func DefaultTriggers() []domain.TriggerCard {
	return []domain.TriggerCard{
		{
			ID:             "translate",
			Title:          "Translate",
			Enabled:        true,
			Locked:         true,
			Keyword:        "translate to {value}",
			PromptTemplate: "Translate the following into {value}.",
			Variables:      []string{"English"},
		},
		{
			ID:             "polish",
			Title:          "Polish",
			Enabled:        true,
			Locked:         true,
			Keyword:        "polish as {value}",
			PromptTemplate: "Rewrite the following in a {value} tone.",
			Variables:      []string{"formal"},
		},
	}
}
