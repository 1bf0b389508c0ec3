package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"vtt-keyboard/internal/domain"
)

// LoadEnv loads a .env file when present. Missing files are not an
// error; explicit paths that fail to parse are.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		return godotenv.Load()
	}
	return godotenv.Load(paths...)
}

// ApplyEnvOverrides fills credential fields from the environment so API
// keys can stay out of the persisted settings file.
func ApplyEnvOverrides(settings domain.Settings) domain.Settings {
	if key := strings.TrimSpace(os.Getenv("VTT_OPENAI_API_KEY")); key != "" {
		settings.OpenAI.APIKey = key
	}
	if base := strings.TrimSpace(os.Getenv("VTT_OPENAI_API_BASE")); base != "" {
		settings.OpenAI.APIBase = base
	}
	if appID := strings.TrimSpace(os.Getenv("VTT_VOLCENGINE_APP_ID")); appID != "" {
		settings.Volcengine.AppID = appID
	}
	if token := strings.TrimSpace(os.Getenv("VTT_VOLCENGINE_ACCESS_TOKEN")); token != "" {
		settings.Volcengine.AccessToken = token
	}
	return settings
}
