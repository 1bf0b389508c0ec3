package domain

// Provider identifies a transcription backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderVolcengine Provider = "volcengine"
	ProviderLocal      Provider = "local"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Shortcut   ShortcutSettings     `json:"shortcut"`
	Recording  RecordingSettings    `json:"recording"`
	Provider   Provider             `json:"provider"`
	OpenAI     OpenAISettings       `json:"openai"`
	Volcengine VolcengineSettings   `json:"volcengine"`
	Local      LocalServiceSettings `json:"local"`
	Triggers   []TriggerCard        `json:"triggers"`
}

// ShortcutSettings holds the global push-to-talk key binding.
type ShortcutSettings struct {
	Key string `json:"key"`
}

// RecordingSettings controls audio capture and segmentation.
type RecordingSettings struct {
	SegmentSeconds int `json:"segmentSeconds"`
	SampleRate     int `json:"sampleRate"`
	Channels       int `json:"channels"`
}

// OpenAISettings configures the OpenAI-compatible transcription endpoint.
type OpenAISettings struct {
	APIBase        string  `json:"apiBase"`
	APIKey         string  `json:"apiKey"`
	Model          string  `json:"model"`
	Language       string  `json:"language"`
	Prompt         string  `json:"prompt"`
	ResponseFormat string  `json:"responseFormat"`
	Temperature    float64 `json:"temperature"`
	Stream         bool    `json:"stream"`
}

// VolcengineSettings configures the Volcengine speech API.
type VolcengineSettings struct {
	AppID        string `json:"appId"`
	AccessToken  string `json:"accessToken"`
	UseStreaming bool   `json:"useStreaming"`
	Language     string `json:"language"`
}

// LocalServiceSettings configures the container-hosted model service.
type LocalServiceSettings struct {
	Installed  bool   `json:"installed"`
	ServiceURL string `json:"serviceUrl"`
	Model      string `json:"model"`
	ModelID    string `json:"modelId"`
	Device     string `json:"device"`
	Language   string `json:"language"`
}

// TriggerCard is one user-defined rule mapping transcript text to a
// templated output. Locked cards cannot be deleted through settings edits.
type TriggerCard struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Enabled        bool     `json:"enabled"`
	AutoApply      bool     `json:"autoApply"`
	Locked         bool     `json:"locked"`
	Keyword        string   `json:"keyword"`
	PromptTemplate string   `json:"promptTemplate"`
	Variables      []string `json:"variables"`
}

// TriggerMatchMode distinguishes how a trigger rule matched.
type TriggerMatchMode string

const (
	TriggerMatchKeyword TriggerMatchMode = "keyword"
	TriggerMatchAuto    TriggerMatchMode = "auto"
)

// TriggerMatch records one rule that matched a transcript.
type TriggerMatch struct {
	TriggerID    string           `json:"triggerId"`
	TriggerTitle string           `json:"triggerTitle"`
	Keyword      string           `json:"keyword"`
	MatchedValue string           `json:"matchedValue"`
	Mode         TriggerMatchMode `json:"mode"`
}
