// Package config holds the configuration schema, the YAML loader with its
// environment overlay, and the provider registry for the interview runtime.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration, loaded from YAML via [Load] and then
// overlaid with environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Token      TokenConfig      `yaml:"token"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Proctoring ProctoringConfig `yaml:"proctoring"`
}

// ServerConfig holds network, logging, and admin-auth settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AdminToken is the bearer token required on recruiter/admin routes.
	AdminToken string `yaml:"admin_token"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// PostgresDSN is the pgx connection string. Empty runs the in-memory
	// stores, which is what dev mode and most tests use.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// StorageConfig locates the artifact tree.
type StorageConfig struct {
	// Root is the absolute directory holding recordings/, snapshots/, and
	// reports/. Overridden by STORAGE_ROOT.
	Root string `yaml:"root"`
}

// TokenConfig tunes access-token signing and the entry window.
type TokenConfig struct {
	// ActiveKeyID selects the signing key for newly issued tokens. Older
	// keys in the ring still verify.
	ActiveKeyID string `yaml:"active_key_id"`

	// Secrets maps key id to signing secret. Usually populated from
	// HMAC_SECRET / HMAC_SECRET_<id> rather than the file.
	Secrets map[string]string `yaml:"secrets"`

	// LeadMinutes is how early before the scheduled start a token starts
	// working. Default 15.
	LeadMinutes int `yaml:"lead_minutes"`

	// GraceMinutes is how long past the scheduled end a token keeps
	// working. Default 10.
	GraceMinutes int `yaml:"grace_minutes"`
}

// SchedulingConfig tunes slot handling.
type SchedulingConfig struct {
	// Zone is the IANA name of the presentation timezone for slot times.
	// Default Asia/Kolkata.
	Zone string `yaml:"zone"`

	// DefaultSlotDurationMin is applied when a slot is created without an
	// end time. Default 10.
	DefaultSlotDurationMin int `yaml:"default_slot_duration_min"`
}

// ProvidersConfig selects the backend for each pipeline stage.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	Vision     ProviderEntry `yaml:"vision"`
}

// ProviderEntry is the per-provider configuration block. Name picks the
// factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai",
	// "deepgram", "mock").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Usually injected via
	// LLM_API_KEY / STT_API_KEY / TTS_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g. "gpt-4o", "nova-2")
	// or, for vision, the ONNX model path.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// DialogueConfig tunes the interviewer state machine.
type DialogueConfig struct {
	// Voice is the TTS voice id used for interviewer prompts.
	Voice string `yaml:"voice"`

	// MaxQuestions is the number of MAIN questions per interview.
	// Default 5.
	MaxQuestions int `yaml:"max_questions"`

	// LLMDeadlineSeconds bounds each completion call. Default 20.
	LLMDeadlineSeconds int `yaml:"llm_deadline_seconds"`

	// TTSDeadlineSeconds bounds each synthesis call. Default 15.
	TTSDeadlineSeconds int `yaml:"tts_deadline_seconds"`

	// AnswerTimeoutSeconds is the auto-submit window from first voice
	// activity. Default 60.
	AnswerTimeoutSeconds int `yaml:"answer_timeout_seconds"`

	// NoVoiceGraceSeconds auto-submits an empty answer when the candidate
	// never spoke. Default 15.
	NoVoiceGraceSeconds int `yaml:"no_voice_grace_seconds"`

	// STTEndpointingMs and STTUtteranceEndMs are passed to the
	// transcription stream. Defaults 500 and 2000.
	STTEndpointingMs  int `yaml:"stt_endpointing_ms"`
	STTUtteranceEndMs int `yaml:"stt_utterance_end_ms"`
}

// ProctoringConfig tunes the webcam analysis loop.
type ProctoringConfig struct {
	// Enabled turns the loop on. Sessions run without proctoring when
	// false or when no vision provider is configured.
	Enabled bool `yaml:"enabled"`

	// FallbackModel is an optional second ONNX model path used when the
	// primary detector keeps failing.
	FallbackModel string `yaml:"fallback_model"`
}
