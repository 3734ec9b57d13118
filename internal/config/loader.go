package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known implementations per provider kind.
// Unknown names only warn; they may be third-party registrations.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "groq", "ollama", "mock"},
	"stt":        {"deepgram", "mock"},
	"tts":        {"elevenlabs", "mock"},
	"embeddings": {"openai", "mock"},
	"vision":     {"onnx", "mock"},
}

// Load reads, env-overlays, and validates the YAML config at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays the process
// environment, applies defaults, and validates.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg, os.Environ())
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognised environment variables onto cfg. Environment
// wins over the file so deployments can keep secrets out of YAML.
func applyEnv(cfg *Config, environ []string) {
	env := map[string]string{}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	setStr := func(dst *string, key string) {
		if v, ok := env[key]; ok && v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := env[key]; ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				slog.Warn("ignoring non-numeric environment override", "var", key, "value", v)
			}
		}
	}

	setStr(&cfg.Providers.LLM.APIKey, "LLM_API_KEY")
	setStr(&cfg.Providers.STT.APIKey, "STT_API_KEY")
	setStr(&cfg.Providers.TTS.APIKey, "TTS_API_KEY")
	setStr(&cfg.Providers.Embeddings.APIKey, "EMBEDDINGS_API_KEY")
	setStr(&cfg.Storage.Root, "STORAGE_ROOT")
	setStr(&cfg.Scheduling.Zone, "IST_ZONE")
	setStr(&cfg.Database.PostgresDSN, "POSTGRES_DSN")
	setStr(&cfg.Server.AdminToken, "ADMIN_TOKEN")

	setInt(&cfg.Scheduling.DefaultSlotDurationMin, "SLOT_DEFAULT_DURATION_MIN")
	setInt(&cfg.Token.LeadMinutes, "ACCESS_WINDOW_LEAD_MIN")
	setInt(&cfg.Token.GraceMinutes, "ACCESS_WINDOW_GRACE_MIN")
	setInt(&cfg.Dialogue.STTEndpointingMs, "STT_ENDPOINTING_MS")
	setInt(&cfg.Dialogue.STTUtteranceEndMs, "STT_UTTERANCE_END_MS")
	setInt(&cfg.Dialogue.LLMDeadlineSeconds, "LLM_CALL_DEADLINE_S")
	setInt(&cfg.Dialogue.TTSDeadlineSeconds, "TTS_CALL_DEADLINE_S")

	// HMAC_SECRET is the default key; HMAC_SECRET_<id> adds ring entries.
	if cfg.Token.Secrets == nil {
		cfg.Token.Secrets = map[string]string{}
	}
	for k, v := range env {
		if k == "HMAC_SECRET" && v != "" {
			cfg.Token.Secrets["default"] = v
			if cfg.Token.ActiveKeyID == "" {
				cfg.Token.ActiveKeyID = "default"
			}
		}
		if id, ok := strings.CutPrefix(k, "HMAC_SECRET_"); ok && id != "" && v != "" {
			cfg.Token.Secrets[strings.ToLower(id)] = v
		}
	}
}

// applyDefaults fills zero values that have documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Scheduling.Zone == "" {
		cfg.Scheduling.Zone = "Asia/Kolkata"
	}
	if cfg.Scheduling.DefaultSlotDurationMin <= 0 {
		cfg.Scheduling.DefaultSlotDurationMin = 10
	}
	if cfg.Token.LeadMinutes <= 0 {
		cfg.Token.LeadMinutes = 15
	}
	if cfg.Token.GraceMinutes <= 0 {
		cfg.Token.GraceMinutes = 10
	}
	if cfg.Dialogue.MaxQuestions <= 0 {
		cfg.Dialogue.MaxQuestions = 5
	}
	if cfg.Dialogue.LLMDeadlineSeconds <= 0 {
		cfg.Dialogue.LLMDeadlineSeconds = 20
	}
	if cfg.Dialogue.TTSDeadlineSeconds <= 0 {
		cfg.Dialogue.TTSDeadlineSeconds = 15
	}
	if cfg.Dialogue.AnswerTimeoutSeconds <= 0 {
		cfg.Dialogue.AnswerTimeoutSeconds = 60
	}
	if cfg.Dialogue.NoVoiceGraceSeconds <= 0 {
		cfg.Dialogue.NoVoiceGraceSeconds = 15
	}
	if cfg.Dialogue.STTEndpointingMs <= 0 {
		cfg.Dialogue.STTEndpointingMs = 500
	}
	if cfg.Dialogue.STTUtteranceEndMs <= 0 {
		cfg.Dialogue.STTUtteranceEndMs = 2000
	}
}

// Validate checks cfg for coherent values, joining every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf(
			"server.log_level %q is invalid; valid values: debug, info, warn, error",
			cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	if cfg.Token.ActiveKeyID != "" {
		if _, ok := cfg.Token.Secrets[cfg.Token.ActiveKeyID]; !ok {
			errs = append(errs, fmt.Errorf(
				"token.active_key_id %q has no matching secret", cfg.Token.ActiveKeyID))
		}
	}
	if cfg.Token.GraceMinutes < 0 || cfg.Token.LeadMinutes < 0 {
		errs = append(errs, errors.New("token lead/grace minutes must not be negative"))
	}

	if cfg.Scheduling.Zone != "" {
		if _, err := time.LoadLocation(cfg.Scheduling.Zone); err != nil {
			slog.Warn("scheduling.zone not found in tzdata; falling back to fixed IST offset",
				"zone", cfg.Scheduling.Zone)
		}
	}

	if cfg.Proctoring.Enabled && cfg.Providers.Vision.Name == "" {
		errs = append(errs, errors.New("proctoring.enabled requires providers.vision"))
	}
	if cfg.Providers.Vision.Name == "onnx" && cfg.Providers.Vision.Model == "" {
		errs = append(errs, errors.New("providers.vision.model (onnx model path) is required"))
	}

	if cfg.Storage.Root == "" {
		slog.Warn("storage.root is empty; artifacts will not be persisted until STORAGE_ROOT is set")
	}
	if len(cfg.Token.Secrets) == 0 {
		slog.Warn("no token signing secrets configured; access tokens cannot be issued")
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party registration",
		"kind", kind, "name", name, "known", known)
}
