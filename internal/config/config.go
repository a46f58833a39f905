package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Locale  LocaleConfig
	Speech  SpeechConfig
	Redis   RedisConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Backend: backend,
		Locale:  LocaleConfig{DefaultLanguage: getEnvOrDefault("KISAN_DEFAULT_LANGUAGE", "hi")},
		Speech:  speech,
		Redis:   redis,
		Log:     logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := parseListEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// BackendConfig 描述助手后端的地址。
type BackendConfig struct {
	BaseURL     string
	FarmerID    string
	AudioFormat string
}

func loadBackendConfig() (BackendConfig, error) {
	base := getEnvOrDefault("KISAN_BACKEND_URL", "http://localhost:8000/api")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return BackendConfig{}, fmt.Errorf("invalid KISAN_BACKEND_URL value %q", base)
	}
	return BackendConfig{
		BaseURL:     strings.TrimRight(base, "/"),
		FarmerID:    strings.TrimSpace(os.Getenv("KISAN_FARMER_ID")),
		AudioFormat: getEnvOrDefault("KISAN_AUDIO_FORMAT", "webm"),
	}, nil
}

// LocaleConfig 描述界面语言。
type LocaleConfig struct {
	DefaultLanguage string
}

// SpeechConfig 描述语音合成相关配置。
type SpeechConfig struct {
	AppID        string
	AccessToken  string
	APIKey       string
	Endpoint     string
	VoiceHindi   string
	VoiceEnglish string
	Speed        float32
	Volume       float32
	Timeout      int
	AutoSpeak    bool
	Enabled      bool
}

// Model 转换为语音合成客户端使用的配置。
func (c SpeechConfig) Model() *speechmodel.SpeechConfig {
	voices := map[string]string{}
	if c.VoiceHindi != "" {
		voices["hi-IN"] = c.VoiceHindi
	}
	if c.VoiceEnglish != "" {
		voices["en-IN"] = c.VoiceEnglish
	}
	return &speechmodel.SpeechConfig{
		AppID:        c.AppID,
		AccessToken:  c.AccessToken,
		APIKey:       c.APIKey,
		Endpoint:     c.Endpoint,
		DefaultVoice: c.VoiceHindi,
		Voices:       voices,
		Speed:        c.Speed,
		Volume:       c.Volume,
		Timeout:      c.Timeout,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	autoSpeak, err := parseBoolEnv("SPEECH_AUTO_SPEAK", true)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = apiKey
	}

	return SpeechConfig{
		AppID:        appID,
		AccessToken:  accessToken,
		APIKey:       apiKey,
		Endpoint:     getEnvOrDefault("SPEECH_TTS_ENDPOINT", ""),
		VoiceHindi:   getEnvOrDefault("SPEECH_TTS_VOICE_HI", ""),
		VoiceEnglish: getEnvOrDefault("SPEECH_TTS_VOICE_EN", "en_default"),
		Speed:        ttsSpeed,
		Volume:       ttsVolume,
		Timeout:      timeoutSeconds,
		AutoSpeak:    autoSpeak,
		Enabled:      appID != "" && accessToken != "",
	}, nil
}

// RedisConfig 描述偏好存储。Addr 为空时使用内存存储。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled 表示是否配置了 Redis 服务。
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func loadRedisConfig() (RedisConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return RedisConfig{}, err
	}
	cfg := RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if db != nil {
		if *db < 0 {
			return RedisConfig{}, fmt.Errorf("invalid REDIS_DB value %d", *db)
		}
		cfg.DB = *db
	}
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig() (LogConfig, error) {
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q", level)
	}
	return LogConfig{Level: level, Development: dev}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
