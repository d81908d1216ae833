package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"netpilot/internal/crypto"
	"netpilot/internal/metrics"
	"netpilot/internal/providers"
	"netpilot/internal/providers/fallback"
	"netpilot/internal/providers/registry"
	"netpilot/internal/queue"
	"netpilot/internal/storage"
)

const (
	DefaultUserID = "default_user"

	contextWindow = 10

	unavailableReply = "I apologize, but I'm experiencing technical difficulties connecting to AI services. " +
		"Please check your API configuration in the settings page and try again later."
)

// fallbackPriority orders the remaining providers after the configured
// default. Mirrors key availability priority: cheapest and fastest first.
var fallbackPriority = []string{
	registry.NameGroq,
	registry.NameOpenRouter,
	registry.NameOpenAI,
	registry.NameAnthropic,
}

type Service struct {
	store       *storage.Store
	keyring     *crypto.Keyring
	cache       *queue.ResponseCache
	httpClient  *http.Client
	envKeys     map[string]string
	baseURLs    map[string]string
	maxRetries  int
	backoffBase time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

type Config struct {
	Store      *storage.Store
	Keyring    *crypto.Keyring
	Cache      *queue.ResponseCache
	HTTPClient *http.Client
	EnvKeys    map[string]string
	// BaseURLs overrides the registry defaults per provider name.
	BaseURLs    map[string]string
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.EnvKeys == nil {
		cfg.EnvKeys = map[string]string{}
	}
	return &Service{
		store:       cfg.Store,
		keyring:     cfg.Keyring,
		cache:       cfg.Cache,
		httpClient:  cfg.HTTPClient,
		envKeys:     cfg.EnvKeys,
		baseURLs:    cfg.BaseURLs,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		logger:      cfg.Logger,
		metrics:     m,
	}
}

type ChatResult struct {
	Reply     string
	MessageID string
	SessionID string
	Provider  string
}

// Chat persists the user message, routes the prompt through the configured
// provider order, and persists the assistant reply. A total provider failure
// still persists the exchange and returns a canned unavailable reply.
func (s *Service) Chat(ctx context.Context, userID, sessionID, message string) (ChatResult, error) {
	s.metrics.ChatRequests.Inc()

	history, err := s.store.RecentSessionMessages(ctx, userID, sessionID, contextWindow)
	if err != nil {
		return ChatResult{}, err
	}

	if _, err := s.store.SaveConversation(ctx, storage.Conversation{
		SessionID: sessionID,
		UserID:    userID,
		Role:      "user",
		Content:   message,
	}); err != nil {
		return ChatResult{}, err
	}

	llm := s.loadLLMSettings(ctx)
	core := s.loadCoreSettings(ctx)

	req := providers.ChatRequest{
		SystemPrompt: s.chatSystemPrompt(ctx, userID),
		History:      reverseHistory(history),
		UserPrompt:   message,
		MaxTokens:    llm.MaxTokens,
		Temperature:  llm.Temperature,
	}

	reply := unavailableReply
	providerName := ""
	router, err := s.buildRouter(ctx, core.DefaultChatProvider)
	if err != nil {
		s.logger.Error().Err(err).Msg("no chat providers available")
	} else {
		res, err := router.Chat(ctx, req)
		if err != nil {
			s.logger.Error().Err(err).Msg("all chat providers failed")
		} else {
			reply = strings.TrimSpace(res.Text)
			providerName = res.Provider
			if reply == "" {
				reply = "Provider returned an empty response."
			}
		}
	}

	meta := "{}"
	if providerName != "" {
		meta = fmt.Sprintf(`{"provider":%q}`, providerName)
	}
	row, err := s.store.SaveConversation(ctx, storage.Conversation{
		SessionID: sessionID,
		UserID:    userID,
		Role:      "assistant",
		Content:   reply,
		MetaJSON:  meta,
	})
	if err != nil {
		return ChatResult{}, err
	}

	return ChatResult{
		Reply:     reply,
		MessageID: row.ID,
		SessionID: sessionID,
		Provider:  providerName,
	}, nil
}

type ConfigResult struct {
	Configuration string
	SessionID     string
	Cached        bool
}

// GenerateConfig produces a device configuration from structured parameters.
// Low temperature keeps the output stable enough to cache.
func (s *Service) GenerateConfig(ctx context.Context, userID, configType string, params map[string]any, deviceID string) (ConfigResult, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return ConfigResult{}, fmt.Errorf("marshal config params: %w", err)
	}

	core := s.loadCoreSettings(ctx)
	if core.CacheEnabled && s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, "generate-config", configType, string(paramsJSON)); err != nil {
			s.logger.Warn().Err(err).Msg("response cache read failed")
		} else if ok {
			return ConfigResult{Configuration: cached, SessionID: s.logConfigExchange(ctx, userID, configType, string(paramsJSON), cached, deviceID), Cached: true}, nil
		}
	}

	prompt := configPrompt(configType, string(paramsJSON))
	text, err := s.generate(ctx, core.DefaultConfigGenProvider, providers.ChatRequest{
		SystemPrompt: configSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    2000,
		Temperature:  0.3,
	})
	if err != nil {
		return ConfigResult{}, err
	}

	if core.CacheEnabled && s.cache != nil {
		if err := s.cache.Set(ctx, text, "generate-config", configType, string(paramsJSON)); err != nil {
			s.logger.Warn().Err(err).Msg("response cache write failed")
		}
	}

	sessionID := s.logConfigExchange(ctx, userID, configType, string(paramsJSON), text, deviceID)
	return ConfigResult{Configuration: text, SessionID: sessionID}, nil
}

type ValidationResult struct {
	Status    string `json:"status"`
	Analysis  string `json:"analysis"`
	Timestamp string `json:"timestamp"`
}

func (s *Service) ValidateConfig(ctx context.Context, userID, configContent, deviceType string) (ValidationResult, error) {
	core := s.loadCoreSettings(ctx)
	text, err := s.generate(ctx, core.DefaultConfigGenProvider, providers.ChatRequest{
		SystemPrompt: validateSystemPrompt,
		UserPrompt:   validatePrompt(configContent, deviceType),
		MaxTokens:    1500,
		Temperature:  0.2,
	})
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		Status:    "analyzed",
		Analysis:  text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// TestConnection exercises a provider with a throwaway prompt and key.
func (s *Service) TestConnection(ctx context.Context, providerName, apiKey string) error {
	if !registry.Known(providerName) {
		return fmt.Errorf("unsupported provider %q", providerName)
	}
	p, err := registry.Build(registry.BuildOptions{
		Name:        providerName,
		BaseURL:     s.baseURLs[providerName],
		APIKey:      apiKey,
		HTTPClient:  s.httpClient,
		BackoffBase: s.backoffBase,
	})
	if err != nil {
		return err
	}
	_, err = p.Chat(ctx, providers.ChatRequest{
		Model:      registry.DefaultModels[providerName],
		UserPrompt: "Test connection",
		MaxTokens:  5,
	})
	return err
}

// generate runs a one-shot prompt through the fallback router.
func (s *Service) generate(ctx context.Context, primary string, req providers.ChatRequest) (string, error) {
	router, err := s.buildRouter(ctx, primary)
	if err != nil {
		return "", err
	}
	res, err := router.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("provider %s returned an empty response", res.Provider)
	}
	return text, nil
}

// buildRouter assembles the fallback order: the configured primary first,
// then every other provider with a usable key in fixed priority order.
func (s *Service) buildRouter(ctx context.Context, primary string) (*fallback.Router, error) {
	order := make([]string, 0, len(fallbackPriority)+1)
	if registry.Known(primary) {
		order = append(order, primary)
	}
	for _, name := range fallbackPriority {
		if name != primary {
			order = append(order, name)
		}
	}

	candidates := make([]fallback.Candidate, 0, len(order))
	for _, name := range order {
		key := s.resolveKey(ctx, name)
		if key == "" {
			continue
		}
		p, err := registry.Build(registry.BuildOptions{
			Name:        name,
			BaseURL:     s.baseURLs[name],
			APIKey:      key,
			HTTPClient:  s.httpClient,
			MaxRetries:  s.maxRetries,
			BackoffBase: s.backoffBase,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("provider", name).Msg("skipping provider")
			continue
		}
		candidates = append(candidates, fallback.Candidate{
			Name:     name,
			Model:    registry.DefaultModels[name],
			Provider: p,
		})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no providers configured with api keys")
	}
	return fallback.NewRouter(candidates, s.logger, s.metrics), nil
}

// resolveKey prefers a key stored via the settings API, falling back to the
// process environment.
func (s *Service) resolveKey(ctx context.Context, providerName string) string {
	row, err := s.store.ActiveAPIKeyForService(ctx, providerName)
	if err == nil && s.keyring != nil {
		key, err := s.keyring.Open(row.EncKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("provider", providerName).Msg("failed to decrypt stored api key")
		} else if strings.TrimSpace(key) != "" {
			return key
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn().Err(err).Str("provider", providerName).Msg("failed to load stored api key")
	}
	return s.envKeys[providerName]
}

func (s *Service) logConfigExchange(ctx context.Context, userID, configType, paramsJSON, output, deviceID string) string {
	sessionID := newSessionID()
	if _, err := s.store.SaveConversation(ctx, storage.Conversation{
		SessionID: sessionID,
		UserID:    userID,
		Role:      "user",
		Content:   fmt.Sprintf("Generate %s configuration with parameters: %s", configType, paramsJSON),
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist config request")
	}
	meta := fmt.Sprintf(`{"config_type":%q}`, configType)
	if _, err := s.store.SaveConversation(ctx, storage.Conversation{
		SessionID: sessionID,
		UserID:    userID,
		Role:      "assistant",
		Content:   output,
		MetaJSON:  meta,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist config response")
	}

	op := storage.Operation{
		Kind:    "generate_config",
		Status:  storage.OperationSuccess,
		Command: fmt.Sprintf("generate %s %s", configType, paramsJSON),
		Result:  truncateRunes(output, 4000),
	}
	if strings.TrimSpace(deviceID) != "" {
		op.DeviceID = &deviceID
	}
	if _, err := s.store.CreateOperation(ctx, op); err != nil {
		s.logger.Warn().Err(err).Msg("failed to log config operation")
	}
	return sessionID
}

// chatSystemPrompt embeds a live inventory summary so the assistant can
// answer questions about the managed network.
func (s *Service) chatSystemPrompt(ctx context.Context, userID string) string {
	type deviceSummary struct {
		Name   string `json:"name"`
		IP     string `json:"ip"`
		Model  string `json:"model"`
		Status string `json:"status"`
	}
	type opSummary struct {
		Kind   string `json:"type"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load devices for system context")
	}
	ops, err := s.store.ListOperations(ctx, 5)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load operations for system context")
	}

	summary := struct {
		Devices          []deviceSummary `json:"devices"`
		RecentOperations []opSummary     `json:"recent_operations"`
		TotalDevices     int             `json:"total_devices"`
		OnlineDevices    int             `json:"online_devices"`
	}{
		Devices:          make([]deviceSummary, 0, len(devices)),
		RecentOperations: make([]opSummary, 0, len(ops)),
		TotalDevices:     len(devices),
	}
	for _, d := range devices {
		summary.Devices = append(summary.Devices, deviceSummary{Name: d.Name, IP: d.IPAddress, Model: d.Model, Status: d.Status})
		if d.Status == storage.DeviceStatusOnline {
			summary.OnlineDevices++
		}
	}
	for _, op := range ops {
		summary.RecentOperations = append(summary.RecentOperations, opSummary{Kind: op.Kind, Status: op.Status, Error: op.ErrorMessage})
	}

	ctxJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		ctxJSON = []byte("{}")
	}
	return chatSystemPrompt(string(ctxJSON))
}

func reverseHistory(rows []storage.Conversation) []providers.Message {
	out := make([]providers.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, providers.Message{Role: rows[i].Role, Content: rows[i].Content})
	}
	return out
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
