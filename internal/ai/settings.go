package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"netpilot/internal/storage"
)

const (
	SectionLLM        = "llm"
	SectionRAG        = "rag"
	SectionAgentic    = "agentic"
	SectionEmbeddings = "embeddings"
	SectionCore       = "core"
)

// Sections lists the persisted settings groups exposed by the settings API.
// The rag, agentic and embeddings groups are stored verbatim and drive no
// runtime behavior yet.
var Sections = []string{SectionLLM, SectionRAG, SectionAgentic, SectionEmbeddings, SectionCore}

type LLMSettings struct {
	PrimaryLLM    string  `json:"primary_llm"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	TopP          float64 `json:"top_p"`
	FallbackLLM   string  `json:"fallback_llm"`
	RetryAttempts int     `json:"retry_attempts"`
	TimeoutSecs   int     `json:"timeout_settings"`
}

type CoreSettings struct {
	DefaultChatProvider      string `json:"default_chat_provider"`
	DefaultConfigGenProvider string `json:"default_config_generation_provider"`
	ResponseTimeout          int    `json:"response_timeout"`
	ConcurrentRequests       int    `json:"concurrent_requests"`
	CacheEnabled             bool   `json:"cache_enabled"`
	CacheDuration            int    `json:"cache_duration"`
	LogAllOperations         bool   `json:"log_all_operations"`
}

func DefaultLLMSettings() LLMSettings {
	return LLMSettings{
		PrimaryLLM:    "gpt-4",
		Temperature:   0.7,
		MaxTokens:     2000,
		TopP:          1.0,
		FallbackLLM:   "gpt-3.5-turbo",
		RetryAttempts: 3,
		TimeoutSecs:   120,
	}
}

func DefaultCoreSettings() CoreSettings {
	return CoreSettings{
		DefaultChatProvider:      "groq",
		DefaultConfigGenProvider: "groq",
		ResponseTimeout:          120,
		ConcurrentRequests:       5,
		CacheEnabled:             true,
		CacheDuration:            3600,
		LogAllOperations:         true,
	}
}

// DefaultSection returns the default JSON document for a settings section.
func DefaultSection(section string) (string, error) {
	var v any
	switch section {
	case SectionLLM:
		v = DefaultLLMSettings()
	case SectionCore:
		v = DefaultCoreSettings()
	case SectionRAG:
		v = map[string]any{
			"documentation_enabled": true,
			"similarity_threshold":  0.7,
			"max_retrieved_chunks":  5,
			"chunk_size":            1024,
			"overlap_percentage":    20,
		}
	case SectionAgentic:
		v = map[string]any{
			"planning_agent_enabled":  true,
			"execution_agent_enabled": true,
			"auto_execution_enabled":  false,
			"rollback_capability":     true,
		}
	case SectionEmbeddings:
		v = map[string]any{
			"text_embeddings_model": "text-embedding-ada-002",
			"dimensions":            1536,
			"batch_size":            64,
		}
	default:
		return "", fmt.Errorf("unknown settings section %q", section)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal default %s settings: %w", section, err)
	}
	return string(b), nil
}

func KnownSection(section string) bool {
	for _, s := range Sections {
		if s == section {
			return true
		}
	}
	return false
}

func (s *Service) loadLLMSettings(ctx context.Context) LLMSettings {
	out := DefaultLLMSettings()
	row, err := s.store.GetSetting(ctx, SectionLLM)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("failed to load llm settings, using defaults")
		}
		return out
	}
	if err := json.Unmarshal([]byte(row.ValueJSON), &out); err != nil {
		s.logger.Warn().Err(err).Msg("malformed llm settings, using defaults")
		return DefaultLLMSettings()
	}
	return out
}

func (s *Service) loadCoreSettings(ctx context.Context) CoreSettings {
	out := DefaultCoreSettings()
	row, err := s.store.GetSetting(ctx, SectionCore)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("failed to load core settings, using defaults")
		}
		return out
	}
	if err := json.Unmarshal([]byte(row.ValueJSON), &out); err != nil {
		s.logger.Warn().Err(err).Msg("malformed core settings, using defaults")
		return DefaultCoreSettings()
	}
	return out
}
