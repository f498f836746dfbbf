package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/llm"
)

// llmConfig builds the model backend configuration from config/env. The
// Anthropic key falls back to ANTHROPIC_API_KEY.
func llmConfig() llm.Config {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return llm.Config{
		Provider: viper.GetString("llm.provider"),
		Model:    viper.GetString("llm.model"),
		Host:     viper.GetString("llm.host"),
		APIKey:   apiKey,
		Timeout:  viper.GetDuration("llm.timeout"),
	}
}

// newLLMBackend creates the configured model backend.
func newLLMBackend() (llm.Backend, error) {
	return llm.New(llmConfig())
}
