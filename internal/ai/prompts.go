package ai

import (
	"fmt"

	"github.com/google/uuid"
)

const configSystemPrompt = "You are an expert network engineer. Generate clean, production-ready " +
	"device configurations. Output only the configuration commands, without " +
	"markdown fences or commentary."

const validateSystemPrompt = "You are an expert network engineer reviewing device configurations. " +
	"Identify syntax errors, security issues and deviations from best practice. " +
	"Be specific and reference the offending lines."

func chatSystemPrompt(contextJSON string) string {
	return fmt.Sprintf(`You are NetPilot, an AI assistant for network automation and device management.
You help network engineers configure, monitor and troubleshoot their infrastructure.

Current network state:
%s

Answer concisely. When asked to produce configuration, output ready-to-apply commands.`, contextJSON)
}

func configPrompt(configType, paramsJSON string) string {
	return fmt.Sprintf(`Generate a %s configuration using these parameters:
%s

Requirements:
- Output only the configuration commands.
- Follow vendor best practices for the requested type.
- Include brief inline comments only where a value is a placeholder.`, configType, paramsJSON)
}

func validatePrompt(configContent, deviceType string) string {
	return fmt.Sprintf(`Review the following %s configuration. List any syntax errors,
security concerns and best-practice violations, then give an overall verdict.

Configuration:
%s`, deviceType, configContent)
}

func newSessionID() string {
	return "config-" + uuid.NewString()
}
