// Package config provides configuration types and utilities for the
// orchestrator: LLM providers, tool repositories, session transport and
// the ambient logging/audit settings.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level, validated configuration for a running
// orchestrator process.
type Config struct {
	Server  ServerConfig          `yaml:"server"`
	LLMs    map[string]LLMConfig  `yaml:"llms"`
	Tools   ToolConfigs           `yaml:"tools"`
	Session SessionConfig         `yaml:"session"`
	Logging LoggingConfig         `yaml:"logging"`
	Audit   AuditConfig           `yaml:"audit"`
	Agent   AgentRuntimeConfig    `yaml:"agent"`
	Workspace WorkspaceConfig     `yaml:"workspace"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm provider %q: %w", name, err)
		}
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

// SetDefaults fills in zero-config defaults, mirroring the teacher's
// zero-config philosophy (every sub-config knows its own sane defaults).
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	for name := range c.LLMs {
		llm := c.LLMs[name]
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
	c.Tools.SetDefaults()
	c.Session.SetDefaults()
	c.Logging.SetDefaults()
	c.Audit.SetDefaults()
	c.Agent.SetDefaults()
	c.Workspace.SetDefaults()
}

// ServerConfig configures the session transport listener (§6 External Interfaces).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// LLMConfig configures a single LLM Gateway (C2) provider.
type LLMConfig struct {
	Type        string  `yaml:"type"` // "anthropic", "openai"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// ThinkingBudgetTokens enables extended-reasoning streaming (§4.1 Planning)
	// when non-zero.
	ThinkingBudgetTokens int `yaml:"thinking_budget_tokens"`
}

func (c *LLMConfig) Validate() error {
	switch c.Type {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported llm type %q", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Type == "anthropic" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for anthropic")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func (c *LLMConfig) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// ToolConfigs configures the Tool Registry (C1).
type ToolConfigs struct {
	Repositories []ToolRepositoryConfig `yaml:"repositories"`
}

func (c *ToolConfigs) Validate() error {
	seen := make(map[string]bool)
	for _, r := range c.Repositories {
		if r.Name == "" {
			return fmt.Errorf("repository name is required")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate repository name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

func (c *ToolConfigs) SetDefaults() {
	if len(c.Repositories) == 0 {
		c.Repositories = []ToolRepositoryConfig{
			{Name: "google-workspace", Service: "google-workspace"},
			{Name: "business-data", Service: "1c-odata"},
			{Name: "project-lad", Service: "project-lad"},
			{Name: "sandbox", Service: "code-runner"},
		}
	}
}

// ToolRepositoryConfig names a group of related tools and the backend
// service they speak to (mirrors the teacher's ToolRepository).
type ToolRepositoryConfig struct {
	Name    string            `yaml:"name"`
	Service string            `yaml:"service"`
	BaseURL string            `yaml:"base_url"`
	Options map[string]string `yaml:"options"`
}

// SessionConfig configures the Session Store (C4).
type SessionConfig struct {
	// Backend selects the SessionStore implementation: "memory" or "redis".
	Backend     string        `yaml:"backend"`
	RedisAddr   string        `yaml:"redis_addr"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxEntityMemory int       `yaml:"max_entity_memory"`
	MaxHistoryMessages int    `yaml:"max_history_messages"`
}

func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported session backend %q", c.Backend)
	}
	if c.Backend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for redis backend")
	}
	return nil
}

func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.MaxEntityMemory == 0 {
		c.MaxEntityMemory = 200
	}
	if c.MaxHistoryMessages == 0 {
		c.MaxHistoryMessages = 1000
	}
}

// LoggingConfig configures the ambient slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// AuditConfig configures the optional append-only audit sink (§6 Persisted state).
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

func (c *AuditConfig) Validate() error {
	if c.Enabled && c.DSN == "" {
		return fmt.Errorf("dsn is required when audit is enabled")
	}
	return nil
}

func (c *AuditConfig) SetDefaults() {
	if c.DSN == "" {
		c.DSN = "file:orchestrator_audit.db?cache=shared"
	}
}

// AgentRuntimeConfig governs orchestration-wide behavior for C7/C8.
type AgentRuntimeConfig struct {
	DefaultLLM               string        `yaml:"default_llm"`
	PlanningThinkingBudget   int           `yaml:"planning_thinking_budget"`
	StepMaxHistoryMessages   int           `yaml:"step_max_history_messages"`
	ApprovalTimeout          time.Duration `yaml:"approval_timeout"`
	AssistanceTimeout        time.Duration `yaml:"assistance_timeout"`
	ApprovalPollInterval     time.Duration `yaml:"approval_poll_interval"`
	ToolResultTruncateChars  int           `yaml:"tool_result_truncate_chars"`
	ReactMaxIterations       int           `yaml:"react_max_iterations"`
	SubscriberWaitTimeout    time.Duration `yaml:"subscriber_wait_timeout"`
	SubscriberPollInterval   time.Duration `yaml:"subscriber_poll_interval"`
	SandboxWallClockLimit    time.Duration `yaml:"sandbox_wall_clock_limit"`
}

func (c *AgentRuntimeConfig) Validate() error {
	if c.ReactMaxIterations <= 0 {
		return fmt.Errorf("react_max_iterations must be positive")
	}
	return nil
}

func (c *AgentRuntimeConfig) SetDefaults() {
	if c.PlanningThinkingBudget == 0 {
		c.PlanningThinkingBudget = 3000
	}
	if c.StepMaxHistoryMessages == 0 {
		c.StepMaxHistoryMessages = 10
	}
	if c.ApprovalTimeout == 0 {
		c.ApprovalTimeout = 300 * time.Second
	}
	if c.AssistanceTimeout == 0 {
		c.AssistanceTimeout = 300 * time.Second
	}
	if c.ApprovalPollInterval == 0 {
		c.ApprovalPollInterval = 500 * time.Millisecond
	}
	if c.ToolResultTruncateChars == 0 {
		c.ToolResultTruncateChars = 2000
	}
	if c.ReactMaxIterations == 0 {
		c.ReactMaxIterations = 10
	}
	if c.SubscriberWaitTimeout == 0 {
		c.SubscriberWaitTimeout = 5 * time.Second
	}
	if c.SubscriberPollInterval == 0 {
		c.SubscriberPollInterval = 100 * time.Millisecond
	}
	if c.SandboxWallClockLimit == 0 {
		c.SandboxWallClockLimit = 30 * time.Second
	}
}

// WorkspaceConfig points at the optional workspace-folder descriptor file
// consumed by the Planner/Step Orchestrator (§6 Configuration).
type WorkspaceConfig struct {
	FolderDescriptorPath string `yaml:"folder_descriptor_path"`
}

func (c *WorkspaceConfig) SetDefaults() {}
