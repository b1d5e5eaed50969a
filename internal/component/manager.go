// Package component wires every configured collaborator into a single
// running process: the LLM Gateway, Tool Registry (with its workspace,
// business-data, Project Lad, and sandbox sources), Session Store, Event Bus (optionally
// wrapped for audit), Classifier, Planner, Analyzer, Metrics Registry and
// both orchestrators' dependency bundles, grounded on the teacher's
// component/manager.go ComponentManager (construct-once, getter-only
// registries). The teacher's plugin discovery/loading machinery
// (plugins.PluginRegistry, plugingrpc.GRPCLoader) has no counterpart here:
// the specification has no pluggable-provider concept, so it is dropped
// rather than adapted (see DESIGN.md).
package component

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmind/orchestrator/internal/agent"
	"github.com/flowmind/orchestrator/internal/analyzer"
	"github.com/flowmind/orchestrator/internal/audit"
	"github.com/flowmind/orchestrator/internal/classifier"
	"github.com/flowmind/orchestrator/internal/config"
	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/llm"
	"github.com/flowmind/orchestrator/internal/metrics"
	"github.com/flowmind/orchestrator/internal/orchestrator"
	"github.com/flowmind/orchestrator/internal/planner"
	"github.com/flowmind/orchestrator/internal/session"
	"github.com/flowmind/orchestrator/internal/tool"
	"github.com/flowmind/orchestrator/internal/tool/bizdata"
	"github.com/flowmind/orchestrator/internal/tool/projectlad"
	"github.com/flowmind/orchestrator/internal/tool/sandbox"
	"github.com/flowmind/orchestrator/internal/tool/workspace"
)

// Manager owns every long-lived component of a running orchestrator
// process and hands out the Agent Wrapper as the single front door.
type Manager struct {
	cfg *config.Config

	llmGateway   *llm.Gateway
	toolRegistry *tool.Registry
	sessionStore session.Store
	bus          eventbus.Publisher
	rawBus       *eventbus.Bus
	auditSink    *audit.Sink
	classifier   *classifier.Classifier
	planner      *planner.Planner
	analyzer     *analyzer.Analyzer
	metrics      *metrics.Registry
	wrapper      *agent.Wrapper

	logger *slog.Logger
}

// New builds every component from cfg. registerer is the Prometheus
// registerer metrics are registered against (pass prometheus.NewRegistry()
// in tests to avoid the default registry's duplicate-registration panics).
func New(ctx context.Context, cfg *config.Config, registerer prometheus.Registerer, logger *slog.Logger) (*Manager, error) {
	m := &Manager{cfg: cfg, logger: logger}

	m.metrics = metrics.New(registerer)

	if err := m.buildLLMGateway(); err != nil {
		return nil, fmt.Errorf("component: llm gateway: %w", err)
	}

	if err := m.buildToolRegistry(ctx); err != nil {
		return nil, fmt.Errorf("component: tool registry: %w", err)
	}

	if err := m.buildSessionStore(); err != nil {
		return nil, fmt.Errorf("component: session store: %w", err)
	}

	if err := m.buildEventBus(); err != nil {
		return nil, fmt.Errorf("component: event bus: %w", err)
	}

	defaultProvider, err := m.llmGateway.Default()
	if err != nil {
		return nil, fmt.Errorf("component: default llm provider: %w", err)
	}
	m.classifier = classifier.New(defaultProvider)
	m.planner = planner.New(defaultProvider)
	m.analyzer = analyzer.New(defaultProvider)

	m.wrapper = agent.New(agent.Deps{
		Bus:        m.bus,
		Store:      m.sessionStore,
		Classifier: m.classifier,
		Planner:    m.planner,
		Analyzer:   m.analyzer,
		Tools:      m.toolRegistry,
		Provider:   defaultProvider,
		Metrics:    m.metrics,

		SubscriberWaitTimeout:  cfg.Agent.SubscriberWaitTimeout,
		SubscriberPollInterval: cfg.Agent.SubscriberPollInterval,

		StepOrchestratorDeps: orchestrator.StepDeps{
			Bus:                m.bus,
			Provider:           defaultProvider,
			Tools:              m.toolRegistry,
			Planner:            m.planner,
			Metrics:            m.metrics,
			MaxHistoryMessages: cfg.Agent.StepMaxHistoryMessages,
			ToolResultTruncate: cfg.Agent.ToolResultTruncateChars,
			PlanningThinking:   cfg.Agent.PlanningThinkingBudget,

			ApprovalTimeout:        cfg.Agent.ApprovalTimeout,
			ApprovalPollInterval:   cfg.Agent.ApprovalPollInterval,
			AssistanceTimeout:      cfg.Agent.AssistanceTimeout,
			AssistancePollInterval: cfg.Agent.ApprovalPollInterval,
		},
		ReactOrchestratorDeps: orchestrator.ReactDeps{
			Bus:           m.bus,
			Provider:      defaultProvider,
			Tools:         m.toolRegistry,
			Analyzer:      m.analyzer,
			Metrics:       m.metrics,
			MaxIterations: cfg.Agent.ReactMaxIterations,
		},
	})

	return m, nil
}

func (m *Manager) buildLLMGateway() error {
	if len(m.cfg.LLMs) == 0 {
		return fmt.Errorf("at least one llm provider must be configured")
	}
	defaultKey := m.cfg.Agent.DefaultLLM
	if defaultKey == "" {
		for name := range m.cfg.LLMs {
			defaultKey = name
			break
		}
	}
	gateway := llm.NewGateway(defaultKey)
	for name, llmCfg := range m.cfg.LLMs {
		var (
			provider llm.Provider
			err      error
		)
		switch llmCfg.Type {
		case "anthropic":
			provider, err = llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: llmCfg.Model,
				MaxTokens: llmCfg.MaxTokens, Temperature: llmCfg.Temperature,
				ThinkingBudgetTokens: llmCfg.ThinkingBudgetTokens,
			})
		case "openai":
			provider, err = llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: llmCfg.Model,
				MaxTokens: llmCfg.MaxTokens, Temperature: llmCfg.Temperature,
			})
		default:
			return fmt.Errorf("unsupported llm type %q for provider %q", llmCfg.Type, name)
		}
		if err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
		if err := gateway.Register(name, provider); err != nil {
			return err
		}
	}
	m.llmGateway = gateway
	return nil
}

// buildToolRegistry registers the four source kinds named in spec.md §3's
// Tool data model (workspace, business data, Project Lad, sandbox), each
// gated on its repository being present in configuration.
func (m *Manager) buildToolRegistry(ctx context.Context) error {
	registry := tool.NewRegistry()
	for _, repo := range m.cfg.Tools.Repositories {
		var src tool.Source
		switch repo.Service {
		case "google-workspace":
			src = workspace.New(repo.BaseURL, nil)
		case "1c-odata":
			src = bizdata.New(repo.BaseURL, nil)
		case "project-lad":
			src = projectlad.New(repo.BaseURL, nil)
		case "code-runner":
			src = sandbox.New(m.cfg.Agent.SandboxWallClockLimit)
		default:
			return fmt.Errorf("unsupported tool repository service %q", repo.Service)
		}
		if err := registry.RegisterSource(ctx, src); err != nil {
			return fmt.Errorf("repository %q: %w", repo.Name, err)
		}
	}
	m.toolRegistry = registry
	return nil
}

func (m *Manager) buildSessionStore() error {
	switch m.cfg.Session.Backend {
	case "redis":
		m.sessionStore = session.NewRedisStore(m.cfg.Session.RedisAddr, m.cfg.Session.IdleTimeout)
	case "memory", "":
		m.sessionStore = session.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported session backend %q", m.cfg.Session.Backend)
	}
	return nil
}

// buildEventBus wraps the raw Bus in an AuditedBus decorator when
// auditing is enabled in configuration, otherwise exposes the Bus
// directly (both satisfy eventbus.Publisher).
func (m *Manager) buildEventBus() error {
	m.rawBus = eventbus.New()
	if !m.cfg.Audit.Enabled {
		m.bus = m.rawBus
		return nil
	}
	sink, err := audit.Open(m.cfg.Audit.DSN)
	if err != nil {
		return fmt.Errorf("opening audit sink: %w", err)
	}
	m.auditSink = sink
	m.bus = audit.Wrap(m.rawBus, sink, m.logger)
	return nil
}

// Wrapper returns the process-wide Agent Wrapper (C9), the only entry
// point the session transport layer needs.
func (m *Manager) Wrapper() *agent.Wrapper { return m.wrapper }

// Bus returns the Event Bus (or its audited decorator) that the Agent
// Wrapper and orchestrators publish through.
func (m *Manager) Bus() eventbus.Publisher { return m.bus }

// RawBus exposes the concrete Bus for Subscribe/Unsubscribe, which are
// not part of the Publisher interface (only Publish/HasSubscriber are).
func (m *Manager) RawBus() *eventbus.Bus { return m.rawBus }

// Metrics returns the shared metrics bundle, registered against the
// registerer passed to New.
func (m *Manager) Metrics() *metrics.Registry { return m.metrics }

// SessionStore exposes the store for session-creation handlers.
func (m *Manager) SessionStore() session.Store { return m.sessionStore }

// Close shuts down every component holding external resources.
func (m *Manager) Close() error {
	var firstErr error
	if err := m.llmGateway.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if m.auditSink != nil {
		if err := m.auditSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
