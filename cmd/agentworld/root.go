package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yysun/agent-world-sub009/config"
	"github.com/yysun/agent-world-sub009/logging"
	"github.com/yysun/agent-world-sub009/storage"
	"github.com/yysun/agent-world-sub009/unifiedllm"
	"github.com/yysun/agent-world-sub009/world"
)

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "agentworld",
		Short:        "Host an agent world and chat with it from the terminal",
		SilenceUsage: true,
	}

	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newWorldsCmd())
	cmd.AddCommand(newVersionCmd(version))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}
	return cmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if version == "" {
				version = "dev"
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newWorldsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "worlds",
		Short: "List worlds stored in the database and their agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			ids, err := store.ListWorlds(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, infoStyle.Render("no stored worlds"))
				return nil
			}
			for _, id := range ids {
				states, err := store.ListAgentStates(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, agentStyle.Render(id))
				for _, st := range states {
					calls := 0
					for _, n := range st.LLMCalls {
						calls += n
					}
					fmt.Fprintf(out, "  @%s %s/%s · %d chats · %d llm calls\n", st.ID, st.Provider, st.Model, len(st.LLMCalls), calls)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "agentworld.yaml", "Path to the world config (missing file uses defaults)")
	return cmd
}

func newChatCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the world's agents on stdin",
		Long: `Reads lines from stdin and sends them as human messages to the selected chat.

Commands:
  /approve <tool_call_id> [once|session]   approve a pending tool call
  /deny <tool_call_id>                     deny a pending tool call
  /pending                                 list pending tool calls
  /new                                     start a new chat
  /quit                                    exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			h, err := openHost(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer h.close()

			if chatID == "" {
				chatID = h.world.NewChatID()
			}
			s := newChatSession(h.world, chatID, cmd.OutOrStdout())
			unsubscribe := h.world.Subscribe(s.handleEvent)
			defer unsubscribe()

			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "agentworld.yaml", "Path to the world config (missing file uses defaults)")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat id to join (default: a new chat)")
	return cmd
}

// host owns everything a chat command opens.
type host struct {
	store   *storage.Store
	client  *unifiedllm.Client
	manager *world.Manager
	world   *world.World
	logger  *zap.Logger
}

func openHost(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*host, error) {
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	policy := unifiedllm.DefaultRetryPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying llm call", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	keys := map[string]string{"openai": cfg.APIKey("openai"), "anthropic": cfg.APIKey("anthropic")}
	client := unifiedllm.NewClientFromKeys(keys,
		unifiedllm.WithLogger(logger),
		unifiedllm.WithCallQueue(unifiedllm.NewCallQueue(cfg.LLM.MaxConcurrentCalls)),
		unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(policy), unifiedllm.LoggingMiddleware(logger)),
		unifiedllm.WithStreamMiddleware(unifiedllm.StreamLoggingMiddleware(logger)),
	)
	if len(client.Providers()) == 0 {
		logger.Warn("no llm provider configured; set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}

	manager := world.NewManager(store, world.NewUnifiedProvider(client, cfg.LLM.Stream), logger,
		world.WithMetrics(world.NewMetrics(prometheus.NewRegistry())))

	agents := make([]world.AgentConfig, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, world.AgentConfig{
			ID:           a.ID,
			Name:         a.Name,
			Provider:     a.Provider,
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			Temperature:  a.Temperature,
		})
	}
	w, err := manager.CreateWorld(ctx, world.Config{
		ID:               cfg.World.ID,
		Name:             cfg.World.Name,
		TurnLimit:        cfg.World.TurnLimit,
		MaxIterations:    cfg.World.MaxIterations,
		WorkingDirectory: cfg.World.WorkingDirectory,
		CommandTimeout:   time.Duration(cfg.World.CommandTimeoutMs) * time.Millisecond,
	}, agents)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, err
	}
	return &host{store: store, client: client, manager: manager, world: w, logger: logger}, nil
}

func (h *host) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.manager.Close(ctx); err != nil {
		h.logger.Warn("closing worlds", zap.Error(err))
	}
	usage := h.client.TotalUsage()
	h.logger.Info("llm usage",
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Int("total_tokens", usage.TotalTokens))
	_ = h.client.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Warn("closing store", zap.Error(err))
	}
}
