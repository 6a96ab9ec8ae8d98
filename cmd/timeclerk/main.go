package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"timeclerk/internal/channel"
	"timeclerk/internal/config"
	"timeclerk/internal/delivery"
	"timeclerk/internal/embedding"
	"timeclerk/internal/evaluator"
	"timeclerk/internal/executor"
	"timeclerk/internal/llm"
	"timeclerk/internal/logging"
	"timeclerk/internal/memory"
	"timeclerk/internal/orchestrator"
	"timeclerk/internal/planner"
	"timeclerk/internal/server"
	"timeclerk/internal/store"
	"timeclerk/internal/timesheet"
	"timeclerk/internal/types"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

var version = "0.1.0"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "timeclerk",
	Short: "timeclerk - conversational time tracking assistant",
	Long: `timeclerk answers questions about logged work time over SMS, email
and chat. Inbound messages are analyzed, answered from the time
tracking provider, formatted for the channel they arrived on, and
validated before delivery.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the inbound webhook server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inbound webhook server",
	Long: `Starts the HTTP server that channel providers post inbound messages
to. Each accepted message is acknowledged immediately and processed on
a detached conversation turn.`,
	RunE: runServe,
}

// askCmd runs one turn from the terminal
var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Answer one question locally and print the response",
	Long: `Runs a single conversation turn without a delivery gateway. The
formatted response parts are printed to stdout. Useful for trying out
procedures and channel policies.

Example:
  timeclerk ask --tenant acme --user u42 --channel sms "how many hours this week?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var (
	askTenant  string
	askUser    string
	askChannel string
	askCreds   string
)

// userCmd manages the sender directory
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the sender directory",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a directory entry",
	Long: `Maps an inbound (channel, address) pair to a tenant and user.
Messages from unmapped senders are rejected at the webhook.

Example:
  timeclerk user add --tenant acme --user u42 --channel sms --address +15551234567`,
	RunE: runUserAdd,
}

var (
	addTenant   string
	addUser     string
	addChannel  string
	addAddress  string
	addCreds    string
	addTimezone string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("timeclerk %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	askCmd.Flags().StringVar(&askTenant, "tenant", "local", "Tenant id")
	askCmd.Flags().StringVar(&askUser, "user", "local", "User id")
	askCmd.Flags().StringVar(&askChannel, "channel", "chat", "Channel policy to format for (sms, email, chat)")
	askCmd.Flags().StringVar(&askCreds, "credentials", "", "Provider credentials for the user")

	userAddCmd.Flags().StringVar(&addTenant, "tenant", "", "Tenant id (required)")
	userAddCmd.Flags().StringVar(&addUser, "user", "", "User id (required)")
	userAddCmd.Flags().StringVar(&addChannel, "channel", "", "Channel (required)")
	userAddCmd.Flags().StringVar(&addAddress, "address", "", "Sender address (required)")
	userAddCmd.Flags().StringVar(&addCreds, "credentials", "", "Provider credentials for the user")
	userAddCmd.Flags().StringVar(&addTimezone, "timezone", "UTC", "IANA timezone")

	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(serveCmd, askCmd, userCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg := config.Default()
	if key := os.Getenv("TIMECLERK_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("TIMECLERK_PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	return cfg, nil
}

// app holds everything a running command needs.
type app struct {
	cfg       *config.Config
	directory *store.Store
	memory    *memory.Store
	formatter *channel.Formatter
	watcher   *channel.PolicyWatcher
	orch      func(sender orchestrator.Sender) *orchestrator.Orchestrator
}

func buildApp(cfg *config.Config) (*app, error) {
	if verbose {
		cfg.Logging.DebugMode = true
	}
	if err := logging.Initialize(cfg.StateDir, cfg.Logging.ToLogging()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Get(logging.CategoryBoot).Info("timeclerk %s starting", version)

	client, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return nil, err
	}

	directory, err := store.Open(cfg.DirectoryDBPath())
	if err != nil {
		return nil, err
	}

	// Long-term memory needs a reachable embedding engine. When it is
	// not available the assistant still answers, just without recall.
	var mem *memory.Store
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	})
	if err != nil {
		logger.Warn("embedding engine unavailable, memory disabled", zap.Error(err))
	} else {
		var opts []memory.Option
		if cfg.Memory.RequireVec {
			opts = append(opts, memory.WithRequireVec())
		}
		if !cfg.Memory.QueryExpansion {
			opts = append(opts, memory.WithoutExpansion())
		}
		mem, err = memory.NewStore(cfg.MemoryDBPath(), engine, opts...)
		if err != nil {
			if cfg.Memory.RequireVec {
				return nil, err
			}
			logger.Warn("memory store unavailable, continuing without it", zap.Error(err))
			mem = nil
		}
	}

	table := channel.DefaultPolicyTable()
	if cfg.Channels.PolicyPath != "" {
		table, err = channel.LoadPolicyTable(cfg.Channels.PolicyPath)
		if err != nil {
			return nil, err
		}
	}
	formatter, err := channel.NewFormatter(table)
	if err != nil {
		return nil, err
	}
	var watcher *channel.PolicyWatcher
	if cfg.Channels.PolicyPath != "" && cfg.Channels.WatchPolicy {
		watcher, err = channel.NewPolicyWatcher(cfg.Channels.PolicyPath, formatter)
		if err != nil {
			logger.Warn("policy watcher unavailable", zap.Error(err))
		}
	}

	providerTimeout := 15 * time.Second
	if cfg.Provider.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Provider.Timeout); err == nil {
			providerTimeout = d
		}
	}
	tsClient := timesheet.NewClient(timesheet.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: providerTimeout,
	})
	tools := func(user types.User) (orchestrator.ToolRunner, error) {
		catalog, err := timesheet.BuildCatalog(tsClient, user)
		if err != nil {
			return nil, err
		}
		return executor.New(client, catalog), nil
	}

	plannerOpts := []planner.Option{}
	if mem != nil {
		plannerOpts = append(plannerOpts, planner.WithMemory(mem, cfg.Memory.RetrievalK))
	}
	plan := planner.New(client, plannerOpts...)
	validator := evaluator.New(client)

	a := &app{
		cfg:       cfg,
		directory: directory,
		memory:    mem,
		formatter: formatter,
		watcher:   watcher,
	}
	a.orch = func(sender orchestrator.Sender) *orchestrator.Orchestrator {
		var memorizer orchestrator.Memorizer
		if mem != nil {
			memorizer = mem
		}
		return orchestrator.New(plan, tools, formatter, validator, sender, directory, memorizer)
	}
	return a, nil
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.memory != nil {
		_ = a.memory.Close()
	}
	_ = a.directory.Close()
	logging.CloseAll()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcher := delivery.NewDispatcher(cfg.Delivery)
	srv := server.New(cfg.Server.Addr, a.directory, a.orch(dispatcher))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving", zap.String("addr", cfg.Server.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	message := strings.Join(args, " ")
	ch := types.Channel(strings.ToLower(askChannel))
	if _, ok := a.formatter.Policy(ch); !ok {
		return fmt.Errorf("no channel policy for %q", askChannel)
	}

	user := types.User{
		TenantID:    askTenant,
		UserID:      askUser,
		Address:     "console",
		Credentials: askCreds,
	}
	history, err := a.directory.RecentTurns(user.TenantID, user.UserID, types.HistoryWindow)
	if err != nil {
		logger.Warn("failed to load history", zap.Error(err))
	}

	req := types.ConversationRequest{
		RequestID:     uuid.New().String(),
		TenantID:      user.TenantID,
		UserID:        user.UserID,
		Channel:       ch,
		SenderAddress: user.Address,
		Message:       message,
		History:       history,
		Now:           time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	out := a.orch(consoleSender{}).Run(ctx, req, user)
	if !out.Delivered {
		return fmt.Errorf("turn failed: %s", out.Err)
	}
	if out.Graceful {
		fmt.Fprintln(os.Stderr, "(degraded response)")
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	if addTenant == "" || addUser == "" || addChannel == "" || addAddress == "" {
		return fmt.Errorf("--tenant, --user, --channel and --address are required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	directory, err := store.Open(cfg.DirectoryDBPath())
	if err != nil {
		return err
	}
	defer directory.Close()

	u := types.User{
		TenantID:    addTenant,
		UserID:      addUser,
		Address:     addAddress,
		Credentials: addCreds,
		Timezone:    addTimezone,
	}
	if err := directory.UpsertUser(u, types.Channel(strings.ToLower(addChannel))); err != nil {
		return err
	}
	fmt.Printf("✓ %s/%s mapped to %s:%s\n", addTenant, addUser, addChannel, addAddress)
	return nil
}

// consoleSender prints response parts to stdout for the ask command.
type consoleSender struct{}

func (consoleSender) Has(ch types.Channel) bool { return true }

func (c consoleSender) Deliver(ctx context.Context, destination string, resp types.FormattedResponse) (types.DeliveryReceipt, error) {
	parts := resp.Parts
	if !resp.IsSplit {
		parts = []string{resp.Content}
	}
	for i, part := range parts {
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Println(part)
	}
	return types.DeliveryReceipt{ExternalMessageID: uuid.New().String(), Status: "printed"}, nil
}
