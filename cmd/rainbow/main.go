// Package main is the entry point for the Rainbow CLI.
// Rainbow runs the Rainbow City agent: a tool-using model turn with
// uncertainty-triggered web search, served over HTTP or asked from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rainbowcity/rainbow/internal/config"
	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/metrics"
	"github.com/rainbowcity/rainbow/internal/orchestrator"
	"github.com/rainbowcity/rainbow/internal/store"
)

var (
	version = "0.1.0"
	cfgPath string
	envPath string
	verbose bool
	cfg     *config.Config
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rainbow",
		Short: "Rainbow City agent orchestration core",
		Long: `Rainbow runs the Rainbow City agent.

Each turn asks the model once with the registered tools, searches the web
when the first answer sounds unsure, dispatches any tool calls and asks
again for the final answer.`,
		PersistentPreRunE: initialize,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.rainbow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Rainbow v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(configCmd())

	err := rootCmd.Execute()
	if log != nil {
		log.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// initialize loads the environment file and configuration, then sets up logging.
func initialize(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = loaded

	log = logging.New(loggingConfig(cfg.Logging, verbose))
	logging.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Debug("[Rainbow] Configuration loaded from %s", getConfigPath())
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return filepath.Join(config.Default().GetDataDir(), "config.yaml")
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat agent over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr != "" {
				cfg.Server.Addr = addr
			}

			st, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			db, pruner, err := st.openStore()
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			if pruner != nil {
				pruner.Start()
				defer pruner.Stop()
			}

			log.Info("[Rainbow] Serving with %d tools, search %s", st.registry.Len(), onOff(st.augmenter != nil))
			return st.newServer(db).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var (
		sessionID string
		showStats bool
		plain     bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run a single turn and print the answer",
		Long: `Run a single turn and print the answer.

Examples:
  rainbow ask "Generate an AI-ID for my new assistant Iris"
  rainbow ask --session demo "What's the weather in Lisbon?"
  rainbow ask --stats "Who won the most recent Tour de France?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			st, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			req := orchestrator.Request{SessionID: sessionID, UserID: "cli", UserMessage: question}

			var db *store.Store
			if sessionID != "" {
				if db, _, err = st.openStore(); err != nil {
					return fmt.Errorf("open history store: %w", err)
				}
				if req.PriorHistory, err = db.LoadHistory(ctx, sessionID, 40); err != nil {
					return err
				}
			}

			res, runErr := st.agent.Run(ctx, req)
			if res == nil {
				return runErr
			}
			if db != nil {
				if _, err := db.SaveHistory(ctx, sessionID, req.UserID, res.History); err != nil {
					log.Warn("[Rainbow] Save history for %s failed: %v", sessionID, err)
				}
			}

			printAnswer(res, plain)
			if showStats {
				printStats(res, st.collector)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue a stored session")
	cmd.Flags().BoolVar(&showStats, "stats", false, "show turn statistics after the answer")
	cmd.Flags().BoolVar(&plain, "plain", false, "print raw text without markdown rendering")
	return cmd
}

var (
	toolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func printAnswer(res *orchestrator.Result, plain bool) {
	for _, tc := range res.ToolCalls {
		status := "ok"
		if tc.Failed {
			status = "failed"
		}
		fmt.Println(toolStyle.Render("⚙ "+tc.Name) + dimStyle.Render(" ("+status+") "+tc.ResultSummary))
	}
	if res.SearchUsed {
		fmt.Println(dimStyle.Render("🔎 searched: " + res.SearchQuery))
	}

	if plain {
		fmt.Println(res.AssistantText)
		return
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(res.AssistantText)
		return
	}
	out, err := renderer.Render(res.AssistantText)
	if err != nil {
		fmt.Println(res.AssistantText)
		return
	}
	fmt.Print(out)
}

func printStats(res *orchestrator.Result, collector *metrics.Collector) {
	usage := res.Usage()
	fmt.Println(dimStyle.Render(fmt.Sprintf("turn %s │ %d passes │ %d tokens │ %s │ %s",
		res.TurnID, len(res.Passes), usage.TotalTokens, res.Duration.Round(time.Millisecond), strings.Join(stateNames(res), " → "))))

	// The collector consumes bus events asynchronously.
	time.Sleep(50 * time.Millisecond)
	dash := metrics.NewDashboard(collector)
	dash.SetWidth(60)
	fmt.Println(dash.Render())
}

func stateNames(res *orchestrator.Result) []string {
	names := make([]string, len(res.States))
	for i, s := range res.States {
		names[i] = string(s)
	}
	return names
}

// ═══════════════════════════════════════════════════════════════════════════════
// TOOLS COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			for def := range st.registry.Definitions() {
				fmt.Println(toolStyle.Render(def.Name))
				fmt.Printf("  %s\n", def.Description)
				for name, prop := range def.Parameters.Properties {
					fmt.Println(dimStyle.Render(fmt.Sprintf("    %s (%s) %s", name, prop.Type, prop.Description)))
				}
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			fmt.Println("Rainbow Configuration:")
			fmt.Println("──────────────────────")
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	})

	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
