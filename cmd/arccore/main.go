package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/metisos/arccore/internal/bench"
	"github.com/metisos/arccore/internal/bus"
	"github.com/metisos/arccore/internal/channel"
	"github.com/metisos/arccore/internal/config"
	"github.com/metisos/arccore/internal/pipeline"
	"github.com/metisos/arccore/internal/train"
)

// ChatOptions for running the chat loop with custom dependencies.
type ChatOptions struct {
	Core   *pipeline.Core
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "arccore",
	Short: "arccore - continual learning engine with gated memory",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in single message or REPL mode",
	RunE:  runChat,
}

var teachCmd = &cobra.Command{
	Use:   "teach <pack.jsonl>",
	Short: "Train an adapter on a teaching pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeach,
}

var benchCmd = &cobra.Command{
	Use:   "bench <suite.jsonl>",
	Short: "Run a benchmark suite and print metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start channels and the consolidation scheduler",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show arccore status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(chatCmd, teachCmd, benchCmd, serveCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadCore() (*pipeline.Core, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return pipeline.NewCore(cfg)
}

func runChat(cmd *cobra.Command, args []string) error {
	core, err := loadCore()
	if err != nil {
		return err
	}
	defer core.Close()
	return runChatWithOptions(ChatOptions{Core: core})
}

// runChatWithOptions runs the chat loop with injectable dependencies for
// testing.
func runChatWithOptions(opts ChatOptions) error {
	core := opts.Core
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()

	if messageFlag != "" {
		result, err := core.Interact(ctx, messageFlag)
		if err != nil {
			return fmt.Errorf("interaction error: %w", err)
		}
		fmt.Fprintln(stdout, result.Response)
		return nil
	}

	fmt.Fprintln(stdout, "arccore chat (commands: teach <q> | <a>, stats, save, quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case input == "exit" || input == "quit":
			return nil

		case input == "stats":
			printStatus(stdout, core.Status())

		case input == "save":
			report, err := core.Consolidate()
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(stdout, "consolidated: %d concepts created, %d strengthened, %d episodes absorbed\n",
				report.ConceptsCreated, report.ConceptsStrengthened, report.EpisodesAbsorbed)

		case strings.HasPrefix(input, "teach "):
			q, a, ok := strings.Cut(strings.TrimPrefix(input, "teach "), "|")
			if !ok {
				fmt.Fprintln(stderr, "usage: teach <question> | <answer>")
				continue
			}
			pack := &train.TeachingPack{
				Name:  "chat",
				Train: []train.Sample{{Input: strings.TrimSpace(q), Output: strings.TrimSpace(a)}},
			}
			result, err := core.Teach(ctx, pack)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(stdout, "learned (%d steps, final loss %.4f)\n", result.StepsRun, result.FinalLoss)

		default:
			result, err := core.Interact(ctx, input)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(stdout, result.Response)
			for _, note := range result.Annotations {
				fmt.Fprintf(stdout, "  [%s]\n", note)
			}
		}
	}
	return nil
}

func runTeach(cmd *cobra.Command, args []string) error {
	core, err := loadCore()
	if err != nil {
		return err
	}
	defer core.Close()

	result, err := core.TeachFile(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("teach: %w", err)
	}

	fmt.Printf("Pack: %s\n", result.PackName)
	fmt.Printf("Steps: %d\n", result.StepsRun)
	fmt.Printf("Final loss: %.4f\n", result.FinalLoss)
	fmt.Printf("Penalty contribution: %.4f\n", result.PenaltyContribution)
	if result.EarlyStopped {
		fmt.Println("Early stopped: yes")
	}
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	core, err := loadCore()
	if err != nil {
		return err
	}
	defer core.Close()

	records, err := bench.LoadSuite(args[0])
	if err != nil {
		return err
	}

	runner := bench.NewRunner(core, core.Engine(), core.Status().Model)
	metrics, err := runner.Run(context.Background(), records)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	core, err := pipeline.NewCore(cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.StartConsolidator(ctx)

	b := bus.NewMessageBus(100)
	if cfg.Telegram.Enabled {
		tg, err := channel.NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		if err := tg.Start(ctx); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		defer tg.Stop()
	}

	channel.NewDispatcher(core, b).Run(ctx)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.DefaultPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Save(config.Default(), cfgPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set ARCCORE_PROVIDER_APIKEY / ANTHROPIC_API_KEY")
	fmt.Println("  3. Run 'arccore chat -m \"Hello\"' to test")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.DefaultPath())
	fmt.Printf("Model: %s\n", cfg.Model.Name)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if key := cfg.Provider.APIKey; len(key) > 8 {
		fmt.Printf("API Key: %s...%s\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set (offline echo generator)")
	}
	fmt.Printf("Memory DB: %s\n", cfg.Memory.DBPath)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Telegram.Enabled)

	core, err := pipeline.NewCore(cfg)
	if err != nil {
		fmt.Printf("Engine: error (%v)\n", err)
		return nil
	}
	defer core.Close()

	printStatus(os.Stdout, core.Status())
	return nil
}

func printStatus(w io.Writer, st pipeline.CoreStatus) {
	fmt.Fprintf(w, "Working memory: %d/%d\n", st.Memory.Working, st.Memory.WorkingCapacity)
	fmt.Fprintf(w, "Episodic memory: %d/%d (%d pending consolidation)\n",
		st.Memory.Episodic, st.Memory.EpisodicCap, st.Memory.PendingEpisodes)
	fmt.Fprintf(w, "Semantic concepts: %d\n", st.Memory.Semantic)
	fmt.Fprintf(w, "Packs taught: %d\n", st.PacksTaught)
	fmt.Fprintf(w, "Importance: %d tasks, mean %.4f, max %.4f\n",
		st.Importance.Tasks, st.Importance.Mean, st.Importance.Max)
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}
