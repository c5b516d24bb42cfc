package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"lecker/internal/browser"
	"lecker/internal/config"
	"lecker/internal/formatter"
	"lecker/internal/markdown"
	"lecker/internal/pipeline"
)

var version = "dev"

var (
	verbose       bool
	configFile    string
	outputFormat  string
	outputFile    string
	timeout       time.Duration
	settleTimeout time.Duration
	quietWindow   time.Duration
	retries       int
	selector      string
	engine        string
	showUI        bool
	proxyURL      string
	fallbackProxy string
	width         int
	height        int
	minText       int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:     "lecker [URL]",
		Short:   "Fetch a rendered web page as clean markdown",
		Version: version,
		Long: `lecker loads a page in a headless browser, waits for dynamic content to
settle, selects the main content and prints it as markdown, ready to be pasted
into a prompt.`,
		Example: `  # Print an article as markdown
  lecker example.com/blog/post

  # Show progress and mark pages that did not finish loading
  lecker -v https://example.com

  # Restrict extraction to a CSS selector and save as JSON
  lecker -s "article.post" -o page.json https://example.com

  # Download a browser before first use
  lecker setup`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				os.Exit(0)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	def := config.Default()
	flags := rootCmd.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVarP(&configFile, "config", "c", "", "Config file (YAML or JSON)")
	flags.StringVarP(&outputFormat, "format", "f", def.Format, "Output format (markdown, json)")
	flags.StringVarP(&outputFile, "output", "o", "", "Output file path (format inferred from extension if -f not specified)")
	flags.DurationVarP(&timeout, "timeout", "t", def.Pipeline.Settle.NavigationTimeout, "Navigation timeout")
	flags.DurationVar(&settleTimeout, "settle-timeout", def.Pipeline.Settle.Timeout, "Max time to wait for dynamic content before capturing a partial page")
	flags.DurationVar(&quietWindow, "quiet-window", def.Pipeline.Settle.QuietWindow, "Network idle time that counts as settled")
	flags.IntVar(&retries, "retries", def.Pipeline.Retries, "Extra attempts after a navigation failure or timeout")
	flags.StringVarP(&selector, "selector", "s", "", "CSS selector for the content region (skips the heuristic)")
	flags.StringVar(&engine, "engine", def.Pipeline.Engine, fmt.Sprintf("Markdown engine %v", markdown.Names()))
	flags.BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "Proxy URL (e.g. http://127.0.0.1:7890), defaults to LECKER_PROXY env var")
	flags.StringVar(&fallbackProxy, "fallback-proxy", "", "Proxy used for retries after the first attempt failed")
	flags.IntVar(&width, "width", def.Pipeline.Browser.ViewportWidth, "Viewport width")
	flags.IntVar(&height, "height", def.Pipeline.Browser.ViewportHeight, "Viewport height")
	flags.IntVar(&minText, "min-text", def.Pipeline.Extract.MinTextLength, "Minimum text length of a content block")

	rootCmd.AddCommand(&cobra.Command{
		Use:          "setup",
		Short:        "Locate or download the browser used for fetching",
		Args:         cobra.NoArgs,
		RunE:         setup,
		SilenceUsage: true,
	})
	return rootCmd
}

func setupLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

// loadConfig resolves defaults, config file, environment and flags, in
// increasing order of precedence.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		fc, err := config.LoadFile(configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		fc.Apply(&cfg)
	}
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}

	p := &cfg.Pipeline
	changed := cmd.Flags().Changed
	if changed("verbose") {
		cfg.Verbose = verbose
	}
	if changed("format") {
		cfg.Format = outputFormat
	}
	if changed("output") {
		cfg.Output = outputFile
	}
	if changed("timeout") {
		p.Settle.NavigationTimeout = timeout
	}
	if changed("settle-timeout") {
		p.Settle.Timeout = settleTimeout
	}
	if changed("quiet-window") {
		p.Settle.QuietWindow = quietWindow
	}
	if changed("retries") {
		p.Retries = retries
	}
	if changed("selector") {
		p.Extract.Selector = selector
	}
	if changed("engine") {
		p.Engine = engine
	}
	if changed("showui") {
		p.Browser.Headless = !showUI
	}
	if changed("proxy") {
		p.Browser.ProxyURL = proxyURL
	}
	if changed("fallback-proxy") {
		p.FallbackProxy = fallbackProxy
	}
	if changed("width") {
		p.Browser.ViewportWidth = width
	}
	if changed("height") {
		p.Browser.ViewportHeight = height
	}
	if changed("min-text") {
		p.Extract.MinTextLength = minText
	}

	// If output file is specified but format is not, infer format from file extension
	if cfg.Output != "" && !changed("format") {
		if inferred := formatter.InferFormat(cfg.Output); inferred != "" {
			cfg.Format = inferred
		}
	}
	return cfg, validate(cfg)
}

func validate(cfg config.Config) error {
	validFormats := map[string]bool{}
	for _, f := range formatter.Formats {
		validFormats[f] = true
	}
	if !validFormats[cfg.Format] {
		return fmt.Errorf("invalid output format: %s", cfg.Format)
	}
	if _, ok := markdown.Get(cfg.Pipeline.Engine); !ok {
		return fmt.Errorf("invalid markdown engine: %s", cfg.Pipeline.Engine)
	}
	if cfg.Pipeline.Retries < 0 {
		return fmt.Errorf("--retries must not be negative")
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(cfg.Pipeline, log.Logger)
	if err != nil {
		return err
	}
	result, err := p.Run(ctx, pipeline.Request{RawInput: args[0], Verbose: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("fetching %s: %w", args[0], err)
	}

	outputContent, err := formatter.Format(result, cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if cfg.Output != "" {
		if err := os.WriteFile(cfg.Output, []byte(outputContent), 0644); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", cfg.Output)
	} else {
		fmt.Print(outputContent)
		if cfg.Format == "json" {
			fmt.Println()
		}
	}

	log.Debug().
		Str("title", result.Title).
		Str("final_url", result.FinalURL).
		Int("attempts", result.Attempts).
		Bool("partial", result.Partial).
		Dur("load_time", result.LoadTime).
		Msg("done")
	return nil
}

func setup(cmd *cobra.Command, args []string) error {
	setupLogging(true)
	path, err := browser.Install(cmd.Context())
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Browser found at: %s\n", path)
	fmt.Fprintln(os.Stderr, "Setup completed successfully!")
	return nil
}
