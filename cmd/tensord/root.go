package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tensord/internal/engine"
	"tensord/internal/engine/onnx"
	"tensord/internal/engine/refgraph"
	"tensord/internal/manager"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalOptions struct {
	logLevel  string
	logFormat string
	engine    string
	onnxLib   string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{
		logLevel:  envStr("TENSORD_LOG_LEVEL", "info"),
		logFormat: envStr("TENSORD_LOG_FORMAT", "console"),
		engine:    envStr("TENSORD_ENGINE", "refgraph"),
		onnxLib:   os.Getenv("TENSORD_ONNX_LIB"),
	}
	root := &cobra.Command{
		Use:           "tensord",
		Short:         "Batched tensor inference server over a model repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", g.logLevel, "Log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", g.logFormat, "Log format: console|json")
	pf.StringVar(&g.engine, "engine", g.engine, "Execution engine: refgraph|onnx")
	pf.StringVar(&g.onnxLib, "onnx-lib", g.onnxLib, "Path to the ONNX Runtime shared library (engine onnx)")

	root.AddCommand(newServeCmd(g), newCheckCmd(g), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tensord %s (onnx runtime linked: %t)\n", version, onnx.Built)
			return nil
		},
	}
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want console or json)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// coreFactory resolves the engine name to a constructor for per-model cores.
func coreFactory(name, onnxLib string) (manager.CoreFactory, string, error) {
	switch strings.ToLower(name) {
	case "", "refgraph":
		return func() (engine.Core, error) { return refgraph.New(), nil }, "refgraph", nil
	case "onnx":
		return func() (engine.Core, error) { return onnx.New(onnxLib) }, "onnx", nil
	default:
		return nil, "", fmt.Errorf("unknown engine %q (want refgraph or onnx)", name)
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
