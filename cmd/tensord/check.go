package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tensord/internal/backend"
	"tensord/internal/engine"
	"tensord/internal/manager"
	"tensord/internal/repository"
)

func newCheckCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "check <model-dir>",
		Short:   "Parse a model's configuration, compile its latest version and print its ports",
		Example: "  tensord check ./models/proj",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(os.Stderr, g.logLevel, g.logFormat)
			if err != nil {
				return err
			}
			newCore, _, err := coreFactory(g.engine, g.onnxLib)
			if err != nil {
				return err
			}
			return checkModel(cmd.OutOrStdout(), args[0], newCore, log)
		},
	}
}

// checkModel runs a model through the same bring-up a load performs and
// prints what the compiled graph exposes.
func checkModel(w io.Writer, dir string, newCore manager.CoreFactory, log zerolog.Logger) error {
	mdl, err := repository.LoadModel(dir)
	if err != nil {
		return err
	}
	core, err := newCore()
	if err != nil {
		return err
	}
	b, err := backend.NewBinder(backend.BinderConfig{
		Model:   mdl.Config,
		Dir:     mdl.Dir,
		Version: mdl.Served(),
		Core:    core,
		Logger:  log,
	})
	if err != nil {
		_ = core.Close()
		return err
	}
	defer b.Close()

	inst, err := backend.NewInstance(b, backend.InstanceConfig{Name: mdl.Name + "_check", Kind: backend.KindCPU, Logger: log})
	if err != nil {
		return err
	}
	defer inst.Close()
	cg, _, err := b.Compiled(inst.Device())
	if err != nil {
		return err
	}

	flags := b.Flags()
	fmt.Fprintf(w, "model:          %s\n", mdl.Name)
	fmt.Fprintf(w, "version:        %d\n", mdl.Served())
	fmt.Fprintf(w, "artifact:       %s\n", b.ArtifactPath())
	fmt.Fprintf(w, "max_batch_size: %d\n", mdl.Config.MaxBatchSize)
	fmt.Fprintf(w, "batch_padding:  %t\n", flags.BatchPadding)
	fmt.Fprintf(w, "reshape_io:     %t\n", flags.ReshapeIO)
	printSorted(w, "option:         ", b.Options(inst.Device()))
	if d, ok := core.(engine.Describer); ok {
		printSorted(w, "device:         ", d.Describe(inst.Device()))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tNAME\tDATATYPE\tSHAPE")
	printPorts(tw, "input", cg.Inputs())
	printPorts(tw, "output", cg.Outputs())
	return tw.Flush()
}

func printPorts(w io.Writer, kind string, ports []engine.Port) {
	for _, p := range ports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, p.Name, p.DataType, p.Shape)
	}
}

func printSorted(w io.Writer, label string, kv map[string]string) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s%s=%s\n", label, k, kv[k])
	}
}
