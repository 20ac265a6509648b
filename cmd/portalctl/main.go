// Command portalctl runs operational tasks against the portal's stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appconfig "github.com/portalsalud/portal-colaboradores/internal/config"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type app struct {
	cfg    *appconfig.Config
	logger *logging.Logger
	out    io.Writer
	asJSON bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{out: os.Stdout}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "portalctl",
		Short:        "Operational tooling for the collaborator portal",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if a.cfg == nil {
				a.cfg = appconfig.Load()
			}
			if a.logger == nil {
				a.logger = logging.New(a.cfg.LogLevel)
			}
			a.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		inspectSoportesCmd(a),
		onedriveCmd(a),
		codesCmd(a),
		outboxCmd(a),
		soportesCmd(a),
		notifyCmd(a),
	)
	return root
}

// print writes v as indented JSON when --json is set, otherwise via text.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}
