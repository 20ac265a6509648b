package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/portalsalud/portal-colaboradores/cmd/mainconfig"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
)

var errNoTransition = errors.New("radicado has no state changes to notify")

type radicadoSource interface {
	GetByNumero(ctx context.Context, numero string) (*radicacion.Radicado, error)
	History(ctx context.Context, id string) ([]radicacion.HistorialEntry, error)
}

type noticeSender interface {
	NotifyRadicadoCreado(ctx context.Context, evt events.RadicadoCreadoV1) (notify.Result, error)
	NotifyEstadoCambiado(ctx context.Context, evt events.RadicadoEstadoCambiadoV1) (notify.Result, error)
}

// resendNotice sends the filing receipt again, or with estado the notice
// for the radicado's latest state change. Delivery is synchronous and skips
// the job queue.
func resendNotice(ctx context.Context, rads radicadoSource, sender noticeSender, numero string, estado bool) (notify.Result, error) {
	rad, err := rads.GetByNumero(ctx, numero)
	if err != nil {
		return notify.Result{}, err
	}
	if !estado {
		return sender.NotifyRadicadoCreado(ctx, radicacion.CreatedEvent(rad))
	}
	history, err := rads.History(ctx, rad.ID)
	if err != nil {
		return notify.Result{}, err
	}
	evt, ok := radicacion.LatestTransitionEvent(rad, history)
	if !ok {
		return notify.Result{}, errNoTransition
	}
	return sender.NotifyEstadoCambiado(ctx, evt)
}

func notifyCmd(a *app) *cobra.Command {
	var estado bool
	radicado := &cobra.Command{
		Use:   "radicado <numero>",
		Short: "Resend a radicado's receipt or latest state notice right away",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var cl closers
			defer cl.run()
			pool, err := a.pool(ctx, &cl)
			if err != nil {
				return err
			}
			awsCfg, err := mainconfig.LoadAWSConfig(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			svc, err := mainconfig.BuildNotifyService(ctx, a.cfg, awsCfg, nil, a.logger)
			if err != nil {
				return err
			}
			rads := radicacion.NewService(radicacion.NewPostgresRepository(pool), a.logger)

			res, sendErr := resendNotice(ctx, rads, svc, args[0], estado)
			if len(res.Outcomes) > 0 {
				if err := a.print(res, func(w io.Writer) { writeResult(w, res) }); err != nil {
					return err
				}
			}
			return sendErr
		},
	}
	radicado.Flags().BoolVar(&estado, "estado", false, "send the latest state change notice instead of the receipt")

	cmd := &cobra.Command{Use: "notify", Short: "Notification delivery"}
	cmd.AddCommand(radicado)
	return cmd
}

func writeResult(w io.Writer, res notify.Result) {
	for _, o := range res.Outcomes {
		status := "ok"
		if !o.OK {
			status = "FAILED " + o.Error
		}
		fmt.Fprintf(w, "%-6s %-30s %s\n", o.Channel, o.Recipient, status)
	}
}
