package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/portalsalud/portal-colaboradores/cmd/mainconfig"
	"github.com/portalsalud/portal-colaboradores/internal/codes"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/soportes"
)

// errInconsistent makes inspect-soportes exit non-zero without repeating the report.
var errInconsistent = errors.New("soportes out of sync with storage")

func inspectSoportesCmd(a *app) *cobra.Command {
	var numero string
	cmd := &cobra.Command{
		Use:   "inspect-soportes",
		Short: "Compare a radicado's soporte rows with the objects in storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cl closers
			defer cl.run()
			svc, err := a.soportesService(cmd.Context(), &cl, false)
			if err != nil {
				return err
			}
			report, err := svc.Inspect(cmd.Context(), numero)
			if err != nil {
				return err
			}
			if err := a.print(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
				return err
			}
			if !report.Consistent() {
				return errInconsistent
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&numero, "radicado", "", "radicado number, e.g. RAD-20260115-000042")
	_ = cmd.MarkFlagRequired("radicado")
	return cmd
}

func writeReport(w io.Writer, r *soportes.InspectReport) {
	fmt.Fprintf(w, "radicado %s (%s)\n", r.Numero, r.RadicadoID)
	fmt.Fprintf(w, "  rows:    %d\n", r.Rows)
	fmt.Fprintf(w, "  objects: %d\n", r.Objects)
	for _, m := range r.Missing {
		fmt.Fprintf(w, "  missing object: %s %s (%s)\n", m.ID, m.NombreArchivo, m.StorageKey)
	}
	for _, key := range r.Orphans {
		fmt.Fprintf(w, "  orphan object:  %s\n", key)
	}
	if r.Consistent() {
		fmt.Fprintln(w, "  ok")
	}
}

func onedriveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "onedrive", Short: "OneDrive maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete-folder <path>",
		Short: "Delete a folder from the portal drive; a missing folder is not an error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := mainconfig.BuildOneDrive(a.cfg, a.logger)
			if err != nil {
				return err
			}
			if drive == nil {
				return errors.New("onedrive is not configured")
			}
			res, err := drive.DeleteFolder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				switch {
				case res.AlreadyAbsent:
					fmt.Fprintf(w, "%s was already absent\n", res.Path)
				default:
					fmt.Fprintf(w, "deleted %s\n", res.Path)
				}
			})
		},
	})
	return cmd
}

func codesCmd(a *app) *cobra.Command {
	var (
		catalog string
		batch   int
	)
	reindex := &cobra.Command{
		Use:   "reindex",
		Short: "Embed catalog entries that have no vector yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := codes.ParseCatalog(catalog)
			if err != nil {
				return err
			}
			var cl closers
			defer cl.run()
			pool, err := a.pool(cmd.Context(), &cl)
			if err != nil {
				return err
			}
			gem, err := a.gemini(cmd.Context(), &cl)
			if err != nil {
				return err
			}
			n, err := codes.NewService(codes.NewStore(pool), gem, a.logger).Reindex(cmd.Context(), c, batch)
			if err != nil {
				return err
			}
			return a.print(map[string]any{"catalog": c, "updated": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d entries embedded\n", c, n)
			})
		},
	}
	reindex.Flags().StringVar(&catalog, "catalog", "", "cie10, cups or medicamentos")
	reindex.Flags().IntVar(&batch, "batch", 100, "entries per embedding request")
	_ = reindex.MarkFlagRequired("catalog")

	cmd := &cobra.Command{Use: "codes", Short: "Code catalog maintenance"}
	cmd.AddCommand(reindex)
	return cmd
}

func outboxCmd(a *app) *cobra.Command {
	var batch int32
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Deliver one batch of pending outbox events to the notification queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cl closers
			defer cl.run()
			d, err := a.deliverer(cmd.Context(), &cl, batch)
			if err != nil {
				return err
			}
			res, err := d.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) { writeDrain(w, res) })
		},
	}
	drain.Flags().Int32Var(&batch, "batch", 100, "maximum entries to deliver")

	cmd := &cobra.Command{Use: "outbox", Short: "Event outbox maintenance"}
	cmd.AddCommand(drain)
	return cmd
}

func writeDrain(w io.Writer, res events.DrainResult) {
	fmt.Fprintf(w, "fetched %d, delivered %d, failed %d\n", res.Fetched, res.Delivered, res.Failed)
}

func soportesCmd(a *app) *cobra.Command {
	var limit int
	pending := &cobra.Command{
		Use:   "ocr-pending",
		Short: "Run OCR over soportes still waiting for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cl closers
			defer cl.run()
			svc, err := a.soportesService(cmd.Context(), &cl, true)
			if err != nil {
				return err
			}
			n, err := svc.ProcessPending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.print(map[string]int{"processed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d soportes processed\n", n)
			})
		},
	}
	pending.Flags().IntVar(&limit, "limit", 50, "maximum soportes to process")

	cmd := &cobra.Command{Use: "soportes", Short: "Soporte maintenance"}
	cmd.AddCommand(pending)
	return cmd
}
