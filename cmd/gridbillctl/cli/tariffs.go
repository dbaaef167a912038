package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/shared"
	"github.com/gridbill/gridbill/internal/tariff"
)

func newTariffsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tariffs",
		Short: "Manage tariff categories",
	}
	cmd.AddCommand(newTariffsImportCmd())
	return cmd
}

func newTariffsImportCmd() *cobra.Command {
	var (
		dryRun bool
		dsn    string
	)

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create categories and replace their band sets from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			file, err := tariff.ParseImport(f)
			if err != nil {
				return err
			}
			categories, err := file.Categories()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				for _, c := range categories {
					fmt.Fprintf(out, "%s\t%s\t%d bands\n", c.Code, c.Name, len(c.Bands))
				}
				return nil
			}

			if dsn == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				dsn = cfg.PGDSN
			}
			ctx := shared.ContextWithPrincipal(cmd.Context(), &shared.Principal{Subject: "gridbillctl"})
			pool, err := db.New(ctx, dsn, db.PoolOptions{ApplicationName: "gridbillctl", MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := tariff.NewService(tariff.NewRepository(pool), shared.NewAuditLogger(pool))
			result, err := svc.Import(ctx, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "created: %s\n", strings.Join(result.Created, ", "))
			fmt.Fprintf(out, "replaced: %s\n", strings.Join(result.Replaced, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to PG_DSN)")
	return cmd
}
