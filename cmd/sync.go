package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/ingest"
	"github.com/fiscalflow/fiscalflow/internal/model"
	"github.com/fiscalflow/fiscalflow/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect document sync",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync documents from the distribution feed",
	Long:  "Resumes each company from its last successful NSU cursor and drains the feed until caught up.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		all, _ := cmd.Flags().GetBool("all")
		companyFlag, _ := cmd.Flags().GetString("company")

		var companies []model.Company
		switch {
		case all:
			companies, err = e.store.ListCompanies(ctx)
			if err != nil {
				return err
			}
			if len(companies) == 0 {
				return eris.New("no companies registered")
			}
		case companyFlag != "":
			c, err := resolveCompany(ctx, e.store, companyFlag)
			if err != nil {
				return err
			}
			companies = []model.Company{*c}
		default:
			return eris.New("pass --company <id|cnpj> or --all")
		}

		var failed int
		for _, c := range companies {
			res, err := e.runner.Run(ctx, c.ID)
			if err != nil {
				failed++
				zap.L().Error("sync failed",
					zap.String("company_tax_id", c.TaxID),
					zap.Error(err))
				if ctx.Err() != nil {
					break
				}
				continue
			}
			fmt.Printf("%s: %d synced, %d already known, %d failed, cursor at %d\n",
				c.TaxID, res.DocumentsSynced, res.SkippedExisting, res.Failures, res.LastNSU)
		}
		if failed > 0 {
			return eris.Errorf("sync failed for %d of %d companies", failed, len(companies))
		}
		return nil
	},
}

var syncRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List sync run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		companyFlag, _ := cmd.Flags().GetString("company")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{Status: model.RunStatus(status), Limit: limit}
		if companyFlag != "" {
			c, err := resolveCompany(ctx, st, companyFlag)
			if err != nil {
				return err
			}
			filter.CompanyID = c.ID
		}

		runs, err := st.ListSyncRuns(ctx, filter)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No sync runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tNSU\tDOCS\tSTARTED\tFINISHED\tDETAILS")
		for _, r := range runs {
			finished := "-"
			if r.FinishedAt != nil {
				finished = r.FinishedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				r.ID, r.Status, r.LastNSU, r.DocumentsSynced,
				r.StartedAt.Format("2006-01-02 15:04:05"), finished, r.Details)
		}
		return w.Flush()
	},
}

// resolveCompany accepts either a company id or a CNPJ in any formatting.
func resolveCompany(ctx context.Context, st store.Store, ref string) (*model.Company, error) {
	if taxID := ingest.DigitsOnly(ref); len(taxID) == 14 {
		c, err := st.GetCompanyByTaxID(ctx, taxID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	c, err := st.GetCompany(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, eris.Errorf("company not found: %s", ref)
	}
	return c, nil
}

func init() {
	syncRunCmd.Flags().String("company", "", "company id or CNPJ")
	syncRunCmd.Flags().Bool("all", false, "sync every registered company")

	syncRunsCmd.Flags().String("company", "", "filter by company id or CNPJ")
	syncRunsCmd.Flags().String("status", "", "filter by status (in_progress|success|failed)")
	syncRunsCmd.Flags().Int("limit", 20, "maximum runs to list")

	syncCmd.AddCommand(syncRunCmd, syncRunsCmd)
	rootCmd.AddCommand(syncCmd)
}
