package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fiscalflow/fiscalflow/internal/ingest"
	"github.com/fiscalflow/fiscalflow/internal/model"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage monitored companies",
}

var companiesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a company for document sync",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cnpj, _ := cmd.Flags().GetString("cnpj")
		name, _ := cmd.Flags().GetString("name")

		taxID := ingest.DigitsOnly(cnpj)
		if len(taxID) != 14 {
			return eris.Errorf("invalid CNPJ %q: expected 14 digits", cnpj)
		}
		if name == "" {
			return eris.New("--name is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if existing, err := st.GetCompanyByTaxID(ctx, taxID); err != nil {
			return err
		} else if existing != nil {
			return eris.Errorf("company with CNPJ %s already registered (%s)", taxID, existing.ID)
		}

		company, err := st.CreateCompany(ctx, model.Company{TaxID: taxID, LegalName: name})
		if err != nil {
			return err
		}
		fmt.Printf("registered %s (%s) as %s\n", company.LegalName, company.TaxID, company.ID)
		return nil
	},
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored companies",
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

		companies, err := st.ListCompanies(ctx)
		if err != nil {
			return err
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCNPJ\tNAME\tADDED")
		for _, c := range companies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c.ID, c.TaxID, c.LegalName, c.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	companiesAddCmd.Flags().String("cnpj", "", "company CNPJ (formatted or digits)")
	companiesAddCmd.Flags().String("name", "", "company legal name")
	companiesAddCmd.MarkFlagRequired("cnpj") //nolint:errcheck

	companiesCmd.AddCommand(companiesAddCmd, companiesListCmd)
	rootCmd.AddCommand(companiesCmd)
}
