package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fiscalflow/fiscalflow/internal/manifest"
	"github.com/fiscalflow/fiscalflow/internal/model"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest <access-key>",
	Short: "Record a manifestation event for a document",
	Long: `Declares the recipient's position on an NFE to the tax authority and,
once accepted, records it locally. Types: acknowledged, confirmed, unknown,
unrealized. The negative types (unknown, unrealized) require --justification.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		typ, _ := cmd.Flags().GetString("type")
		justification, _ := cmd.Flags().GetString("justification")

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		doc, err := e.manifest.Manifest(ctx, manifest.Request{
			AccessKey:     args[0],
			Type:          model.ManifestationType(typ),
			Justification: justification,
		})
		if err != nil {
			return err
		}

		fmt.Printf("document %s manifested as %s\n", doc.AccessKey, doc.ManifestationStatus)
		return nil
	},
}

func init() {
	manifestCmd.Flags().String("type", "", "manifestation type (acknowledged|confirmed|unknown|unrealized)")
	manifestCmd.Flags().String("justification", "", "justification text, required for unknown and unrealized")
	manifestCmd.MarkFlagRequired("type") //nolint:errcheck

	rootCmd.AddCommand(manifestCmd)
}
