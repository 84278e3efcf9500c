package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Work with stored documents",
}

var documentsDownloadCmd = &cobra.Command{
	Use:   "download <access-key>",
	Short: "Download a document's XML or DANFE PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fileType, _ := cmd.Flags().GetString("type")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("%s.%s", args[0], fileType)
		}

		nf := cfg.NuvemFiscal
		tokens := nuvemfiscal.NewTokenProvider(nf.AuthURL, nf.ClientID, nf.ClientSecret, nf.Scopes)
		client := nuvemfiscal.NewClient(nf.APIURL, tokens, nuvemfiscal.WithRateLimit(nf.RatePerSec))

		body, err := client.GetDocumentFile(ctx, args[0], fileType)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, body, 0o644); err != nil {
			return err
		}

		fmt.Printf("wrote %d bytes to %s\n", len(body), out)
		return nil
	},
}

func init() {
	documentsDownloadCmd.Flags().String("type", "xml", "file type (xml|pdf)")
	documentsDownloadCmd.Flags().String("out", "", "output path (default <access-key>.<type>)")

	documentsCmd.AddCommand(documentsDownloadCmd)
	rootCmd.AddCommand(documentsCmd)
}
