package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect token signing keys",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signing key IDs and which one is primary",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := callAPI(http.MethodGet, "/v1/keys", nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysListCmd)
	rootCmd.AddCommand(keysCmd)
}
