package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var slipsCmd = &cobra.Command{
	Use:   "slips",
	Short: "Inspect and manage authorization slips",
}

var slipsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List slips, optionally filtered by principal, target or liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if v, _ := cmd.Flags().GetString("principal"); v != "" {
			q.Set("principal", v)
		}
		if v, _ := cmd.Flags().GetString("target"); v != "" {
			q.Set("target", v)
		}
		if active, _ := cmd.Flags().GetBool("active"); active {
			q.Set("active", "true")
		}
		path := "/v1/slips"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		raw, err := callAPI(http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var slipsGetCmd = &cobra.Command{
	Use:   "get <slip-id>",
	Short: "Show one slip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := callAPI(http.MethodGet, "/v1/slips/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var slipsRevokeCmd = &cobra.Command{
	Use:   "revoke <slip-id>",
	Short: "Revoke a slip and its issued credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := callAPI(http.MethodDelete, "/v1/slips/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var slipsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep slips whose TTL has elapsed and mark them expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := callAPI(http.MethodPost, "/v1/slips/cleanup", nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var slipsCompleteCmd = &cobra.Command{
	Use:   "complete <slip-id>",
	Short: "Drive a pending provisioning flow to completion",
	Long: `Blocks while the service polls the upstream provider. For device flows
this waits for the principal to approve the request in their browser.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("waiting for the principal to authorize...")
		raw, err := callAPI(http.MethodPost, "/v1/slips/"+url.PathEscape(args[0])+"/complete", nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

func init() {
	slipsListCmd.Flags().String("principal", "", "Filter by principal")
	slipsListCmd.Flags().String("target", "", "Filter by target")
	slipsListCmd.Flags().Bool("active", false, "Only active, unexpired slips")

	slipsCmd.AddCommand(slipsListCmd, slipsGetCmd, slipsRevokeCmd, slipsCleanupCmd, slipsCompleteCmd)
	rootCmd.AddCommand(slipsCmd)
}
