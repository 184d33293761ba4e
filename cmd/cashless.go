package cmd

import (
	"fmt"

	"github.com/itbees/mdbctl/internal/api"
	"github.com/spf13/cobra"
)

var (
	cashlessAmount int
	cashlessText   string
)

var cashlessCmd = &cobra.Command{
	Use:   "cashless",
	Short: "Ask a running serve instance to run a cashless vend session",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := resolveAPIBaseURL()
		if err != nil {
			return err
		}

		var resp struct {
			Approved bool `json:"approved"`
		}
		req := api.StartCashlessPaymentRequest{AmountMinor: cashlessAmount, DisplayText: cashlessText}
		if err := postJSON(base, "/api/v1/cashless/start", req, &resp); err != nil {
			return err
		}

		if resp.Approved {
			fmt.Println("cashless vend approved")
		} else {
			fmt.Println("cashless vend not approved (denied, timed out, or session busy)")
		}
		return nil
	},
}

func init() {
	cashlessCmd.Flags().IntVarP(&cashlessAmount, "amount", "a", 0, "Vend amount, in minor currency units")
	cashlessCmd.Flags().StringVarP(&cashlessText, "text", "t", "", "Display text to show on the reader")
	cashlessCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(cashlessCmd)
}
