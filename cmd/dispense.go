package cmd

import (
	"fmt"

	"github.com/itbees/mdbctl/internal/api"
	"github.com/spf13/cobra"
)

var dispenseAmount int

var dispenseCmd = &cobra.Command{
	Use:   "dispense",
	Short: "Ask a running serve instance to pay out change",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := resolveAPIBaseURL()
		if err != nil {
			return err
		}

		var resp struct {
			Dispensed bool `json:"dispensed"`
		}
		if err := postJSON(base, "/api/v1/dispense-change", api.DispenseChangeRequest{AmountMinor: dispenseAmount}, &resp); err != nil {
			return err
		}

		if resp.Dispensed {
			fmt.Printf("dispensed %d\n", dispenseAmount)
		} else {
			fmt.Println("dispense failed (see the serve log's error events for the cause)")
		}
		return nil
	},
}

func init() {
	dispenseCmd.Flags().IntVarP(&dispenseAmount, "amount", "a", 0, "Amount to dispense, in minor currency units")
	dispenseCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(dispenseCmd)
}
