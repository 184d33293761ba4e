package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var tubeStatusCmd = &cobra.Command{
	Use:   "tube-status",
	Short: "Print the live coin tube inventory of a running serve instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := resolveAPIBaseURL()
		if err != nil {
			return err
		}

		var resp struct {
			Tubes map[string]int `json:"tubes"`
		}
		if err := getJSON(base, "/api/v1/tube-status", &resp); err != nil {
			return err
		}

		denoms := make([]string, 0, len(resp.Tubes))
		for d := range resp.Tubes {
			denoms = append(denoms, d)
		}
		sort.Strings(denoms)

		for _, d := range denoms {
			fmt.Printf("%s: %d\n", d, resp.Tubes[d])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tubeStatusCmd)
}
