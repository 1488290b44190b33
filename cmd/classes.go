package cmd

import (
	"fmt"
	"strconv"

	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/spf13/cobra"
)

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the object classes a round is split across",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), renderCatalog(Cfg.Catalog()))
	},
}

func init() {
	rootCmd.AddCommand(classesCmd)
}

func renderCatalog(catalog types.Catalog) string {
	rows := make([][]string, 0, len(catalog))
	for _, c := range catalog {
		rows = append(rows, []string{
			strconv.Itoa(int(c.ID)),
			c.Name,
			fmt.Sprintf("#%02x%02x%02x", c.Color[0], c.Color[1], c.Color[2]),
		})
	}
	return renderTable([]string{"ID", "NAME", "COLOR"}, rows, 0)
}
