package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the detector's class labels",
	Long:  `Print the fixed class table the detector's indices refer to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"#", "Label"})
		for i, name := range detection.MedicalLabels {
			t.AppendRow(table.Row{i, name})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
