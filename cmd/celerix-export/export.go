package main

import (
	"fmt"
	"path/filepath"

	"github.com/celerix-dev/celerix-export/internal/app"
	"github.com/celerix-dev/celerix-export/internal/portal"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/spf13/cobra"
)

var (
	exportClient string
	exportSelf   bool
	exportSort   string
	exportOut    string
	exportID     string
)

var exportCmd = &cobra.Command{
	Use:   "export <csv|pdf|xlsx>",
	Short: "Export submissions to a file",
	Long: `Exports the selected submissions into the output directory.

Examples:
  celerix-export export csv
  celerix-export export pdf --client C1 --sort oldest
  celerix-export export pdf --id 65a4f0c2
  celerix-export export xlsx --self`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"csv", "pdf", "xlsx"},
	RunE:      runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportClient, "client", "", "only export this client ID")
	exportCmd.Flags().BoolVar(&exportSelf, "self", false, "export the signed-in client's own submissions")
	exportCmd.Flags().StringVar(&exportSort, "sort", "newest", "newest or oldest")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output directory (default export.output_dir)")
	exportCmd.Flags().StringVar(&exportID, "id", "", "export a single submission as PDF")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(args[0])
	if err != nil {
		return err
	}
	order, err := portal.ParseSort(exportSort)
	if err != nil {
		return err
	}
	if exportID != "" && format != export.FormatPDF {
		return fmt.Errorf("--id only supports pdf")
	}

	dir := exportOut
	if dir == "" {
		dir = cfg.Export.OutputDir
	}
	sink, err := export.NewFileSink(dir)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, logger, "cli")
	if err != nil {
		return err
	}
	defer a.Close()

	var res *export.Result
	if exportID != "" {
		res, err = a.Service.ExportSubmission(cmd.Context(), exportID, sink)
	} else {
		res, _, err = a.Service.Export(cmd.Context(), portal.Query{
			ClientID: exportClient,
			Self:     exportSelf,
			Sort:     order,
		}, format, sink)
	}
	if err != nil {
		return err
	}

	if res.Status == export.StatusSkipped {
		fmt.Println("No submissions to export")
		return nil
	}
	fmt.Printf("Wrote %s (%d submissions, %d bytes)\n", filepath.Join(dir, res.Filename), res.Records, res.Bytes)
	return nil
}
