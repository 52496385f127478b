package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export stages as an Excel sheet or an iCalendar feed",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	exportCmd.Flags().String("format", "xlsx", "output format: xlsx | ics")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: suggested name)")
	exportCmd.Flags().String("at", "", "reference date for the status column")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	if format != "xlsx" && format != "ics" {
		return fmt.Errorf("export: unsupported format %q", format)
	}
	at, err := atFlag(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		data     []byte
		filename string
	)
	switch format {
	case "xlsx":
		buf, name, err := a.svc.Export.ExportStagesExcel(cmd.Context(), at)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		data, filename = buf.Bytes(), name
	case "ics":
		data, err = a.svc.Export.ExportStagesICS(cmd.Context())
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		filename = "etapas.ics"
	}

	if output == "" {
		output = filename
	}
	if output == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", output, len(data))
	return nil
}
