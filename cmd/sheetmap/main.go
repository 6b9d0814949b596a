// Package main provides an offline CLI for inspecting workbooks and
// dry-running mapping configurations without touching the platform.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

var (
	outputPath  string
	pretty      bool
	mappingPath string
	recordID    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "sheetmap",
		Short:        "Inspect workbooks and dry-run attachment mappings",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: stdout)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")

	cellsCmd := &cobra.Command{
		Use:   "cells [input.xlsx]",
		Short: "Dump the cell sequence of the first worksheet",
		Args:  cobra.ExactArgs(1),
		RunE:  runCells,
	}

	mapCmd := &cobra.Command{
		Use:   "map [input.xlsx]",
		Short: "Map a workbook with a mapping file and print the record payload",
		Long: `map reads the first worksheet of the workbook, applies the mapping
file and prints the {app, records} body that would be submitted.
Per-field issues are reported on stderr. Subtable columns are not
checked against the destination app.`,
		Args: cobra.ExactArgs(1),
		RunE: runMap,
	}
	mapCmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "Mapping file (.json or .yaml)")
	mapCmd.Flags().StringVar(&recordID, "record-id", "0", "Source record id written to the reference holder")
	mapCmd.MarkFlagRequired("mapping")

	checkCmd := &cobra.Command{
		Use:   "check [mapping-dir]",
		Short: "Load every mapping file in a directory and report problems",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	rootCmd.AddCommand(cellsCmd, mapCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCells(cmd *cobra.Command, args []string) error {
	cells, err := sheet.Open(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	return writeOutput(cmd, cells)
}

// submitBody mirrors the records call body.
type submitBody struct {
	App     string        `json:"app"`
	Records []core.Record `json:"records"`
}

func runMap(cmd *cobra.Command, args []string) error {
	cfg, err := mapping.LoadFile(mappingPath)
	if err != nil {
		return err
	}

	cells, err := sheet.Open(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	mapped, err := core.Map(core.MapInput{
		Rules:           cfg.Rules,
		Cells:           cells,
		FileName:        filepath.Base(args[0]),
		SourceRecordID:  recordID,
		FileNameHolder:  cfg.FileNameHolder,
		ReferenceHolder: cfg.ReferenceHolder,
	})
	if err != nil {
		return err
	}

	for _, issue := range mapped.Issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", issue.Kind, issue.FieldCode, issue.Message)
	}

	return writeOutput(cmd, submitBody{App: cfg.DestinationApp, Records: []core.Record{mapped.Record}})
}

func runCheck(cmd *cobra.Command, args []string) error {
	registry := mapping.NewRegistry()
	loadErr := registry.LoadDir(args[0])

	for _, app := range registry.All() {
		fmt.Fprintf(cmd.OutOrStdout(), "ok  %s -> %s (%d rules, %d table)\n",
			app.SourceAppID, app.DestinationApp, len(app.Rules), len(app.TableRules()))
	}
	if loadErr != nil {
		return fmt.Errorf("%d mapping(s) loaded with errors:\n%w", registry.Len(), loadErr)
	}
	return nil
}

func writeOutput(cmd *cobra.Command, v any) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
