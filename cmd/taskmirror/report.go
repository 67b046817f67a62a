package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskmirror/taskmirror/internal/mirror"
	"github.com/taskmirror/taskmirror/internal/ui"
)

// printYAML renders any report as YAML on stdout.
func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func printSyncReport(report *mirror.SyncReport) {
	if report == nil {
		return
	}
	fmt.Println(ui.CountLine("Changes", report.Changes, false))
	fmt.Println(ui.CountLine("Added", report.Added, false))
	fmt.Println(ui.CountLine("Updated", report.Updated, false))
	fmt.Println(ui.CountLine("Archived", report.Archived, false))
	fmt.Println(ui.CountLine("Moved", report.Moved, false))
	fmt.Println(ui.CountLine("Relations updated", report.RelationsUpdated, false))
	fmt.Println(ui.CountLine("Errors", len(report.RecordErrors), true))
}

func printRepairReport(report *mirror.Report) {
	if report == nil {
		return
	}
	if report.DryRun {
		fmt.Println(ui.RenderDim("   (dry run: numbers describe what would happen)"))
	}
	fmt.Println(ui.Rule())
	fmt.Println(ui.CountLine("Duplicates found", report.DuplicatesFound, true))
	fmt.Println(ui.CountLine("Duplicates removed", report.DuplicatesRemoved, false))
	fmt.Println(ui.CountLine("Tasks added", report.TasksAdded, false))
	fmt.Println(ui.CountLine("Extra records found", report.ExtraFound, true))
	fmt.Println(ui.CountLine("Extra records removed", report.ExtraRemoved, false))
	fmt.Println(ui.CountLine("Invalid mappings found", report.InvalidMappings, true))
	fmt.Println(ui.CountLine("Invalid mappings removed", report.MappingsRemoved, false))
	fmt.Println(ui.CountLine("Records without marker", report.UnmarkedRecords, true))
	fmt.Println(ui.CountLine("Relations updated", report.RelationsUpdated, false))

	if report.Integrity != nil {
		fmt.Println(ui.Rule())
		fmt.Println(ui.RenderHeader("   Hierarchy integrity"))
		fmt.Println(ui.CountLine("Checked", report.Integrity.Checked, false))
		fmt.Println(ui.CountLine("Missing on remote", report.Integrity.Missing, true))
		fmt.Println(ui.CountLine("Parent mismatches", report.Integrity.ParentMismatches, true))
		fmt.Println(ui.CountLine("Orphaned subtasks", report.Integrity.Orphans, true))
		for _, issue := range report.Integrity.Issues {
			fmt.Printf("   %s %s %s/%s: %s\n",
				ui.RenderWarn("•"), issue.Kind, issue.Tag, issue.LocalID, issue.Detail)
		}
	}

	if report.FailedStage != "" {
		fmt.Println(ui.Rule())
		fmt.Printf("%s Stage %s failed: %s\n",
			ui.RenderFail("✗"), report.FailedStage, report.FailedError)
		fmt.Println(ui.RenderDim("   Earlier stages are committed; later stages were not attempted."))
	}
}
