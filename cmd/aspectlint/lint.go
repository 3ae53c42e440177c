package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// ErrDroppedLines is returned when at least one rule line was malformed.
var ErrDroppedLines = errors.New("rule set has dropped lines")

// report writes the dropped lines and, with showRules, the effective rule
// table, followed by a one line summary.
func report(w io.Writer, rules *aspects.RuleSet, showRules bool, palette *terminal.Palette) error {
	if showRules && len(rules.Aspects) > 0 {
		writeRuleTable(w, rules.Aspects)
	}

	for _, d := range rules.Dropped {
		if _, err := fmt.Fprintln(w, palette.Error("dropped: "+d.Error())); err != nil {
			return err
		}
	}

	disabled := 0
	for _, a := range rules.Aspects {
		if !a.IsEnabled() {
			disabled++
		}
	}
	summary := fmt.Sprintf("%s aspects in %s classes, %s disabled, %s skipped, %s dropped",
		humanize.Comma(int64(len(rules.Aspects))),
		humanize.Comma(int64(len(rules.Classes))),
		humanize.Comma(int64(disabled)),
		humanize.Comma(int64(rules.Skipped)),
		humanize.Comma(int64(len(rules.Dropped))))
	if _, err := fmt.Fprintln(w, palette.Muted(summary)); err != nil {
		return err
	}

	if len(rules.Dropped) > 0 {
		return fmt.Errorf("%w: %d", ErrDroppedLines, len(rules.Dropped))
	}
	return nil
}

func writeRuleTable(w io.Writer, list []*aspects.Aspect) {
	data := make([][]string, 0, len(list))
	for _, a := range list {
		line := "-"
		if a.Line > 0 {
			line = strconv.Itoa(a.Line)
		}
		filters := make([]string, 0, len(a.AllFilters()))
		for _, f := range a.AllFilters() {
			filters = append(filters, f.String())
		}
		enabled := "yes"
		if !a.IsEnabled() {
			enabled = "no"
		}
		data = append(data, []string{
			line,
			a.Behavior.String(),
			a.TargetFullName(),
			a.HelperFullName(),
			a.AspectType().String(),
			aspects.JoinVulnerabilityTypes(a.VulnerabilityTypes()),
			strings.Join(filters, ","),
			enabled,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Line", "Behavior", "Target", "Helper", "Type", "Vulnerabilities", "Filters", "Enabled"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Render()
}
