package main

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/schaermu/reposyncd/internal/reconcile"
	"github.com/schaermu/reposyncd/internal/repo"
)

// newTable creates a left-aligned markdown style table
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

// renderPartition prints one row per repository with the action a run takes
func renderPartition(w io.Writer, p repo.Partition) {
	table := newTable(w, "REPOSITORY", "ACTION", "URL")
	for _, name := range p.MissingLocally.Names() {
		_ = table.Append([]string{name, "clone", p.MissingLocally[name].RemoteURL})
	}
	for _, name := range p.Matching.Names() {
		_ = table.Append([]string{name, "pull", p.Matching[name].RemoteURL})
	}
	for _, name := range p.MissingRemotely.Names() {
		_ = table.Append([]string{name, "local only", ""})
	}
	_ = table.Render()
}

// renderOutcomes prints one row per reconciled repository
func renderOutcomes(w io.Writer, report *reconcile.Report) {
	table := newTable(w, "REPOSITORY", "OUTCOME", "DETAIL")
	for _, o := range report.Outcomes() {
		var detail string
		switch {
		case o.Err != nil:
			detail = o.Err.Error()
		case o.StashRef != "":
			detail = "changes kept in " + o.StashRef
		}
		_ = table.Append([]string{o.Repo, o.Kind.String(), detail})
	}
	_ = table.Render()
}
