package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/hylla/mcpcc/internal/domain"
	"github.com/spf13/cobra"
)

// newShowCommand builds `mcpcc show`, which renders one project and its recent agent updates.
func (c *cli) newShowCommand() *cobra.Command {
	var (
		raw   bool
		width int
		limit int
	)
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one project with its recent agent updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open("show")
			if err != nil {
				return err
			}
			defer rt.Close()

			project, err := rt.svc.GetProject(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get project: %w", err)
			}
			updates, err := rt.svc.ListAgentUpdates(cmd.Context(), project.ID, limit)
			if err != nil {
				return fmt.Errorf("list agent updates: %w", err)
			}

			doc := projectMarkdown(project, updates)
			if !raw {
				doc = renderMarkdown(doc, width)
			}
			_, err = fmt.Fprintln(c.stdout, doc)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal styling")
	cmd.Flags().IntVar(&width, "width", 80, "wrap width for rendered output")
	cmd.Flags().IntVar(&limit, "updates", 10, "number of agent updates to include")
	return cmd
}

// projectMarkdown builds a markdown summary of a project.
func projectMarkdown(p domain.Project, updates []domain.AgentUpdate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Description)
	}
	fmt.Fprintf(&b, "- **ID**: `%s`\n", p.ID)
	if p.CanonicalURL != "" {
		fmt.Fprintf(&b, "- **URL**: %s\n", p.CanonicalURL)
	}
	if p.ExternalID != "" {
		fmt.Fprintf(&b, "- **External ID**: `%s`\n", p.ExternalID)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "- **Tags**: %s\n", strings.Join(p.Tags, ", "))
	}
	synced := "never"
	if p.LastSyncedAt != nil {
		synced = p.LastSyncedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(&b, "- **Last synced**: %s\n", synced)

	b.WriteString("\n## Agent updates\n\n")
	if len(updates) == 0 {
		b.WriteString("_No updates recorded._\n")
		return b.String()
	}
	for _, u := range updates {
		fmt.Fprintf(&b, "### %s (%s)\n\n", u.CreatedAt.Format(time.RFC3339), u.Source)
		for _, key := range slices.Sorted(maps.Keys(u.Payload)) {
			fmt.Fprintf(&b, "- **%s**: %v\n", key, u.Payload[key])
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderMarkdown styles markdown for the terminal, returning the input unchanged on renderer failure.
func renderMarkdown(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	if width < 24 {
		width = 24
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}
