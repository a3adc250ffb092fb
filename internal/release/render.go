package release

import (
	"fmt"
	"strings"
)

// Render renders the document as markdown.
//
// Sections become headings two levels below the title, deeper for higher
// levels; each changelog lists changes, artifacts and notes in that order.
func Render(doc *Document) string {
	var b strings.Builder

	b.WriteString("# Release")
	if doc.Status != "" {
		fmt.Fprintf(&b, " (%s)", doc.Status)
	}
	b.WriteString("\n")

	for _, s := range doc.Sections {
		fmt.Fprintf(&b, "\n%s %s\n", strings.Repeat("#", headingLevel(s.Level)), sectionTitle(s))
		if s.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", s.Description)
		}
		if s.Status != "" {
			fmt.Fprintf(&b, "\nStatus: %s\n", s.Status)
		}
		for _, cl := range s.Changelog {
			writeItems(&b, "Changes", cl.Changes)
			writeItems(&b, "Artifacts", cl.Artifacts)
			writeItems(&b, "Notes", cl.Notes)
		}
	}
	return b.String()
}

func headingLevel(level *int) int {
	if level == nil {
		return 2
	}
	return min(2+max(*level, 0), 6)
}

func sectionTitle(s *Section) string {
	if s.Type == SectionStream {
		return s.ID
	}
	return fmt.Sprintf("%s (%s)", s.ID, s.Type)
}

func writeItems(b *strings.Builder, title string, items []Entry) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s**\n\n", title)
	for _, e := range items {
		fmt.Fprintf(b, "- %s\n", itemLabel(e))
	}
}

func itemLabel(e Entry) string {
	id := e.ID
	if len(id) > 7 {
		id = id[:7]
	}
	label := "`" + id + "`"

	text := e.Description
	if text != "" && e.Link != "" {
		text = fmt.Sprintf("[%s](%s)", text, e.Link)
	}
	if text != "" {
		label += " " + text
	}
	if e.Author != "" {
		label += " by " + e.Author
	}
	return label
}
