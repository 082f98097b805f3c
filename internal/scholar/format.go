package scholar

import (
	"fmt"
	"strings"
)

func formatAuthors(authors []Author) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		names = append(names, a.Name)
	}
	switch {
	case len(names) == 0:
		return "Unknown"
	case len(names) > 3:
		return strings.Join(names[:3], ", ") + " et al."
	default:
		return strings.Join(names, ", ")
	}
}

// formatPapersMarkdown renders papers as a compact Markdown list.
func formatPapersMarkdown(papers []Paper) string {
	if len(papers) == 0 {
		return "No papers found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d papers:\n\n", len(papers))
	for i, p := range papers {
		title := p.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%d. **%s**", i+1, title)
		if p.Year != 0 {
			fmt.Fprintf(&b, " (%d)", p.Year)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "   Authors: %s\n", formatAuthors(p.Authors))
		if p.Venue != "" {
			fmt.Fprintf(&b, "   Venue: %s\n", p.Venue)
		}
		fmt.Fprintf(&b, "   Citations: %d\n", p.CitationCount)
		if pdf := p.PdfURL(); pdf != "" {
			fmt.Fprintf(&b, "   PDF: %s\n", pdf)
		}
		if p.PaperID != "" {
			fmt.Fprintf(&b, "   ID: %s\n", p.PaperID)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// formatPaperMarkdown renders a single paper in full detail, abstract
// included.
func formatPaperMarkdown(p *Paper) string {
	var b strings.Builder
	title := p.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Authors: %s\n", formatAuthors(p.Authors))
	if p.Year != 0 {
		fmt.Fprintf(&b, "- Year: %d\n", p.Year)
	}
	if p.Venue != "" {
		fmt.Fprintf(&b, "- Venue: %s\n", p.Venue)
	}
	fmt.Fprintf(&b, "- Citations: %d\n", p.CitationCount)
	if pdf := p.PdfURL(); pdf != "" {
		fmt.Fprintf(&b, "- PDF: %s\n", pdf)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "- URL: %s\n", p.URL)
	}
	if p.PaperID != "" {
		fmt.Fprintf(&b, "- ID: %s\n", p.PaperID)
	}
	if p.Abstract != "" {
		fmt.Fprintf(&b, "\n## Abstract\n\n%s\n", p.Abstract)
	}
	return b.String()
}

// formatAuthorsMarkdown renders author profiles as a Markdown list.
func formatAuthorsMarkdown(authors []Author) string {
	if len(authors) == 0 {
		return "No authors found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d authors:\n\n", len(authors))
	for i, a := range authors {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, a.Name)
		if len(a.Affiliations) > 0 {
			fmt.Fprintf(&b, "   Affiliations: %s\n", strings.Join(a.Affiliations, "; "))
		}
		fmt.Fprintf(&b, "   h-index: %d | Papers: %d | Citations: %d\n", a.HIndex, a.PaperCount, a.CitationCount)
		fmt.Fprintf(&b, "   ID: %s\n\n", a.AuthorID)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
