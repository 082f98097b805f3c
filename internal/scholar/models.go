package scholar

// Paper is the subset of Semantic Scholar paper metadata the tools
// surface. Fields the API omits stay at their zero value.
type Paper struct {
	PaperID       string         `json:"paperId"`
	Title         string         `json:"title"`
	Abstract      string         `json:"abstract,omitempty"`
	Year          int            `json:"year,omitempty"`
	Venue         string         `json:"venue,omitempty"`
	CitationCount int            `json:"citationCount,omitempty"`
	URL           string         `json:"url,omitempty"`
	Authors       []Author       `json:"authors,omitempty"`
	ExternalIDs   map[string]any `json:"externalIds,omitempty"`
	OpenAccessPdf *OpenAccessPdf `json:"openAccessPdf,omitempty"`
}

// OpenAccessPdf carries the open-access location of a paper when one
// exists.
type OpenAccessPdf struct {
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
}

// PdfURL returns the open-access PDF location, or "" when the paper
// has none.
func (p *Paper) PdfURL() string {
	if p.OpenAccessPdf == nil {
		return ""
	}
	return p.OpenAccessPdf.URL
}

// Author is an author profile or a per-paper author stub. Listing
// endpoints populate only AuthorID and Name.
type Author struct {
	AuthorID      string   `json:"authorId"`
	Name          string   `json:"name"`
	Affiliations  []string `json:"affiliations,omitempty"`
	HIndex        int      `json:"hIndex,omitempty"`
	PaperCount    int      `json:"paperCount,omitempty"`
	CitationCount int      `json:"citationCount,omitempty"`
}

// SearchResult is a paginated page of papers. Next is nil on the last
// page.
type SearchResult struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Next   *int    `json:"next,omitempty"`
	Data   []Paper `json:"data"`
}

// AuthorSearchResult is a paginated page of author profiles.
type AuthorSearchResult struct {
	Total  int      `json:"total"`
	Offset int      `json:"offset"`
	Next   *int     `json:"next,omitempty"`
	Data   []Author `json:"data"`
}
