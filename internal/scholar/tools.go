package scholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scholarmcp/scholarmcp/internal/tools"
)

// API is the client surface the toolset consumes. *Client satisfies
// it; tests substitute a stub.
type API interface {
	SearchPapers(ctx context.Context, query string, offset, limit int) (*SearchResult, error)
	GetPaper(ctx context.Context, paperID string) (*Paper, error)
	GetPapersBatch(ctx context.Context, paperIDs []string) ([]Paper, error)
	MatchPaperTitle(ctx context.Context, title string) (*Paper, error)
	SearchAuthors(ctx context.Context, query string, offset, limit int) (*AuthorSearchResult, error)
	AuthorPapers(ctx context.Context, authorID string, offset, limit int) (*SearchResult, error)
	Recommendations(ctx context.Context, seedIDs []string, limit int) ([]Paper, error)
}

const (
	batchMaxIDs       = 500
	searchMaxResults  = 100
	defaultPageLimit  = 20
	recommendationCap = 50
)

func renderPapers(papers []Paper, format string) (string, error) {
	if format == "json" {
		data, err := json.MarshalIndent(papers, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return formatPapersMarkdown(papers), nil
}

type paperSearchArgs struct {
	Query          string `json:"query" jsonschema:"description=Search query (e.g. 'transformer attention mechanisms')"`
	YearStart      int    `json:"year_start,omitempty" jsonschema:"description=Minimum publication year"`
	YearEnd        int    `json:"year_end,omitempty" jsonschema:"description=Maximum publication year"`
	MinCitations   int    `json:"min_citations,omitempty" jsonschema:"description=Minimum citation count"`
	OpenAccessOnly bool   `json:"open_access_only,omitempty" jsonschema:"description=Only include papers with an open-access PDF"`
	MaxResults     int    `json:"max_results,omitempty" jsonschema:"description=Maximum papers to return (default 100)"`
	ResponseFormat string `json:"response_format,omitempty" jsonschema:"description=Output format,enum=markdown,enum=json"`
}

func keepPaper(p *Paper, args paperSearchArgs) bool {
	if args.YearStart != 0 && p.Year < args.YearStart {
		return false
	}
	if args.YearEnd != 0 && (p.Year == 0 || p.Year > args.YearEnd) {
		return false
	}
	if args.MinCitations != 0 && p.CitationCount < args.MinCitations {
		return false
	}
	if args.OpenAccessOnly && p.PdfURL() == "" {
		return false
	}
	return true
}

func newPaperSearchTool(api API) tools.Tool {
	return tools.New("paper_search",
		"Search for papers with automatic pagination, optionally filtered by year, citation count and open access.",
		func(ctx context.Context, args paperSearchArgs) (string, error) {
			if args.Query == "" {
				return "", errors.New("query is required")
			}
			max := args.MaxResults
			if max <= 0 || max > searchMaxResults {
				max = searchMaxResults
			}

			var papers []Paper
			offset := 0
			for len(papers) < max {
				page, err := api.SearchPapers(ctx, args.Query, offset, searchMaxResults)
				if err != nil {
					return "", err
				}
				for i := range page.Data {
					if !keepPaper(&page.Data[i], args) {
						continue
					}
					papers = append(papers, page.Data[i])
					if len(papers) >= max {
						break
					}
				}
				if page.Next == nil {
					break
				}
				offset = *page.Next
			}
			return renderPapers(papers, args.ResponseFormat)
		})
}

type paperDetailsArgs struct {
	PaperID        string `json:"paper_id" jsonschema:"description=Semantic Scholar id or prefixed external id (DOI:... or ARXIV:...)"`
	ResponseFormat string `json:"response_format,omitempty" jsonschema:"description=Output format,enum=markdown,enum=json"`
}

func newPaperDetailsTool(api API) tools.Tool {
	return tools.New("paper_details",
		"Fetch full metadata for a single paper, including its abstract.",
		func(ctx context.Context, args paperDetailsArgs) (string, error) {
			if args.PaperID == "" {
				return "", errors.New("paper_id is required")
			}
			paper, err := api.GetPaper(ctx, args.PaperID)
			if err != nil {
				return "", err
			}
			if args.ResponseFormat == "json" {
				data, err := json.MarshalIndent(paper, "", "  ")
				if err != nil {
					return "", err
				}
				return string(data), nil
			}
			return formatPaperMarkdown(paper), nil
		})
}

type batchMetadataArgs struct {
	PaperIDs       []string `json:"paper_ids" jsonschema:"description=Paper ids to fetch (up to 500)"`
	ResponseFormat string   `json:"response_format,omitempty" jsonschema:"description=Output format,enum=markdown,enum=json"`
}

func newBatchMetadataTool(api API) tools.Tool {
	return tools.New("batch_metadata",
		"Retrieve detailed metadata for multiple papers efficiently. Accepts up to 500 paper ids per call.",
		func(ctx context.Context, args batchMetadataArgs) (string, error) {
			if len(args.PaperIDs) == 0 {
				return "", errors.New("paper_ids is required")
			}
			if len(args.PaperIDs) > batchMaxIDs {
				return "", fmt.Errorf("at most %d paper ids per call, got %d", batchMaxIDs, len(args.PaperIDs))
			}
			papers, err := api.GetPapersBatch(ctx, args.PaperIDs)
			if err != nil {
				return "", err
			}
			return renderPapers(papers, args.ResponseFormat)
		})
}

type titleMatchArgs struct {
	Title string `json:"title" jsonschema:"description=Full or partial paper title"`
}

func newTitleMatchTool(api API) tools.Tool {
	return tools.New("paper_title_match",
		"Find a paper by exact or near-exact title match. Returns the best matching paper.",
		func(ctx context.Context, args titleMatchArgs) (string, error) {
			if args.Title == "" {
				return "", errors.New("title is required")
			}
			paper, err := api.MatchPaperTitle(ctx, args.Title)
			if err != nil {
				return "", err
			}
			return formatPaperMarkdown(paper), nil
		})
}

type authorSearchArgs struct {
	Query string `json:"query" jsonschema:"description=Author name to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum profiles to return (default 20)"`
}

func newAuthorSearchTool(api API) tools.Tool {
	return tools.New("author_search",
		"Search for authors by name.",
		func(ctx context.Context, args authorSearchArgs) (string, error) {
			if args.Query == "" {
				return "", errors.New("query is required")
			}
			limit := args.Limit
			if limit <= 0 {
				limit = defaultPageLimit
			}
			result, err := api.SearchAuthors(ctx, args.Query, 0, limit)
			if err != nil {
				return "", err
			}
			return formatAuthorsMarkdown(result.Data), nil
		})
}

type authorPapersArgs struct {
	AuthorID       string `json:"author_id" jsonschema:"description=Semantic Scholar author id"`
	YearStart      int    `json:"year_start,omitempty" jsonschema:"description=Minimum publication year"`
	YearEnd        int    `json:"year_end,omitempty" jsonschema:"description=Maximum publication year"`
	Limit          int    `json:"limit,omitempty" jsonschema:"description=Maximum papers to return (default 20)"`
	ResponseFormat string `json:"response_format,omitempty" jsonschema:"description=Output format,enum=markdown,enum=json"`
}

func newAuthorPapersTool(api API) tools.Tool {
	return tools.New("author_papers",
		"Get papers by a specific author with optional year filtering.",
		func(ctx context.Context, args authorPapersArgs) (string, error) {
			if args.AuthorID == "" {
				return "", errors.New("author_id is required")
			}
			limit := args.Limit
			if limit <= 0 {
				limit = defaultPageLimit
			}
			result, err := api.AuthorPapers(ctx, args.AuthorID, 0, searchMaxResults)
			if err != nil {
				return "", err
			}
			papers := make([]Paper, 0, limit)
			for i := range result.Data {
				p := &result.Data[i]
				if args.YearStart != 0 && p.Year < args.YearStart {
					continue
				}
				if args.YearEnd != 0 && (p.Year == 0 || p.Year > args.YearEnd) {
					continue
				}
				papers = append(papers, *p)
				if len(papers) >= limit {
					break
				}
			}
			return renderPapers(papers, args.ResponseFormat)
		})
}

type recommendationsArgs struct {
	PaperIDs       []string `json:"paper_ids" jsonschema:"description=Seed paper ids the recommendations are based on"`
	Limit          int      `json:"limit,omitempty" jsonschema:"description=Maximum recommendations to return (default 20)"`
	ResponseFormat string   `json:"response_format,omitempty" jsonschema:"description=Output format,enum=markdown,enum=json"`
}

func newRecommendationsTool(api API) tools.Tool {
	return tools.New("recommendations",
		"Get paper recommendations based on seed papers, ranked by embedding similarity.",
		func(ctx context.Context, args recommendationsArgs) (string, error) {
			if len(args.PaperIDs) == 0 {
				return "", errors.New("paper_ids is required")
			}
			limit := args.Limit
			if limit <= 0 {
				limit = defaultPageLimit
			}
			if limit > recommendationCap {
				limit = recommendationCap
			}
			papers, err := api.Recommendations(ctx, args.PaperIDs, limit)
			if err != nil {
				return "", err
			}
			return renderPapers(papers, args.ResponseFormat)
		})
}

// NewToolset registers the full scholar tool suite on a fresh
// registry.
func NewToolset(api API) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(newPaperSearchTool(api))
	reg.Register(newPaperDetailsTool(api))
	reg.Register(newBatchMetadataTool(api))
	reg.Register(newTitleMatchTool(api))
	reg.Register(newAuthorSearchTool(api))
	reg.Register(newAuthorPapersTool(api))
	reg.Register(newRecommendationsTool(api))
	return reg
}
