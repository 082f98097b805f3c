package scholar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURLs(srv.URL, srv.URL), WithAPIKey("test-key"))
}

func TestSearchPapersSendsQueryAndKey(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.Header.Get("x-api-key")
		json.NewEncoder(w).Encode(SearchResult{
			Total: 1,
			Data:  []Paper{{PaperID: "p1", Title: "Attention Is All You Need", Year: 2017}},
		})
	})

	result, err := client.SearchPapers(context.Background(), "attention", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/paper/search" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotQuery != "attention" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header not sent: %q", gotKey)
	}
	if len(result.Data) != 1 || result.Data[0].PaperID != "p1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetPaperEscapesIdentifier(t *testing.T) {
	var gotPath string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(Paper{PaperID: "p1", Title: "T"})
	})

	if _, err := client.GetPaper(context.Background(), "DOI:10.1000/x y"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/paper/DOI:10.1000%2Fx%20y" {
		t.Fatalf("identifier not escaped: %q", gotPath)
	}
}

func TestGetPapersBatchDropsNulls(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`[{"paperId":"a","title":"A"},null,{"paperId":"b","title":"B"}]`))
	})

	papers, err := client.GetPapersBatch(context.Background(), []string{"a", "bad", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 2 || papers[0].PaperID != "a" || papers[1].PaperID != "b" {
		t.Fatalf("nulls not dropped: %+v", papers)
	}
}

func TestClientRetriesOn429(t *testing.T) {
	attempts := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Paper{PaperID: "p1"})
	})

	paper, err := client.GetPaper(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	if paper.PaperID != "p1" {
		t.Fatalf("unexpected paper: %+v", paper)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Paper not found"}`))
	})

	_, err := client.GetPaper(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("4xx must not retry, got %d attempts", attempts)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound || se.Message != "Paper not found" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMatchPaperTitleUnwrapsData(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/search/match" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"paperId":"m1","title":"Matched"}]}`))
	})

	paper, err := client.MatchPaperTitle(context.Background(), "Matched")
	if err != nil {
		t.Fatal(err)
	}
	if paper.PaperID != "m1" {
		t.Fatalf("unexpected paper: %+v", paper)
	}
}

func TestRecommendationsPostsSeeds(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PositivePaperIDs []string `json:"positivePaperIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(body.PositivePaperIDs) != 2 {
			t.Errorf("seeds not sent: %v", body.PositivePaperIDs)
		}
		w.Write([]byte(`{"recommendedPapers":[{"paperId":"r1","title":"Rec"}]}`))
	})

	papers, err := client.Recommendations(context.Background(), []string{"a", "b"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 1 || papers[0].PaperID != "r1" {
		t.Fatalf("unexpected papers: %+v", papers)
	}
}
