package genproxy

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// SearchTool serves the searchTheWeb function calls emitted by the model.
type SearchTool interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// MockSearchTool fabricates three templated results for any query. Latency
// simulates a slow backend and honours ctx cancellation.
type MockSearchTool struct {
	Latency time.Duration
}

func (m MockSearchTool) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	q := strings.TrimSpace(query)
	slug := strings.ToLower(strings.Join(strings.Fields(q), "-"))
	h := fnv.New32a()
	_, _ = h.Write([]byte(q))

	return []domain.SearchResult{
		{
			Title:   fmt.Sprintf("Understanding %q - Example.com", q),
			Link:    "https://example.com/search?q=" + url.QueryEscape(q) + "&source=1",
			Snippet: fmt.Sprintf("Detailed analysis and information regarding %q. This mock result provides an overview from Example.com.", q),
		},
		{
			Title:   fmt.Sprintf("%q News and Updates - FictionalNews", q),
			Link:    "https://fictionalnews.example/articles/" + url.PathEscape(slug),
			Snippet: fmt.Sprintf("Latest (mock) news and discussions surrounding %q. Stay updated with FictionalNews.", q),
		},
		{
			Title:   fmt.Sprintf("Community Forum on %q - OurCommunity.example", q),
			Link:    fmt.Sprintf("https://ourcommunity.example/forum/t/%d", h.Sum32()%10000),
			Snippet: fmt.Sprintf("User discussions, opinions, and experiences related to %q on OurCommunity.example.", q),
		},
	}, nil
}
