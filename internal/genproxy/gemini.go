// Package genproxy forwards prompts to Gemini: plain text completion, image
// generation and a web search pipeline in which the model calls a search tool
// and summarizes what it returns. Every failure is an *Error tagged with the
// subsystem that produced it.
package genproxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/domain"
)

// Model is the part of *genai.GenerativeModel used for one-shot calls.
type Model interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Conversation is the part of *genai.ChatSession used by the search pipeline.
type Conversation interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// SearchOutput is the summarized result of a web search.
type SearchOutput struct {
	Summary string                `json:"summary"`
	Results []domain.SearchResult `json:"results"`
}

// NoSearchSummary is returned as the summary when neither the model nor the
// tool produced anything.
const NoSearchSummary = "Could not find or summarize information for your search."

const searchFunctionName = "searchTheWeb"

// Gemini implements the three generation paths.
type Gemini struct {
	Text      Model
	Image     Model
	NewSearch func() Conversation
	Tool      SearchTool

	// MaxToolRounds bounds the function-calling loop. Defaults to 3.
	MaxToolRounds int
}

// NewGemini wires models from client according to cfg.
func NewGemini(client *genai.Client, cfg config.GenAIConfig, tool SearchTool) *Gemini {
	text := client.GenerativeModel(cfg.TextModel)

	// Explicit product choice: image prompts are never filtered by the
	// provider's default safety thresholds.
	image := client.GenerativeModel(cfg.ImageModel)
	image.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}

	search := client.GenerativeModel(cfg.SearchModel)
	search.Tools = []*genai.Tool{searchToolDecl}
	search.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(searchInstruction)}}
	search.SetTemperature(0.2)

	return &Gemini{
		Text:      text,
		Image:     image,
		NewSearch: func() Conversation { return search.StartChat() },
		Tool:      tool,
	}
}

var searchToolDecl = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        searchFunctionName,
		Description: "Searches the web for information related to the user query and returns a list of relevant search results.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {Type: genai.TypeString, Description: "The search query to look up on the web."},
			},
			Required: []string{"query"},
		},
	}},
}

const searchInstruction = `You are a helpful research assistant.
First call the searchTheWeb function with the user's query.
After receiving the results, write a concise summary of the key information found.
Reply with a single JSON object and nothing else:
{"summary": string, "results": [{"title": string, "link": string, "snippet": string}]}
The "results" field must list every result returned by the function, verbatim.`

func tracer() trace.Tracer { return otel.Tracer("genproxy/Gemini") }

// GenerateText returns the model's text reply to prompt.
func (g *Gemini) GenerateText(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer().Start(ctx, "GenerateText")
	defer span.End()

	resp, err := g.Text.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fail(ctx, span, wrap(SubsystemText, err))
	}
	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", fail(ctx, span, &Error{Subsystem: SubsystemText, Message: "the model returned an empty response"})
	}
	span.SetAttributes(attribute.Int("response.len", len(text)))
	return text, nil
}

// GenerateImage returns the first image produced for prompt as a data URI.
func (g *Gemini) GenerateImage(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer().Start(ctx, "GenerateImage")
	defer span.End()

	resp, err := g.Image.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fail(ctx, span, wrap(SubsystemImage, err))
	}
	for _, c := range candidates(resp) {
		for _, p := range c.Content.Parts {
			if b, ok := p.(genai.Blob); ok && len(b.Data) > 0 {
				mime := b.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b.Data), nil
			}
		}
	}
	return "", fail(ctx, span, &Error{
		Subsystem: SubsystemImage,
		Message:   "no image could be generated; this may be due to the prompt content, safety filters or other provider-side reasons",
	})
}

// Search runs the tool-calling pipeline for query.
func (g *Gemini) Search(ctx context.Context, query string) (*SearchOutput, error) {
	ctx, span := tracer().Start(ctx, "Search")
	defer span.End()

	conv := g.NewSearch()
	resp, err := conv.SendMessage(ctx, genai.Text(fmt.Sprintf("The user wants to find information about: %q", query)))
	if err != nil {
		return nil, fail(ctx, span, wrap(SubsystemSearch, err))
	}

	rounds := g.MaxToolRounds
	if rounds <= 0 {
		rounds = 3
	}
	var toolResults []domain.SearchResult
	for i := 0; i < rounds; i++ {
		calls := functionCalls(resp)
		if len(calls) == 0 {
			break
		}
		replies := make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			if call.Name != searchFunctionName {
				replies = append(replies, genai.FunctionResponse{
					Name:     call.Name,
					Response: map[string]any{"error": "unknown function"},
				})
				continue
			}
			q, _ := call.Args["query"].(string)
			if strings.TrimSpace(q) == "" {
				q = query
			}
			results, err := g.Tool.Search(ctx, q)
			if err != nil {
				return nil, fail(ctx, span, &Error{Subsystem: SubsystemSearch, Message: "search tool failed: " + err.Error(), Err: err})
			}
			toolResults = append(toolResults, results...)
			replies = append(replies, genai.FunctionResponse{
				Name:     call.Name,
				Response: map[string]any{"results": resultsToAny(results)},
			})
		}
		resp, err = conv.SendMessage(ctx, replies...)
		if err != nil {
			return nil, fail(ctx, span, wrap(SubsystemSearch, err))
		}
	}

	out := parseSearchOutput(responseText(resp))
	if len(out.Results) == 0 {
		out.Results = toolResults
	}
	if out.Summary == "" && len(out.Results) == 0 {
		zerolog.Ctx(ctx).Warn().Msg("web search produced neither summary nor results")
		out.Summary = NoSearchSummary
	}
	span.SetAttributes(attribute.Int("search.results", len(out.Results)))
	return out, nil
}

// parseSearchOutput reads the model's JSON reply, tolerating code fences and
// surrounding prose. Non-JSON text becomes the summary.
func parseSearchOutput(text string) *SearchOutput {
	text = strings.TrimSpace(text)
	out := &SearchOutput{}
	if text == "" {
		return out
	}
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		if err := json.Unmarshal([]byte(text[i:j+1]), out); err == nil {
			out.Summary = strings.TrimSpace(out.Summary)
			return out
		}
	}
	out.Summary = strings.Trim(text, "`")
	return out
}

func resultsToAny(rs []domain.SearchResult) []any {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, map[string]any{"title": r.Title, "link": r.Link, "snippet": r.Snippet})
	}
	return out
}

func candidates(resp *genai.GenerateContentResponse) []*genai.Candidate {
	if resp == nil {
		return nil
	}
	out := make([]*genai.Candidate, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		if c != nil && c.Content != nil {
			out = append(out, c)
		}
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, c := range candidates(resp) {
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// first usable candidate only
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

func functionCalls(resp *genai.GenerateContentResponse) []genai.FunctionCall {
	var out []genai.FunctionCall
	for _, c := range candidates(resp) {
		for _, p := range c.Content.Parts {
			if fc, ok := p.(genai.FunctionCall); ok {
				out = append(out, fc)
			}
		}
	}
	return out
}

func fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var ge *Error
	if errors.As(err, &ge) {
		zerolog.Ctx(ctx).Warn().Err(ge.Err).Str("subsystem", string(ge.Subsystem)).Msg(ge.Message)
	}
	return err
}
