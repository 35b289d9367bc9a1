package services

import (
	"gorm.io/datatypes"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// InteractionRecord accumulates one user prompt and the AI outputs produced
// for it during a single dispatch. It is never persisted as-is; Messages fans
// it out into one user message plus one AI message per populated facet.
type InteractionRecord struct {
	Prompt string

	Text      string
	TextError string

	ImageURI   string
	ImageError string

	ConsultationType   string
	InvestigationData  datatypes.JSON
	InvestigationError string

	SearchSummary string
	SearchResults []domain.SearchResult
	SearchError   *string
}

// HasText reports whether the text facet is populated.
func (r *InteractionRecord) HasText() bool { return r.Text != "" || r.TextError != "" }

// HasImage reports whether the image facet is populated.
func (r *InteractionRecord) HasImage() bool { return r.ImageURI != "" || r.ImageError != "" }

// HasInvestigation reports whether the investigation facet is populated.
func (r *InteractionRecord) HasInvestigation() bool {
	return len(r.InvestigationData) > 0 || r.InvestigationError != "" || r.ConsultationType != ""
}

// HasSearch reports whether the search facet is populated.
func (r *InteractionRecord) HasSearch() bool {
	return r.SearchSummary != "" || len(r.SearchResults) > 0 || r.SearchError != nil
}

// Messages returns the user message followed by the AI messages in the order
// text, image, investigation, search. IDs, chat ids and timestamps are left
// for the caller to fill in.
func (r *InteractionRecord) Messages() []domain.Message {
	prompt := r.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	out := []domain.Message{{Sender: domain.SenderUser, Prompt: prompt}}

	if r.HasText() {
		out = append(out, domain.Message{Sender: domain.SenderAI, Response: r.Text, TextError: r.TextError})
	}
	if r.HasImage() {
		out = append(out, domain.Message{Sender: domain.SenderAI, ImageURI: r.ImageURI, ImageError: r.ImageError})
	}
	if r.HasInvestigation() {
		out = append(out, domain.Message{
			Sender:             domain.SenderAI,
			InvestigationData:  r.InvestigationData,
			InvestigationError: r.InvestigationError,
			ConsultationType:   r.ConsultationType,
		})
	}
	if r.HasSearch() {
		out = append(out, domain.Message{
			Sender:        domain.SenderAI,
			SearchSummary: r.SearchSummary,
			SearchResults: r.SearchResults,
			SearchError:   r.SearchError,
		})
	}
	return out
}
