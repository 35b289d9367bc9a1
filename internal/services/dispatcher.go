// Package services – Dispatcher
//
// Dispatcher runs one user submission end to end: it validates the form,
// picks the primary path (search, then investigation, then plain text), gates
// each call through the quota, captures proxy failures as error facets, and
// persists the result for signed-in users. Anonymous callers get the same
// messages synthesized in memory.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/genproxy"
	"github.com/tbourn/pegasus-backend/internal/investigation"
	"github.com/tbourn/pegasus-backend/internal/quota"
)

const (
	// AnonymousNotice is attached to outcomes of signed-out callers.
	AnonymousNotice = "Sign in to save your history."
	// NoActionNotice is returned when nothing could be run for a prompt.
	NoActionNotice = "No action selected. Choose text, image, investigation or search."

	maxErrorRunes = 200
)

var (
	interactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_interactions_total",
			Help: "Dispatched interactions by primary action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	proxyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_proxy_errors_total",
			Help: "Failed generation and investigation calls by subsystem.",
		},
		[]string{"subsystem"},
	)
)

func init() {
	prometheus.MustRegister(interactionsTotal, proxyErrorsTotal)
}

// Generator is the generation proxy used by the dispatcher.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Search(ctx context.Context, query string) (*genproxy.SearchOutput, error)
}

// Investigator is the investigation proxy used by the dispatcher.
type Investigator interface {
	Lookup(value string) (config.Consultation, bool)
	Investigate(ctx context.Context, query, consultationType string) investigation.Result
}

// Submission is one user form post.
type Submission struct {
	ChatID               string `json:"chat_id,omitempty"`
	Prompt               string `json:"prompt"`
	PerformSearch        bool   `json:"perform_search"`
	PerformInvestigation bool   `json:"perform_investigation"`
	ConsultationType     string `json:"consultation_type,omitempty"`
	GenerateImage        bool   `json:"generate_image"`
}

// Outcome is what the caller renders after a dispatch.
type Outcome struct {
	ChatID    string           `json:"chat_id,omitempty"`
	Messages  []domain.Message `json:"messages"`
	Anonymous bool             `json:"anonymous"`
	Notice    string           `json:"notice,omitempty"`
	// Errors are user-visible, subsystem-tagged and bounded.
	Errors []string `json:"errors,omitempty"`
}

// Dispatcher orchestrates a submission across the proxies, the quota gate and
// the chat store.
type Dispatcher struct {
	Chats        *ChatService
	Gen          Generator
	Investigator Investigator
	Quota        *quota.Gate

	MaxPromptRunes int
	Now            func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Dispatch runs sub on behalf of actor (nil for anonymous callers).
//
// Validation and quota errors abort before any proxy call and nothing is
// stored. Proxy failures never abort: they become error facets and entries
// in Outcome.Errors. A persistence failure is reported as a "History: ..."
// entry while the in-memory messages are still returned.
func (d *Dispatcher) Dispatch(ctx context.Context, actor *domain.Actor, sub Submission) (*Outcome, error) {
	ctx, span := otel.Tracer("services/Dispatcher").Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.Bool("actor.anonymous", actor == nil),
			attribute.String("chat.id", sub.ChatID),
			attribute.Bool("submit.search", sub.PerformSearch),
			attribute.Bool("submit.investigation", sub.PerformInvestigation),
			attribute.Bool("submit.image", sub.GenerateImage),
		),
	)
	defer span.End()
	if actor != nil {
		span.SetAttributes(attribute.String("user.id", actor.UserID), attribute.String("user.role", string(actor.Role)))
	}

	primary := primaryAction(sub)
	log := zerolog.Ctx(ctx).With().Str("component", "dispatcher").Str("action", string(primary)).Logger()

	out, err := d.dispatch(ctx, actor, sub, primary, log)
	switch {
	case err != nil:
		outcome := "invalid"
		var denied *quota.DeniedError
		if errors.As(err, &denied) || errors.Is(err, quota.ErrSignInRequired) {
			outcome = "denied"
		}
		interactionsTotal.WithLabelValues(string(primary), outcome).Inc()
		span.SetStatus(codes.Error, err.Error())
		log.Info().Err(err).Msg("submission rejected")
	case len(out.Errors) > 0:
		interactionsTotal.WithLabelValues(string(primary), "error").Inc()
	default:
		interactionsTotal.WithLabelValues(string(primary), "ok").Inc()
	}
	return out, err
}

func primaryAction(sub Submission) quota.Action {
	switch {
	case sub.PerformSearch:
		return quota.ActionSearch
	case sub.PerformInvestigation:
		return quota.ActionInvestigation
	case sub.GenerateImage:
		return quota.ActionImage
	}
	return quota.ActionText
}

func (d *Dispatcher) dispatch(ctx context.Context, actor *domain.Actor, sub Submission, primary quota.Action, log zerolog.Logger) (*Outcome, error) {
	prompt := strings.TrimSpace(sub.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if d.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > d.MaxPromptRunes {
		return nil, ErrTooLong
	}

	search := sub.PerformSearch
	investigate := sub.PerformInvestigation && !search
	if investigate {
		if sub.ConsultationType == "" {
			return nil, ErrConsultationRequired
		}
		if _, ok := d.Investigator.Lookup(sub.ConsultationType); !ok {
			return nil, ErrUnknownConsultation
		}
	}

	hasActiveChat := sub.ChatID != ""
	if actor != nil && hasActiveChat {
		if _, err := d.Chats.GetSession(ctx, actor.UserID, sub.ChatID); err != nil {
			return nil, err
		}
	}

	rec := &InteractionRecord{Prompt: prompt}
	out := &Outcome{ChatID: sub.ChatID}
	taken := false
	fail := func(s genproxy.Subsystem, msg string) {
		proxyErrorsTotal.WithLabelValues(string(s)).Inc()
		out.Errors = append(out.Errors, msg)
		log.Warn().Str("subsystem", string(s)).Str("error", msg).Msg("proxy call failed")
	}

	if search {
		if err := d.Quota.Check(actor, quota.ActionSearch, hasActiveChat); err != nil {
			return nil, err
		}
		taken = true
		res, err := d.Gen.Search(ctx, prompt)
		if err != nil {
			msg := proxyMessage(genproxy.SubsystemSearch, err)
			rec.SearchError = &msg
			fail(genproxy.SubsystemSearch, msg)
		} else {
			rec.SearchSummary = res.Summary
			rec.SearchResults = res.Results
			if res.Summary != "" || len(res.Results) > 0 {
				d.Quota.Consume(actor)
			}
		}
	} else if investigate {
		if err := d.Quota.Check(actor, quota.ActionInvestigation, hasActiveChat); err != nil {
			return nil, err
		}
		taken = true
		rec.ConsultationType = sub.ConsultationType
		res := d.Investigator.Investigate(ctx, prompt, sub.ConsultationType)
		data, jerr := marshalData(res.Data)
		if jerr != nil {
			log.Error().Err(jerr).Msg("encoding investigation data")
		}
		switch {
		case res.Success && res.HasData():
			rec.InvestigationData = data
			rec.InvestigationError = res.Error
			d.Quota.Consume(actor)
		case res.Error != "":
			rec.InvestigationError = res.Error
			rec.InvestigationData = data
			fail(subsystemInvestigation, res.Error)
		default:
			msg := "Investigation for '" + sub.ConsultationType + "' returned no clear data."
			rec.InvestigationError = msg
			rec.InvestigationData = data
			fail(subsystemInvestigation, msg)
		}
	}

	fallback := (!search && !investigate) ||
		(search && rec.SearchSummary == "" && len(rec.SearchResults) == 0 && rec.SearchError == nil) ||
		(investigate && len(rec.InvestigationData) == 0 && rec.InvestigationError == "")

	wantImage := sub.GenerateImage && !search && !investigate
	if wantImage {
		// image denial must happen before the text proxy runs
		if err := d.Quota.Check(actor, quota.ActionImage, hasActiveChat); err != nil {
			return nil, err
		}
	}

	if fallback {
		if err := d.Quota.Check(actor, quota.ActionText, hasActiveChat); err != nil {
			return nil, err
		}
		taken = true
		text, err := d.Gen.GenerateText(ctx, prompt)
		if err != nil {
			rec.TextError = proxyMessage(genproxy.SubsystemText, err)
			fail(genproxy.SubsystemText, rec.TextError)
		} else {
			rec.Text = text
			if !search && !investigate && !wantImage {
				d.Quota.Consume(actor)
			}
		}
	}

	if wantImage {
		taken = true
		uri, err := d.Gen.GenerateImage(ctx, prompt)
		if err != nil {
			rec.ImageError = proxyMessage(genproxy.SubsystemImage, err)
			fail(genproxy.SubsystemImage, rec.ImageError)
		} else {
			rec.ImageURI = uri
			d.Quota.Consume(actor)
		}
	}

	if !taken {
		out.Notice = NoActionNotice
		out.Messages = []domain.Message{}
		return out, nil
	}

	if actor == nil {
		out.Anonymous = true
		out.Notice = AnonymousNotice
		out.Messages = d.synthesize(rec, sub.ChatID)
		return out, nil
	}

	chatID, err := d.Chats.LogInteraction(ctx, sub.ChatID, actor.UserID, rec)
	out.ChatID = chatID
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("persisting interaction")
		out.Errors = append(out.Errors, historyMessage(err))
		out.Messages = d.synthesize(rec, chatID)
		return out, nil
	}

	msgs, err := d.Chats.ListMessages(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("reloading messages")
		out.Errors = append(out.Errors, historyMessage(err))
		out.Messages = d.synthesize(rec, chatID)
		return out, nil
	}
	out.Messages = msgs
	return out, nil
}

// subsystemInvestigation labels investigation failures in metrics.
const subsystemInvestigation genproxy.Subsystem = "investigation"

// synthesize builds display-only messages for records that are not (or could
// not be) persisted.
func (d *Dispatcher) synthesize(rec *InteractionRecord, chatID string) []domain.Message {
	now := d.now()
	msgs := rec.Messages()
	for i := range msgs {
		msgs[i].ChatID = chatID
		msgs[i].Timestamp = now
	}
	return msgs
}

func marshalData(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// proxyMessage renders err as a bounded, subsystem-tagged message.
func proxyMessage(sub genproxy.Subsystem, err error) string {
	var ge *genproxy.Error
	if errors.As(err, &ge) {
		return ge.Error()
	}
	return (&genproxy.Error{Subsystem: sub, Message: err.Error()}).Error()
}

func historyMessage(err error) string {
	msg := "History: could not save the interaction: " + err.Error()
	if utf8.RuneCountInString(msg) > maxErrorRunes {
		msg = string([]rune(msg)[:maxErrorRunes])
	}
	return msg
}
