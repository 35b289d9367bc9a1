// Package investigation proxies lookups to the external consultation API and
// classifies its responses.
package investigation

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/pegasus-backend/internal/config"
)

const maxBodyBytes = 4 << 20

// Client performs lookups against the consultation API.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
	Table   []config.Consultation
}

// New builds a Client whose transport is traced with OpenTelemetry. A zero
// cfg.Timeout leaves requests bounded only by ctx.
func New(cfg config.InvestigationConfig) *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:  cfg.APIKey,
		Table:   cfg.Consultations,
	}
}

// Consultations lists the supported consultation types.
func (c *Client) Consultations() []config.Consultation {
	out := make([]config.Consultation, len(c.Table))
	copy(out, c.Table)
	return out
}

// Lookup returns the consultation registered under value.
func (c *Client) Lookup(value string) (config.Consultation, bool) {
	return config.InvestigationConfig{Consultations: c.Table}.Lookup(value)
}

// Investigate runs one lookup. Failures are reported in the Result, never as
// a Go error.
func (c *Client) Investigate(ctx context.Context, query, consultationType string) Result {
	ctx, span := otel.Tracer("investigation/Client").Start(ctx, "Investigate")
	defer span.End()
	span.SetAttributes(attribute.String("consultation.type", consultationType))

	log := zerolog.Ctx(ctx).With().Str("component", "investigation").Str("consultation", consultationType).Logger()

	query = strings.TrimSpace(query)
	if consultationType == "" {
		return Result{Error: "Investigation consultation type not specified.", QueryType: "not_specified"}
	}
	if query == "" {
		return Result{Error: "Investigation term must not be empty.", QueryType: consultationType}
	}
	cons, ok := c.Lookup(consultationType)
	if !ok {
		return Result{Error: "Unknown investigation consultation type: " + truncate(consultationType, 50) + ".", QueryType: consultationType}
	}
	if c.APIKey == "" {
		log.Error().Msg("investigation API key is not configured")
		return Result{Error: "Investigation API key is not configured on the server.", QueryType: consultationType}
	}

	u := c.BaseURL + "/" + cons.APIPath + "?query=" + url.QueryEscape(query) + "&apikey=" + url.QueryEscape(c.APIKey)
	log.Info().Str("url", c.mask(u)).Str("query_prefix", truncate(query, 30)).Msg("performing investigation")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{Error: "System error while investigating: " + truncate(c.mask(err.Error()), maxDetailRunes), QueryType: consultationType}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		span.RecordError(err)
		log.Error().Str("error", c.mask(err.Error())).Msg("investigation request failed")
		return Result{Error: "System error while investigating: " + truncate(c.mask(err.Error()), maxDetailRunes), QueryType: consultationType}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		log.Error().Err(err).Int("status", resp.StatusCode).Msg("reading investigation response")
		return Result{Error: "Error processing the investigation API response (" + resp.Status + ").", QueryType: consultationType}
	}

	res := Classify(resp.StatusCode, body)
	res.QueryType = consultationType
	span.SetAttributes(attribute.Int("http.status", resp.StatusCode), attribute.Bool("investigation.success", res.Success))
	if !res.Success {
		log.Warn().Int("status", resp.StatusCode).Str("detail", res.Error).Msg("investigation failed")
	}
	return res
}

// mask hides the API key, including its query-escaped form.
func (c *Client) mask(s string) string {
	if c.APIKey == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(c.APIKey), "***")
	return strings.ReplaceAll(s, c.APIKey, "***")
}
