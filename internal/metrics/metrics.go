// Package metrics holds the OpenTelemetry instruments recorded by the
// session and OAuth layers. A noop meter provider is used unless the
// host process installs a real one, so recording is always safe.
package metrics

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scope = "github.com/scholarmcp/scholarmcp"

// Metrics bundles the counters shared across the server.
type Metrics struct {
	SessionsCreated metric.Int64Counter
	SessionsEvicted metric.Int64Counter
	EventsPushed    metric.Int64Counter

	ClientsRegistered metric.Int64Counter
	CodesIssued       metric.Int64Counter
	TokensIssued      metric.Int64Counter
	TokensRefreshed   metric.Int64Counter
	AuthFailures      metric.Int64Counter
}

// New creates the instrument set against the given provider. A nil
// provider yields noop instruments.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(scope)

	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.SessionsCreated, "mcp.sessions.created", "Number of sessions created", "{session}"},
		{&m.SessionsEvicted, "mcp.sessions.evicted", "Number of stale sessions evicted", "{session}"},
		{&m.EventsPushed, "mcp.session.events.pushed", "Number of events pushed into session mailboxes", "{event}"},
		{&m.ClientsRegistered, "oauth.clients.registered", "Number of dynamically registered clients", "{client}"},
		{&m.CodesIssued, "oauth.codes.issued", "Number of authorization codes issued", "{code}"},
		{&m.TokensIssued, "oauth.tokens.issued", "Number of token pairs issued", "{token}"},
		{&m.TokensRefreshed, "oauth.tokens.refreshed", "Number of token pairs rotated via refresh", "{token}"},
		{&m.AuthFailures, "mcp.auth.failures", "Number of rejected transport authentications", "{request}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}
	return m, nil
}

// Noop returns an instrument set backed by the noop provider.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}
