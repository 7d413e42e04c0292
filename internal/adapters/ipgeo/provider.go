package ipgeo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/ports"
)

// Provider implements ports.PositionProvider by geolocating the server's
// public IP address. Permission is the operator's configured consent.
type Provider struct {
	client  *fasthttp.Client
	url     string
	consent bool
	timeout time.Duration
}

// New creates a Provider querying url, which must answer with a JSON body
// carrying latitude and longitude fields.
func New(url string, consent bool, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{
		client:  &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout},
		url:     url,
		consent: consent,
		timeout: timeout,
	}
}

// RequestPermission reports the configured consent. There is no prompt on
// a server, so the operator's setting stands in for the user's answer.
func (p *Provider) RequestPermission(ctx context.Context) (ports.Permission, error) {
	if p.consent {
		return ports.PermissionGranted, nil
	}
	return ports.PermissionDenied, nil
}

type locationResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CurrentPosition returns the IP-derived position. IP lookups are always
// city-level, so the requested accuracy is not used.
func (p *Provider) CurrentPosition(ctx context.Context, _ ports.Accuracy) (domain.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return domain.Coordinates{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		return domain.Coordinates{}, fmt.Errorf("fetch location: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return domain.Coordinates{}, fmt.Errorf("location API returned status %d", resp.StatusCode())
	}

	var body locationResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return domain.Coordinates{}, fmt.Errorf("parse location response: %w", err)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return domain.Coordinates{}, fmt.Errorf("location response has no coordinates")
	}
	return domain.Coordinates{Latitude: *body.Latitude, Longitude: *body.Longitude}, nil
}
