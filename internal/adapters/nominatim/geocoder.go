package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/samirrijal/souq/internal/core/domain"
)

// Config configures a Geocoder.
type Config struct {
	BaseURL       string
	Language      string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
}

// Geocoder implements ports.ReverseGeocoder against a Nominatim server.
type Geocoder struct {
	client         *fasthttp.Client
	baseURL        string
	acceptLanguage string
	userAgent      string
	timeout        time.Duration
	limiter        *rate.Limiter
}

// New creates a Geocoder. An unparseable language falls back to Arabic.
func New(cfg Config) *Geocoder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	return &Geocoder{
		client: &fasthttp.Client{
			Name:         cfg.UserAgent,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		acceptLanguage: acceptLanguage(cfg.Language),
		userAgent:      cfg.UserAgent,
		timeout:        cfg.Timeout,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}
}

// acceptLanguage builds the header value: the configured language first,
// English as a lower-weighted fallback.
func acceptLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Arabic
	}
	base, _ := tag.Base()
	if base.String() == "en" {
		return tag.String()
	}
	return tag.String() + ",en;q=0.5"
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
	} `json:"address"`
}

// name picks the most specific populated place name.
func (r reverseResponse) name() string {
	for _, n := range []string{r.Address.City, r.Address.Town, r.Address.Village, r.Address.State, r.DisplayName} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

// Lookup returns the place name for coords.
func (g *Geocoder) Lookup(ctx context.Context, coords domain.Coordinates) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.baseURL + "/reverse")
	args := req.URI().QueryArgs()
	args.Set("format", "jsonv2")
	args.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', 6, 64))
	args.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', 6, 64))
	args.Set("zoom", "10")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAcceptLanguage, g.acceptLanguage)
	if g.userAgent != "" {
		req.Header.SetUserAgent(g.userAgent)
	}

	if err := g.client.DoDeadline(req, resp, deadline(ctx, g.timeout)); err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("reverse geocode: status %d", resp.StatusCode())
	}

	var body reverseResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("decode reverse geocode response: %w", err)
	}
	if body.Error != "" {
		return "", errors.New(body.Error)
	}
	name := body.name()
	if name == "" {
		return "", errors.New("reverse geocode: no place name")
	}
	return name, nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
