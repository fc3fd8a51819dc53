package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"libracheck/internal/errs"
)

const analyzePath = "/computervision/imageanalysis:analyze?api-version=2023-10-01&features=tags"

// VisionConfig configures the image tagging client.
type VisionConfig struct {
	Endpoint      string
	Key           string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// MaxFailures consecutive failures open the breaker.
	MaxFailures   uint32
	OpenFor       time.Duration
	MinConfidence float64
}

// VisionClient submits image URLs to an image analysis service and returns
// the tag names it reports.
type VisionClient struct {
	endpoint      string
	key           string
	minConfidence float64
	http          *http.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	tracer        trace.Tracer
}

// NewVisionClient creates a client. Zero values in cfg fall back to defaults.
func NewVisionClient(cfg VisionConfig) *VisionClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}

	maxFailures := cfg.MaxFailures
	return &VisionClient{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		key:           cfg.Key,
		minConfidence: cfg.MinConfidence,
		http:          &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "vision",
			Timeout: cfg.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
		tracer: otel.Tracer("libracheck/clients/vision"),
	}
}

type analyzeRequest struct {
	URL string `json:"url"`
}

type analyzeResponse struct {
	TagsResult *struct {
		Values []struct {
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		} `json:"values"`
	} `json:"tagsResult"`
}

// AnalyzeFromURL returns the tags found in the image at imageURL. It makes a
// single attempt; every failure wraps errs.ErrAdapter.
func (c *VisionClient) AnalyzeFromURL(ctx context.Context, imageURL string) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "vision.analyze",
		trace.WithAttributes(attribute.String("image.url", imageURL)),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, "rate limited")
		return nil, fmt.Errorf("%w: waiting for rate limiter: %w", errs.ErrAdapter, err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.analyze(ctx, imageURL)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", errs.ErrAdapter, err)
	}

	tags := out.([]string)
	span.SetAttributes(attribute.Int("tags.count", len(tags)))
	return tags, nil
}

func (c *VisionClient) analyze(ctx context.Context, imageURL string) ([]string, error) {
	body, err := json.Marshal(analyzeRequest{URL: imageURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+analyzePath, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var tags []string
	if result.TagsResult == nil {
		return tags, nil
	}
	for _, v := range result.TagsResult.Values {
		if v.Name == "" || v.Confidence < c.minConfidence {
			continue
		}
		tags = append(tags, v.Name)
	}
	return tags, nil
}
