package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// WeatherClient fetches current weather for a city.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.Reading, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrConnectivity    = errors.New("weather service unreachable")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrMalformedBody   = errors.New("malformed weather response")
)

// maxErrorBody caps how much of an error response is read when looking for the API message.
const maxErrorBody = 64 << 10

// APIError is a non-2xx answer from the weather API. Message is the API's own
// "message" field when present. Unwrap returns the matching sentinel error.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: HTTP %d", e.kind, e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// Options configures OpenWeatherClient beyond the required key and URL.
type Options struct {
	Lang           string
	IconURL        string // printf pattern with one %s for the icon code
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HTTPClient     *http.Client
}

type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	iconURL        string
	lang           string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithOptions(apiKey, apiURL, Options{Timeout: timeout})
}

func NewOpenWeatherClientWithOptions(apiKey, apiURL string, opts Options) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.IconURL == "" {
		opts.IconURL = "https://openweathermap.org/img/wn/%s@2x.png"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		iconURL:        opts.IconURL,
		lang:           opts.Lang,
		timeout:        opts.Timeout,
		client:         httpClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}, nil
}

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
}

// requiredFields records which fields a 200 response actually carried.
// A reading is not built from a body that lacks any of them.
type requiredFields struct {
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *int     `json:"humidity"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

func (r requiredFields) missing() string {
	switch {
	case r.Main == nil:
		return "main"
	case r.Main.Temp == nil:
		return "main.temp"
	case r.Main.Humidity == nil:
		return "main.humidity"
	case r.Wind == nil:
		return "wind"
	case r.Wind.Speed == nil:
		return "wind.speed"
	}
	return ""
}

type openWeatherError struct {
	Message string `json:"message"`
}

// GetCurrentWeather fetches the current reading for city. With the default single attempt
// there is no retry; when configured, connectivity, 429 and 5xx failures are retried with backoff.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string) (models.Reading, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return models.Reading{}, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		result, err := c.callAPI(ctx, city)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return models.Reading{}, err
		}
	}

	if c.retryAttempts > 1 {
		return models.Reading{}, fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return models.Reading{}, lastErr
}

// IconURL returns the image URL for an icon code, or "" when code is empty.
func (c *OpenWeatherClient) IconURL(code string) string {
	if code == "" {
		return ""
	}
	return fmt.Sprintf(c.iconURL, url.PathEscape(code))
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, city string) (models.Reading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Reading{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())

		// Caller cancellation is not a network problem.
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.Reading{}, ctx.Err()
		}
		return models.Reading{}, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := c.handleErrorResponse(resp); err != nil {
		return models.Reading{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: read response body: %v", ErrConnectivity, err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Reading{}, fmt.Errorf("parse response: %w", err)
	}
	var present requiredFields
	if err := json.Unmarshal(body, &present); err != nil {
		return models.Reading{}, fmt.Errorf("parse response: %w", err)
	}
	if field := present.missing(); field != "" {
		return models.Reading{}, fmt.Errorf("parse response: %w: missing %s", ErrMalformedBody, field)
	}

	return c.mapResponse(apiResp, city), nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	return errors.Is(err, ErrConnectivity) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstreamFailure)
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	if c.lang != "" {
		params.Set("lang", c.lang)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse maps non-2xx responses to an *APIError carrying the API's message.
func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = ErrInvalidAPIKey
	case resp.StatusCode == http.StatusNotFound:
		kind = ErrCityNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = ErrRateLimited
	default:
		kind = ErrUpstreamFailure
	}

	var apiErr openWeatherError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(body, &apiErr)

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(apiErr.Message),
		kind:       kind,
	}
}

func (c *OpenWeatherClient) mapResponse(apiResp openWeatherResponse, city string) models.Reading {
	var description, icon string
	if len(apiResp.Weather) > 0 {
		description = apiResp.Weather[0].Main
		if apiResp.Weather[0].Description != "" {
			description = apiResp.Weather[0].Description
		}
		icon = apiResp.Weather[0].Icon
	}

	displayName := apiResp.Name
	if displayName == "" {
		displayName = city
	}

	return models.Reading{
		City:        displayName,
		Temperature: apiResp.Main.Temp,
		Humidity:    apiResp.Main.Humidity,
		WindSpeed:   apiResp.Wind.Speed,
		Icon:        icon,
		Description: description,
		FetchedAt:   time.Now().UTC(),
	}
}

// WithCorrelationID attaches a correlation ID that is forwarded to the weather API as X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return observability.WithCorrelationID(ctx, id)
}

func extractCorrelationID(ctx context.Context) string {
	return observability.CorrelationID(ctx)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a probe request and reports whether the key is accepted.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: validation request failed: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
