package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://affiliates.mobipium.com/api/cpa/findmyoffers"

// ErrTokenMissing is returned when no API token is configured.
var ErrTokenMissing = errors.New("upstream api token not configured")

// ClientOptions parameterise the upstream client.
type ClientOptions struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the upstream offer listing endpoint.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs an upstream client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "upstream_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchOffers performs a single listing request.
func (c *Client) FetchOffers(ctx context.Context, q Query) ([]Offer, error) {
	if c.opts.Token == "" {
		return nil, ErrTokenMissing
	}

	endpoint := c.baseURL + "?" + c.encode(q).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	var listing listResponse
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if !listing.Success {
		msg := listing.Message
		if msg == "" {
			msg = listing.Error
		}
		if msg == "" {
			return nil, errors.New("upstream returned unsuccessful response")
		}
		return nil, fmt.Errorf("upstream returned unsuccessful response: %s", msg)
	}

	c.logger.Debug().
		Int("page", q.Page).
		Int("ids", len(q.OfferIDs)).
		Int("offers", len(listing.Offers)).
		Int("total_pages", listing.Meta.TotalPages).
		Msg("listing fetched")

	return listing.Offers, nil
}

func (c *Client) encode(q Query) url.Values {
	v := url.Values{}
	v.Set("mwsd", c.opts.Token)
	setIf(v, "status", q.Status)
	setIf(v, "country", q.Country)
	setIf(v, "verticals", q.Verticals)
	setIf(v, "flows", q.Flows)
	setIf(v, "payout_above", q.PayoutAbove)
	if q.SortByPerform {
		v.Set("order_by", "Performance")
	}
	if len(q.OfferIDs) > 0 {
		v.Set("offers", strings.Join(q.OfferIDs, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Page > 0 {
		v.Set("pages", strconv.Itoa(q.Page))
	}
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

type listResponse struct {
	Success bool `json:"success"`
	Meta    struct {
		Total      int `json:"total"`
		TotalPages int `json:"total_pages"`
		Page       int `json:"page"`
	} `json:"meta"`
	Offers  []Offer `json:"offers"`
	Message string  `json:"message"`
	Error   string  `json:"error"`
}

var _ OfferLister = (*Client)(nil)
