package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestFetchOffersMissingToken(t *testing.T) {
	c := NewClient(ClientOptions{}, noopLogger())
	_, err := c.FetchOffers(context.Background(), Query{Page: 1})
	require.ErrorIs(t, err, ErrTokenMissing)
}

func TestFetchOffersEncodesQuery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "offers": []any{}})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Token: "tok", Timeout: time.Second}, noopLogger())
	_, err := c.FetchOffers(context.Background(), Query{
		Status:        "Active",
		SortByPerform: true,
		Limit:         100,
		Page:          7,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", got["mwsd"])
	assert.Equal(t, "Active", got["status"])
	assert.Equal(t, "Performance", got["order_by"])
	assert.Equal(t, "100", got["limit"])
	assert.Equal(t, "7", got["pages"])
	assert.NotContains(t, got, "offers")

	_, err = c.FetchOffers(context.Background(), Query{OfferIDs: []string{"1", "2", "3"}})
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", got["offers"])
	assert.NotContains(t, got, "pages")
	assert.NotContains(t, got, "order_by")
}

func TestFetchOffersDecodesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"meta":{"total":2,"total_pages":1,"page":1,"limit":"100"},"offers":[
			{"offer_id":"11","offer_name":"A","status":"Active","payout":"1.25","daily_cap":"100","filled_cap":null,"last_conv":"5m"},
			{"offer_id":"12","offer_name":"B","status":"Paused","payout":0.4,"daily_cap":"","filled_cap":"3","last_conv":null}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Token: "tok"}, noopLogger())
	offers, err := c.FetchOffers(context.Background(), Query{Page: 1})
	require.NoError(t, err)
	require.Len(t, offers, 2)

	assert.Equal(t, "11", offers[0].ID)
	assert.Equal(t, Text("1.25"), offers[0].Payout)
	assert.Equal(t, Text(""), offers[0].FilledCap)
	require.NotNil(t, offers[0].LastActivity)
	assert.Equal(t, "5m", *offers[0].LastActivity)
	assert.True(t, offers[0].HasActivity())

	assert.Equal(t, Text("0.4"), offers[1].Payout)
	assert.Nil(t, offers[1].LastActivity)
	assert.False(t, offers[1].HasActivity())
}

func TestFetchOffersRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Token: "tok"}, noopLogger())
	_, err := c.FetchOffers(context.Background(), Query{Page: 1})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.True(t, IsRateLimited(err))
}

func TestFetchOffersUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"invalid token"}`)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Token: "tok"}, noopLogger())
	_, err := c.FetchOffers(context.Background(), Query{Page: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.False(t, IsRateLimited(err))
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, IsRateLimited(nil))
	assert.True(t, IsRateLimited(errors.New("Rate limit exceeded")))
	assert.True(t, IsRateLimited(errors.New("Too Many Requests")))
	assert.True(t, IsRateLimited(fmt.Errorf("page 3: %w", &HTTPError{StatusCode: 429})))
	assert.False(t, IsRateLimited(&HTTPError{StatusCode: 500, Body: "boom"}))
	assert.False(t, IsRateLimited(errors.New("connection reset")))
}
