package fetcher

import (
	"context"
	"encoding/json"
	"strings"
)

// OfferLister retrieves one page or one identifier batch of offers from the
// upstream listing API.
type OfferLister interface {
	FetchOffers(ctx context.Context, q Query) ([]Offer, error)
}

// Query selects what the upstream returns. Exactly one of Page or OfferIDs is
// normally set.
type Query struct {
	Status        string
	Country       string
	Verticals     string
	Flows         string
	SortByPerform bool
	PayoutAbove   string
	Limit         int
	Page          int
	OfferIDs      []string
}

// Offer is a record as the upstream reports it. Numeric values arrive as text
// and are canonicalised by the caller.
type Offer struct {
	ID           string  `json:"offer_id"`
	Name         string  `json:"offer_name"`
	Status       string  `json:"status"`
	Country      string  `json:"country"`
	CountryName  string  `json:"country_name"`
	Carrier      string  `json:"carrier"`
	Vertical     string  `json:"vertical"`
	Flow         string  `json:"flow"`
	Model        string  `json:"model"`
	Payout       Text    `json:"payout"`
	Currency     string  `json:"currency"`
	DailyCap     Text    `json:"daily_cap"`
	FilledCap    Text    `json:"filled_cap"`
	TypeTraffic  string  `json:"type_traffic"`
	OfferURL     string  `json:"offer_url"`
	LastActivity *string `json:"last_conv"`
}

// HasActivity reports whether the upstream returned a non-empty activity value.
func (o Offer) HasActivity() bool {
	return o.LastActivity != nil && strings.TrimSpace(*o.LastActivity) != ""
}

// Text accepts JSON strings, numbers and null.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(raw)
	return nil
}

func (t Text) String() string { return string(t) }
