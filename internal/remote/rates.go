package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"conto/internal/core"
)

// RatesClient converts amounts into EUR using a historical exchange-rate
// HTTP service. A date without a published rate yields a pending
// conversion, not an error.
type RatesClient struct {
	baseURL string
	client  *http.Client
}

func NewRatesClient(baseURL string) *RatesClient {
	return &RatesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type ratesResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// ConvertToEUR implements CurrencyConverter.
func (c *RatesClient) ConvertToEUR(ctx context.Context, amount float64, currency string, date time.Time) (*Conversion, error) {
	currency = strings.ToUpper(currency)
	if currency == "EUR" {
		return &Conversion{
			EURAmount:    core.RoundEUR(amount),
			ExchangeRate: 1,
			RateDate:     date.Format("2006-01-02"),
		}, nil
	}

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, date.Format("2006-01-02"), url.Values{
		"amount": {fmt.Sprintf("%v", amount)},
		"from":   {currency},
		"to":     {"EUR"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rates service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No rate published for this currency/date. Leave the
		// conversion pending.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rates service returned status %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates response: %w", err)
	}

	converted, ok := body.Rates["EUR"]
	if !ok {
		return nil, nil
	}

	rate := 0.0
	if body.Amount != 0 {
		rate = converted / body.Amount
	}

	return &Conversion{
		EURAmount:    core.RoundEUR(converted),
		ExchangeRate: rate,
		RateDate:     body.Date,
	}, nil
}
