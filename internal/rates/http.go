package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource reads live rates from GET {baseURL}/{base}/{target}, which answers
// {"conversion_rate": <number>}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type rateResponse struct {
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}

func (h *HTTPSource) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s/%s", h.baseURL, strings.ToLower(base), strings.ToLower(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: rate source returned %d", ErrRateUnavailable, resp.StatusCode)
	}
	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid response: %v", ErrRateUnavailable, err)
	}
	if !body.ConversionRate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: invalid response", ErrRateUnavailable)
	}
	return body.ConversionRate, nil
}
