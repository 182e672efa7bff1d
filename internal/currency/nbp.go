package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/flexprice/dealpay/internal/config"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/httpclient"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/shopspring/decimal"
)

// baseCurrency is the currency every NBP table A rate is quoted in
const baseCurrency = "PLN"

// NBPProvider reads mid rates from the National Bank of Poland table A and
// crosses them through PLN
type NBPProvider struct {
	client  httpclient.Client
	baseURL string
	logger  *logger.Logger
}

func NewNBPProvider(client httpclient.Client, cfg *config.Configuration, logger *logger.Logger) *NBPProvider {
	return &NBPProvider{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.Currency.BaseURL, "/"),
		logger:  logger,
	}
}

type nbpRateResponse struct {
	Table    string `json:"table"`
	Currency string `json:"currency"`
	Code     string `json:"code"`
	Rates    []struct {
		No            string          `json:"no"`
		EffectiveDate string          `json:"effectiveDate"`
		Mid           decimal.Decimal `json:"mid"`
	} `json:"rates"`
}

func (p *NBPProvider) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	fromMid, err := p.mid(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	toMid, err := p.mid(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}
	return fromMid.Div(toMid), nil
}

// mid returns the PLN price of one unit of code
func (p *NBPProvider) mid(ctx context.Context, code string) (decimal.Decimal, error) {
	if code == baseCurrency {
		return decimal.NewFromInt(1), nil
	}

	url := fmt.Sprintf("%s/exchangerates/rates/a/%s/?format=json", p.baseURL, strings.ToLower(code))
	resp, err := p.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     url,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		if httpErr, ok := httpclient.IsHTTPError(err); ok {
			p.logger.Errorw("NBP rate lookup failed",
				"currency", code,
				"status_code", httpErr.StatusCode,
			)
			return decimal.Zero, ierr.WithError(err).
				WithHintf("No exchange rate published for %s", code).
				WithReportableDetails(map[string]any{
					"currency":    code,
					"status_code": httpErr.StatusCode,
				}).
				Mark(ierr.ErrHTTPClient)
		}
		return decimal.Zero, ierr.WithError(err).
			WithHint("Exchange rate provider is unreachable").
			Mark(ierr.ErrHTTPClient)
	}

	var parsed nbpRateResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return decimal.Zero, ierr.WithError(err).
			WithHint("Exchange rate provider returned an invalid response").
			Mark(ierr.ErrHTTPClient)
	}
	if len(parsed.Rates) == 0 || !parsed.Rates[0].Mid.IsPositive() {
		return decimal.Zero, ierr.NewErrorf("no rate for %s", code).
			WithHintf("No exchange rate published for %s", code).
			Mark(ierr.ErrNotFound)
	}
	return parsed.Rates[0].Mid, nil
}
