package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider fetches daily OHLCV bars from the Yahoo Finance chart API.
type YahooProvider struct {
	client   *http.Client
	baseURL  string
	tracer   trace.Tracer
	throttle *Throttle
}

func NewYahooProvider(tracer trace.Tracer) *YahooProvider {
	return &YahooProvider{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  yahooBaseURL,
		tracer:   tracer,
		throttle: NewThrottle(2 * time.Second),
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDailyBars returns the symbol's daily bars for the trailing range,
// e.g. "1y" or "max". Rows with a missing close are dropped.
func (p *YahooProvider) FetchDailyBars(ctx context.Context, symbol, rangeSpec string) ([]domain.PriceBar, error) {
	_, span := p.tracer.Start(ctx, "yahoo.fetch-daily-bars")
	defer span.End()

	if err := p.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("throttle wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?range=%s&interval=1d&events=div%%2Csplit",
		p.baseURL, url.PathEscape(symbol), url.QueryEscape(rangeSpec))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "market-quorum/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chart for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yahoo API error %d for %s: %s", resp.StatusCode, symbol, string(body))
	}

	var raw yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse chart for %s: %w", symbol, err)
	}
	if raw.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error for %s: %s (%s)",
			symbol, raw.Chart.Error.Code, raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 || len(raw.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("empty chart result for %s", symbol)
	}

	result := raw.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]domain.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		close := deref(quote.Close, i)
		if close == nil {
			continue
		}
		bar := domain.PriceBar{
			Symbol: symbol,
			Date:   time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Close:  *close,
		}
		if v := deref(quote.Open, i); v != nil {
			bar.Open = *v
		} else {
			bar.Open = *close
		}
		if v := deref(quote.High, i); v != nil {
			bar.High = *v
		} else {
			bar.High = *close
		}
		if v := deref(quote.Low, i); v != nil {
			bar.Low = *v
		} else {
			bar.Low = *close
		}
		if v := deref(quote.Volume, i); v != nil {
			bar.Volume = *v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func deref(col []*float64, i int) *float64 {
	if i >= len(col) {
		return nil
	}
	return col[i]
}
