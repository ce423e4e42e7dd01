package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"

	"tvbridge/internal/bybit/entity"
	"tvbridge/internal/metrics"
)

const APIVersion = "/v5"

// ErrGeoBlocked is returned when every configured endpoint was skipped for a
// failover-class reason (HTTP 403, unparseable body, transport failure).
// Callers use it to fall back to locally stored data.
var ErrGeoBlocked = errors.New("all bybit endpoints geo-blocked or unreachable")

// HTTPClient talks to the Bybit v5 REST API across a prioritized endpoint
// list, signing requests and failing over past geo-blocked mirrors.
type HTTPClient struct {
	signer     Signer
	endpoints  []string
	recvWindow string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// apiResponse is the common Bybit v5 envelope.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// OrderRequest is the body of POST /v5/order/create.
type OrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`      // Buy, Sell
	OrderType   string `json:"orderType"` // Market, Limit
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"` // GTC, IOC, FOK
	TakeProfit  string `json:"takeProfit,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

type setLeverageRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}

type tradingStopRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	PositionIdx int    `json:"positionIdx"`
}

// NewHTTPClient builds a client for the given endpoint priority list. An
// optional SOCKS5 proxyAddr routes the underlying transport.
func NewHTTPClient(apiKey, secretKey string, endpoints []string, proxyAddr, recvWindow string, logger zerolog.Logger) *HTTPClient {
	if len(endpoints) == 0 {
		endpoints = []string{"https://api.bybit.com"}
	}
	if recvWindow == "" {
		recvWindow = "5000"
	}

	c := &HTTPClient{
		signer:     Signer{APIKey: apiKey, SecretKey: secretKey},
		endpoints:  endpoints,
		recvWindow: recvWindow,
		logger:     logger.With().Str("component", "bybit").Logger(),
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bybit-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	var httpClient *http.Client
	if proxyAddr != "" {
		proxyURL := &url.URL{Scheme: "socks5h", Host: proxyAddr}
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to create SOCKS5 dialer, using direct transport")
			httpClient = &http.Client{Timeout: 30 * time.Second}
		} else {
			transport := &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				},
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			}
			httpClient = &http.Client{Transport: transport, Timeout: 30 * time.Second}
		}
	} else {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.httpClient = httpClient

	return c
}

// BreakerState exposes the circuit breaker state for diagnostics.
func (c *HTTPClient) BreakerState() string {
	return c.cb.State().String()
}

func (c *HTTPClient) getTimestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// doRequest walks the endpoint list until one answers. An HTTP 403 or a body
// that is not valid JSON advances to the next endpoint; any other response is
// returned to the caller as-is. When the list is exhausted the error wraps
// ErrGeoBlocked so callers can serve local data instead.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, params map[string]string, body interface{}, signed bool) ([]byte, error) {
	queryString := CanonicalQuery(params)

	// The body is marshaled once; the signature must cover these exact bytes.
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request body")
		}
	}

	payload := queryString
	if method == http.MethodPost {
		payload = string(bodyBytes)
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		reqURL := endpoint + path
		if method == http.MethodGet && queryString != "" {
			reqURL += "?" + queryString
		}

		var reqBody *bytes.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		} else {
			reqBody = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}

		if signed && c.signer.APIKey != "" {
			timestamp := c.getTimestamp()
			signature := c.signer.Sign(timestamp, c.recvWindow, payload)

			req.Header.Set("X-BAPI-API-KEY", c.signer.APIKey)
			req.Header.Set("X-BAPI-SIGN", signature)
			req.Header.Set("X-BAPI-SIGN-TYPE", "2")
			req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
			req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("transport failure, trying next endpoint")
			metrics.BybitFailovers.WithLabelValues(endpoint, "transport").Inc()
			lastErr = err
			continue
		}

		respBody, readErr := readBody(resp)
		if readErr != nil {
			metrics.BybitFailovers.WithLabelValues(endpoint, "transport").Inc()
			lastErr = readErr
			continue
		}

		// CloudFront answers geo-blocked callers with 403 and an HTML body.
		if resp.StatusCode == http.StatusForbidden {
			c.logger.Warn().Str("endpoint", endpoint).Msg("endpoint geo-blocked, trying next")
			metrics.BybitFailovers.WithLabelValues(endpoint, "geo_block").Inc()
			lastErr = errors.Errorf("endpoint %s returned 403", endpoint)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
		}

		if !json.Valid(respBody) {
			c.logger.Warn().Str("endpoint", endpoint).Msg("unparseable response, trying next endpoint")
			metrics.BybitFailovers.WithLabelValues(endpoint, "bad_json").Inc()
			lastErr = errors.Errorf("endpoint %s returned invalid JSON", endpoint)
			continue
		}

		return respBody, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return nil, errors.Wrapf(ErrGeoBlocked, "%v", lastErr)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	return buf.Bytes(), nil
}

// call runs a request through the circuit breaker and unwraps the Bybit
// envelope. A retCode != 0 inside a well-formed body is a real exchange
// answer and never triggers failover.
func (c *HTTPClient) call(ctx context.Context, method, path string, params map[string]string, body interface{}, signed bool, out interface{}) error {
	start := time.Now()
	status := "ok"

	_, err := c.cb.Execute(func() (interface{}, error) {
		respBody, err := c.doRequest(ctx, method, path, params, body, signed)
		if err != nil {
			return nil, err
		}

		var envelope apiResponse
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, errors.Wrap(err, "failed to parse response")
		}
		if envelope.RetCode != 0 {
			return nil, &entity.APIError{Code: envelope.RetCode, Message: envelope.RetMsg}
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Result, out); err != nil {
				return nil, errors.Wrap(err, "failed to parse result")
			}
		}
		return nil, nil
	})

	if err != nil {
		status = "error"
	}
	metrics.BybitAPIRequestsTotal.WithLabelValues(path, status).Inc()
	metrics.BybitAPIRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	return err
}

// Ping checks API reachability through the failover list.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, APIVersion+"/market/time", nil, nil, false, nil)
}

// PlaceOrder creates an order. The signed payload is the literal JSON body.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*entity.OrderAck, error) {
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := c.call(ctx, http.MethodPost, APIVersion+"/order/create", nil, req, true, &result)
	if err != nil {
		return nil, err
	}
	return &entity.OrderAck{OrderID: result.OrderID, OrderLinkID: result.OrderLinkID}, nil
}

// Bybit answers 110043 when the requested leverage equals the current one.
const retCodeLeverageNotModified = 110043

// SetLeverage sets both-side leverage for a symbol. An unchanged value is
// not treated as an error.
func (c *HTTPClient) SetLeverage(ctx context.Context, category, symbol string, leverage int) error {
	req := setLeverageRequest{
		Category:     category,
		Symbol:       symbol,
		BuyLeverage:  strconv.Itoa(leverage),
		SellLeverage: strconv.Itoa(leverage),
	}
	err := c.call(ctx, http.MethodPost, APIVersion+"/position/set-leverage", nil, req, true, nil)

	var apiErr *entity.APIError
	if errors.As(err, &apiErr) && apiErr.Code == retCodeLeverageNotModified {
		return nil
	}
	return err
}

// SetTradingStop amends the TP/SL levels of an open position.
func (c *HTTPClient) SetTradingStop(ctx context.Context, category, symbol, takeProfit, stopLoss string) error {
	req := tradingStopRequest{
		Category:   category,
		Symbol:     symbol,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
	}
	return c.call(ctx, http.MethodPost, APIVersion+"/position/trading-stop", nil, req, true, nil)
}

// GetPositions lists positions. With an empty symbol all USDT-settled
// positions are returned.
func (c *HTTPClient) GetPositions(ctx context.Context, category, symbol string) ([]entity.Position, error) {
	params := map[string]string{"category": category}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			PositionValue string `json:"positionValue"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			TakeProfit    string `json:"takeProfit"`
			StopLoss      string `json:"stopLoss"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, APIVersion+"/position/list", params, nil, true, &result); err != nil {
		return nil, err
	}

	positions := make([]entity.Position, 0, len(result.List))
	for _, p := range result.List {
		positions = append(positions, entity.Position{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          parseFloat(p.Size),
			AvgPrice:      parseFloat(p.AvgPrice),
			PositionValue: parseFloat(p.PositionValue),
			UnrealisedPnl: parseFloat(p.UnrealisedPnl),
			Leverage:      parseFloat(p.Leverage),
			TakeProfit:    parseFloat(p.TakeProfit),
			StopLoss:      parseFloat(p.StopLoss),
		})
	}
	return positions, nil
}

// GetWalletBalance returns the UNIFIED account snapshot.
func (c *HTTPClient) GetWalletBalance(ctx context.Context) (*entity.WalletBalance, error) {
	params := map[string]string{"accountType": "UNIFIED"}

	var result struct {
		List []struct {
			AccountType string `json:"accountType"`
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				Equity        string `json:"equity"`
				WalletBalance string `json:"walletBalance"`
				UnrealisedPnl string `json:"unrealisedPnl"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, APIVersion+"/account/wallet-balance", params, nil, true, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, errors.New("empty wallet balance response")
	}

	acc := result.List[0]
	balance := &entity.WalletBalance{
		AccountType: acc.AccountType,
		TotalEquity: parseFloat(acc.TotalEquity),
		Coins:       make([]entity.CoinBalance, 0, len(acc.Coin)),
	}
	for _, coin := range acc.Coin {
		balance.Coins = append(balance.Coins, entity.CoinBalance{
			Coin:          coin.Coin,
			Equity:        parseFloat(coin.Equity),
			WalletBalance: parseFloat(coin.WalletBalance),
			UnrealisedPnl: parseFloat(coin.UnrealisedPnl),
		})
	}
	return balance, nil
}

// GetClosedPnl returns settled trades, newest first.
func (c *HTTPClient) GetClosedPnl(ctx context.Context, category, symbol string, limit int) ([]entity.ClosedPnl, error) {
	params := map[string]string{"category": category}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Qty           string `json:"qty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			ClosedPnl     string `json:"closedPnl"`
			OrderID       string `json:"orderId"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, APIVersion+"/position/closed-pnl", params, nil, true, &result); err != nil {
		return nil, err
	}

	records := make([]entity.ClosedPnl, 0, len(result.List))
	for _, r := range result.List {
		updatedAt, _ := strconv.ParseInt(r.UpdatedTime, 10, 64)
		records = append(records, entity.ClosedPnl{
			Symbol:        r.Symbol,
			Side:          r.Side,
			Qty:           parseFloat(r.Qty),
			AvgEntryPrice: parseFloat(r.AvgEntryPrice),
			AvgExitPrice:  parseFloat(r.AvgExitPrice),
			ClosedPnl:     parseFloat(r.ClosedPnl),
			OrderID:       r.OrderID,
			UpdatedAtMs:   updatedAt,
		})
	}
	return records, nil
}

// parseFloat tolerates the empty strings Bybit uses for unset numeric fields.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
