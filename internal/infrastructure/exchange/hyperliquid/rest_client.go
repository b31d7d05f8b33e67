package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

// ExchangeError wraps a non-2xx REST response. Retryable is true for 5xx
// (the venue's own fault) and false for 4xx (a request-shape problem that
// retrying would not fix).
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("hyperliquid: http %d: %s", e.StatusCode, e.Body)
}

func (e *ExchangeError) Retryable() bool { return e.StatusCode >= 500 }

// Client implements port.Exchange against the venue's REST and websocket
// surfaces.
type Client struct {
	httpClient *http.Client
	signer     *Signer

	restURL string
	wsURL   string

	perpAssetIndex  int
	spotAssetIndex  int
	maxRetries      int
	retryDelay      time.Duration
}

// Config holds the Client's connection and retry tunables.
type Config struct {
	RestURL        string
	WsURL          string
	PrivateKeyHex  string
	Mainnet        bool
	PerpAssetIndex int
	SpotAssetIndex int
	MaxRetries     int
	RetryDelay     time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	signer, err := NewSigner(cfg.PrivateKeyHex, cfg.Mainnet)
	if err != nil {
		return nil, err
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Client{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		signer:         signer,
		restURL:        cfg.RestURL,
		wsURL:          cfg.WsURL,
		perpAssetIndex: cfg.PerpAssetIndex,
		spotAssetIndex: cfg.SpotAssetIndex,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
	}, nil
}

// PlaceOrder submits one signed order and classifies the venue's response.
func (c *Client) PlaceOrder(ctx context.Context, coin string, spec model.OrderSpec, clientOrderID string) (model.LegResult, string, error) {
	asset := c.assetIndex(spec.Instrument)
	tif := "Ioc"
	if spec.Tif == model.AddLiquidityOnly {
		tif = "Alo"
	}

	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset,
			IsBuy:      spec.IsBuy,
			LimitPx:    formatPx(spec.LimitPx),
			Size:       formatSz(spec.Size),
			ReduceOnly: spec.ReduceOnly,
			OrderType:  orderTypeWire{Limit: &limitOrderType{Tif: tif}},
			Cloid:      clientOrderID,
		}},
		Grouping: "na",
	}

	var resp exchangeResponse
	if err := c.postExchangeWithRetry(ctx, action, nil, &resp); err != nil {
		return model.LegResult{Status: model.Unknown}, "", err
	}

	return classifyOrderResponse(resp)
}

func classifyOrderResponse(resp exchangeResponse) (model.LegResult, string, error) {
	if resp.Status != "ok" || len(resp.Response.Data.Statuses) == 0 {
		return model.LegResult{Status: model.Unknown}, "", fmt.Errorf("hyperliquid: malformed order response status=%q", resp.Status)
	}
	st := resp.Response.Data.Statuses[0]

	switch {
	case st.Error != "":
		return model.LegResult{Status: model.Rejected, Reason: st.Error}, "", nil
	case st.Filled != nil:
		sz, _ := strconv.ParseFloat(st.Filled.TotalSz, 64)
		px, _ := strconv.ParseFloat(st.Filled.AvgPx, 64)
		return model.LegResult{Status: model.Filled, FilledSize: sz, AvgPx: px}, strconv.FormatInt(st.Filled.OID, 10), nil
	case st.Resting != nil:
		// Acknowledged but still on the book: the caller's context timeout
		// governs how long to wait before treating this as a maker-timeout.
		return model.LegResult{Status: model.Unknown}, strconv.FormatInt(st.Resting.OID, 10), nil
	default:
		return model.LegResult{Status: model.Unknown}, "", nil
	}
}

// OrderStatus polls the current state of a previously placed order. It is
// how the dispatcher waits out an ALO maker attempt's dwell window: the
// order-placement ack only confirms the order rests on the book, not that
// it has filled.
func (c *Client) OrderStatus(ctx context.Context, coin string, orderID string) (model.LegResult, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return model.LegResult{Status: model.Unknown}, fmt.Errorf("hyperliquid: invalid order id %q: %w", orderID, err)
	}
	var resp orderStatusResponse
	if err := c.postInfo(ctx, orderStatusRequest{Type: "orderStatus", User: c.signer.Address().Hex(), OID: oid}, &resp); err != nil {
		return model.LegResult{Status: model.Unknown}, err
	}
	return classifyOrderStatusResponse(resp), nil
}

func classifyOrderStatusResponse(resp orderStatusResponse) model.LegResult {
	if resp.Order == nil {
		return model.LegResult{Status: model.Unknown}
	}
	switch resp.Order.Status {
	case "filled":
		sz, _ := strconv.ParseFloat(resp.Order.Order.OrigSz, 64)
		px, _ := strconv.ParseFloat(resp.Order.Order.LimitPx, 64)
		return model.LegResult{Status: model.Filled, FilledSize: sz, AvgPx: px}
	case "canceled", "marginCanceled":
		return model.LegResult{Status: model.Cancelled}
	case "rejected":
		return model.LegResult{Status: model.Rejected}
	default:
		// "open" (still resting), or any other in-flight sub-status.
		return model.LegResult{Status: model.Unknown}
	}
}

func (c *Client) CancelOrder(ctx context.Context, coin string, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("hyperliquid: invalid order id %q: %w", orderID, err)
	}
	action := cancelAction{
		Type:    "cancel",
		Cancels: []cancelWire{{Asset: c.assetIndexForCoin(coin), OrderID: strconv.FormatInt(oid, 10)}},
	}
	var resp exchangeResponse
	return c.postExchangeWithRetry(ctx, action, nil, &resp)
}

// assetIndexForCoin picks the perp or spot asset index for a bare coin
// string, per the same "@index" spot addressing PlaceOrder's caller and
// SubscribeL2Book use. CancelOrder only carries the coin, not an
// model.Instrument, so it can't reuse assetIndex(instrument) directly.
func (c *Client) assetIndexForCoin(coin string) int {
	if strings.HasPrefix(coin, "@") {
		return c.spotAssetIndex
	}
	return c.perpAssetIndex
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, factor int, isCross bool) error {
	action := updateLeverageAction{Type: "updateLeverage", Asset: c.perpAssetIndex, IsCross: isCross, Leverage: factor}
	var resp exchangeResponse
	return c.postExchangeWithRetry(ctx, action, nil, &resp)
}

// ScheduleCancelAll arms (or re-arms) the venue's dead-man's switch.
func (c *Client) ScheduleCancelAll(ctx context.Context, afterSeconds int) error {
	t := time.Now().Add(time.Duration(afterSeconds) * time.Second).UnixMilli()
	action := scheduleCancelAction{Type: "scheduleCancel", Time: &t}
	var resp exchangeResponse
	return c.postExchangeWithRetry(ctx, action, nil, &resp)
}

func (c *Client) UserState(ctx context.Context) (port.AccountState, error) {
	address := c.signer.Address().Hex()

	var perp clearinghouseStateResponse
	if err := c.postInfo(ctx, infoRequest{Type: "clearinghouseState", User: address}, &perp); err != nil {
		return port.AccountState{}, err
	}
	var spot spotClearinghouseStateResponse
	if err := c.postInfo(ctx, infoRequest{Type: "spotClearinghouseState", User: address}, &spot); err != nil {
		return port.AccountState{}, err
	}

	withdrawable, _ := strconv.ParseFloat(perp.Withdrawable, 64)
	st := port.AccountState{PerpFreeUSDC: withdrawable}
	for _, b := range spot.Balances {
		total, _ := strconv.ParseFloat(b.Total, 64)
		switch b.Coin {
		case "USDC":
			st.SpotUSDC = total
		default:
			st.SpotBase = total
		}
	}
	return st, nil
}

func (c *Client) assetIndex(instrument model.Instrument) int {
	if instrument == model.PerpInstrument {
		return c.perpAssetIndex
	}
	return c.spotAssetIndex
}

// postExchangeWithRetry signs and submits action, retrying retryable
// (5xx) failures with a fixed delay, for at most maxRetries attempts in all.
func (c *Client) postExchangeWithRetry(ctx context.Context, action any, vaultAddress *string, out *exchangeResponse) error {
	nonce := time.Now().UnixMilli()
	sig, err := c.signer.SignAction(action, nonce, vaultAddress)
	if err != nil {
		return err
	}
	req := signedRequest{Action: action, Nonce: nonce, Signature: sig, VaultAddress: vaultAddress}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		err := c.postJSON(ctx, c.restURL+"/exchange", req, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var exchErr *ExchangeError
		if !(isExchangeError(err, &exchErr) && exchErr.Retryable()) {
			return err
		}
	}
	return lastErr
}

func (c *Client) postInfo(ctx context.Context, body any, out any) error {
	return c.postJSON(ctx, c.restURL+"/info", body, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		buf := make([]byte, 512)
		n, _ := resp.Body.Read(buf)
		return &ExchangeError{StatusCode: resp.StatusCode, Body: string(buf[:n])}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isExchangeError(err error, target **ExchangeError) bool {
	e, ok := err.(*ExchangeError)
	if ok {
		*target = e
	}
	return ok
}

func formatPx(px float64) string  { return strconv.FormatFloat(px, 'f', -1, 64) }
func formatSz(sz float64) string  { return strconv.FormatFloat(sz, 'f', -1, 64) }
