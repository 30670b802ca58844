package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/normalize"
	"orderflow-lab/internal/observability"
)

// FeedConfig configures feed client behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// DepthStream returns the incremental depth diff stream name for a venue symbol.
func DepthStream(symbol string) string {
	return strings.ToLower(symbol) + "@depth@100ms"
}

// TradeStream returns the aggregate trade stream name for a venue symbol.
func TradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

// TickerStream returns the top-of-book quote stream name for a venue symbol.
func TickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// CombinedStreamURL builds the combined-stream connection URL for a set of
// stream names. The subscription set is part of the URL, so a reconnect
// restores every stream without a resubscribe handshake.
func CombinedStreamURL(endpoint string, streams []string) string {
	return strings.TrimRight(endpoint, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// DepthUpdate is one incremental depth diff from the feed. Quantities are
// absolute resting amounts after the change; zero removes the level.
type DepthUpdate struct {
	Symbol    string
	Timestamp int64 // event time, Unix nanoseconds
	FirstSeq  int64 // first venue update id covered by this diff
	FinalSeq  int64 // final venue update id covered by this diff
	PrevSeq   int64 // final update id of the previous diff, 0 when absent
	Bids      []domain.PriceLevel
	Asks      []domain.PriceLevel
}

// LevelRecords flattens the diff into raw level records for the normalizer.
// Every record carries the diff's final update id so replay can detect
// sequence gaps. A zero quantity maps to a cancel, anything else to a modify
// (diff feeds report the resulting quantity, not the kind of change).
func (d *DepthUpdate) LevelRecords(instrument string) []normalize.RawLevelRecord {
	records := make([]normalize.RawLevelRecord, 0, len(d.Bids)+len(d.Asks))
	for _, lvl := range d.Bids {
		records = append(records, d.levelRecord(instrument, domain.SideBid, lvl))
	}
	for _, lvl := range d.Asks {
		records = append(records, d.levelRecord(instrument, domain.SideAsk, lvl))
	}
	return records
}

func (d *DepthUpdate) levelRecord(instrument string, side domain.Side, lvl domain.PriceLevel) normalize.RawLevelRecord {
	ts := d.Timestamp
	price := lvl.Price
	qty := lvl.Quantity
	eventType := domain.BookEventModify
	if qty == 0 {
		eventType = domain.BookEventCancel
	}
	return normalize.RawLevelRecord{
		Instrument: instrument,
		Timestamp:  &ts,
		Side:       side.String(),
		Price:      &price,
		Quantity:   &qty,
		EventType:  eventType.String(),
		UpdateSeq:  d.FinalSeq,
	}
}

// TradeUpdate is one aggregate trade print from the feed.
type TradeUpdate struct {
	Symbol     string
	Timestamp  int64 // event time, Unix nanoseconds
	TradeID    int64 // venue aggregate trade id
	Price      float64
	Quantity   float64
	BuyerMaker bool // true when the buyer rested, i.e. the aggressor sold
}

// TradeRecord converts the print into a raw trade record for the normalizer.
func (t *TradeUpdate) TradeRecord(instrument string) normalize.RawTradeRecord {
	ts := t.Timestamp
	price := t.Price
	qty := t.Quantity
	aggressor := domain.AggressorBuy
	if t.BuyerMaker {
		aggressor = domain.AggressorSell
	}
	return normalize.RawTradeRecord{
		Instrument: instrument,
		Timestamp:  &ts,
		Price:      &price,
		Quantity:   &qty,
		Aggressor:  aggressor.String(),
	}
}

// TickerUpdate is one top-of-book quote from the feed.
type TickerUpdate struct {
	Symbol    string
	Timestamp int64 // event time, Unix nanoseconds
	UpdateSeq int64
	BidPrice  float64
	BidQty    float64
	AskPrice  float64
	AskQty    float64
}

// QuoteRecord converts the quote into a raw quote record for the normalizer.
func (q *TickerUpdate) QuoteRecord(instrument string) normalize.RawQuoteRecord {
	ts := q.Timestamp
	bidPrice := q.BidPrice
	bidQty := q.BidQty
	askPrice := q.AskPrice
	askQty := q.AskQty
	return normalize.RawQuoteRecord{
		Instrument: instrument,
		Timestamp:  &ts,
		BidPrice:   &bidPrice,
		BidQty:     &bidQty,
		AskPrice:   &askPrice,
		AskQty:     &askQty,
		UpdateSeq:  q.UpdateSeq,
	}
}

// FeedMessage is one parsed feed event. Exactly one payload field is set.
type FeedMessage struct {
	Stream string
	Depth  *DepthUpdate
	Trade  *TradeUpdate
	Ticker *TickerUpdate
}

// FeedClient maintains a combined-stream WebSocket connection to a venue
// feed using gorilla/websocket. Parsed messages are delivered on a single
// buffered channel; sends block rather than drop, so slow consumers apply
// backpressure instead of losing events.
type FeedClient struct {
	url    string
	config FeedConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan FeedMessage

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
	reconnects   atomic.Int64
}

// NewFeedClient creates a new feed client and connects to the given
// combined-stream URL (see CombinedStreamURL).
func NewFeedClient(ctx context.Context, url string, config *FeedConfig) (*FeedClient, error) {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}

	c := &FeedClient{
		url:    url,
		config: cfg,
		events: make(chan FeedMessage, 10000),
		done:   make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the WebSocket connection.
func (c *FeedClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Events returns the message channel. It is closed by Close.
func (c *FeedClient) Events() <-chan FeedMessage {
	return c.events
}

// Reconnects returns the number of reconnections performed so far.
func (c *FeedClient) Reconnects() int64 {
	return c.reconnects.Load()
}

// Close closes the WebSocket connection and the events channel.
func (c *FeedClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// The reader bails out on done before sending, so the channel can be
	// closed once both loops have exited.
	c.wg.Wait()
	close(c.events)
	return nil
}

// readLoop reads messages from the WebSocket and dispatches parsed events.
func (c *FeedClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			// Increase delay for next reconnect (exponential backoff)
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to re-dial the combined-stream URL. Subscriptions live
// in the URL, so a successful dial restores them all.
func (c *FeedClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	// Wait before reconnecting
	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	// Close existing connection
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	// Attempt reconnect
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	c.reconnects.Add(1)
	observability.RecordCaptureReconnect()
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *FeedClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// handleMessage parses an incoming WebSocket message and dispatches it.
// Unrecognized payloads are ignored; venues interleave control frames and
// event types this client does not consume.
func (c *FeedClient) handleMessage(message []byte) {
	stream, data := unwrapCombined(message)

	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return
	}

	msg := FeedMessage{Stream: stream}
	switch head.Event {
	case "depthUpdate":
		depth, err := parseDepthUpdate(data)
		if err != nil {
			return
		}
		msg.Depth = depth
	case "aggTrade":
		trade, err := parseTradeUpdate(data)
		if err != nil {
			return
		}
		msg.Trade = trade
	case "bookTicker":
		ticker, err := parseTickerUpdate(data)
		if err != nil {
			return
		}
		msg.Ticker = ticker
	default:
		return
	}

	// Block until we can send - never drop events
	select {
	case c.events <- msg:
	case <-c.done:
	}
}

// unwrapCombined strips the combined-stream envelope. Single-stream
// connections deliver the payload bare; those pass through unchanged.
func unwrapCombined(message []byte) (stream string, data json.RawMessage) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &wrapper); err == nil && wrapper.Stream != "" && len(wrapper.Data) > 0 {
		return wrapper.Stream, wrapper.Data
	}
	return "", message
}

// Feed payload types. Prices and quantities arrive as decimal strings.

type depthPayload struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"` // milliseconds
	Symbol    string     `json:"s"`
	FirstSeq  int64      `json:"U"`
	FinalSeq  int64      `json:"u"`
	PrevSeq   int64      `json:"pu"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

type aggTradePayload struct {
	Event      string `json:"e"`
	EventTime  int64  `json:"E"` // milliseconds
	Symbol     string `json:"s"`
	TradeID    int64  `json:"a"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	BuyerMaker bool   `json:"m"`
}

type bookTickerPayload struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"` // milliseconds
	UpdateSeq int64  `json:"u"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
}

func parseDepthUpdate(data []byte) (*DepthUpdate, error) {
	var p depthPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	d := &DepthUpdate{
		Symbol:    p.Symbol,
		Timestamp: msToNs(p.EventTime),
		FirstSeq:  p.FirstSeq,
		FinalSeq:  p.FinalSeq,
		PrevSeq:   p.PrevSeq,
	}
	d.Bids = parseLevels(p.Bids)
	d.Asks = parseLevels(p.Asks)
	return d, nil
}

func parseTradeUpdate(data []byte) (*TradeUpdate, error) {
	var p aggTradePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade price %q: %w", p.Price, err)
	}
	qty, err := strconv.ParseFloat(p.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade quantity %q: %w", p.Quantity, err)
	}

	return &TradeUpdate{
		Symbol:     p.Symbol,
		Timestamp:  msToNs(p.EventTime),
		TradeID:    p.TradeID,
		Price:      price,
		Quantity:   qty,
		BuyerMaker: p.BuyerMaker,
	}, nil
}

func parseTickerUpdate(data []byte) (*TickerUpdate, error) {
	var p bookTickerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	bidPrice, err := strconv.ParseFloat(p.BidPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bid price %q: %w", p.BidPrice, err)
	}
	bidQty, err := strconv.ParseFloat(p.BidQty, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bid quantity %q: %w", p.BidQty, err)
	}
	askPrice, err := strconv.ParseFloat(p.AskPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ask price %q: %w", p.AskPrice, err)
	}
	askQty, err := strconv.ParseFloat(p.AskQty, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ask quantity %q: %w", p.AskQty, err)
	}

	return &TickerUpdate{
		Symbol:    p.Symbol,
		Timestamp: msToNs(p.EventTime),
		UpdateSeq: p.UpdateSeq,
		BidPrice:  bidPrice,
		BidQty:    bidQty,
		AskPrice:  askPrice,
		AskQty:    askQty,
	}, nil
}

// parseLevels converts [price, quantity] string pairs into price levels,
// skipping pairs that do not parse.
func parseLevels(pairs [][]string) []domain.PriceLevel {
	if len(pairs) == 0 {
		return nil
	}
	levels := make([]domain.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

// msToNs converts a venue millisecond timestamp to Unix nanoseconds.
func msToNs(ms int64) int64 {
	return ms * int64(time.Millisecond)
}
