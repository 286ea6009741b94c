package deribit

import (
	"encoding/json"
	"fmt"

	"arbflow/models"
)

// DefaultURL is the Deribit v2 JSON-RPC websocket.
const DefaultURL = "wss://www.deribit.com/ws/api/v2"

const (
	DefaultDepth    = 20
	DefaultInterval = "100ms"
)

var heartbeat = []byte(`{"id":42,"method":"public/test","params":{},"jsonrpc":"2.0"}`)

// Protocol speaks the Deribit book.<instrument>.none.<depth>.<interval>
// subscription.
type Protocol struct {
	url      string
	depth    int
	interval string
}

// New returns the Deribit protocol. Zero values select the defaults.
func New(url string, depth int, interval string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	if interval == "" {
		interval = DefaultInterval
	}
	return &Protocol{url: url, depth: depth, interval: interval}
}

func (p *Protocol) Venue() models.Venue { return models.VenueDeribit }

func (p *Protocol) Endpoint() string { return p.url }

// Channel is the book channel name for symbol.
func (p *Protocol) Channel(symbol string) string {
	return fmt.Sprintf("book.%s.none.%d.%s", symbol, p.depth, p.interval)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

func (p *Protocol) SubscribeRequest(symbol string) ([]byte, error) {
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      0,
		Method:  "public/subscribe",
		Params:  subscribeParams{Channels: []string{p.Channel(symbol)}},
	})
}

// HeartbeatRequest is a public/test call; its response is dropped by Decode.
func (p *Protocol) HeartbeatRequest() []byte { return heartbeat }

type notification struct {
	Params *struct {
		Channel string `json:"channel"`
		Data    *struct {
			Bids *[][]float64 `json:"bids"`
			Asks *[][]float64 `json:"asks"`
		} `json:"data"`
	} `json:"params"`
}

// Decode reads params.data of a subscription notification. RPC responses
// have no params.data and are dropped, as is any frame with a malformed
// level. Empty sides are passed through.
func (p *Protocol) Decode(frame []byte) (bids, asks []models.Level, ok bool) {
	var msg notification
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, false
	}
	if msg.Params == nil || msg.Params.Data == nil {
		return nil, nil, false
	}
	data := msg.Params.Data
	if data.Bids == nil || data.Asks == nil {
		return nil, nil, false
	}
	if bids, ok = toLevels(*data.Bids); !ok {
		return nil, nil, false
	}
	if asks, ok = toLevels(*data.Asks); !ok {
		return nil, nil, false
	}
	return bids, asks, true
}

// toLevels rejects the whole side when any entry is not a [price, amount]
// pair.
func toLevels(entries [][]float64) ([]models.Level, bool) {
	levels := make([]models.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) != 2 {
			return nil, false
		}
		levels = append(levels, models.Level{Price: e[0], Quantity: e[1]})
	}
	return levels, true
}
