package okx

import (
	"encoding/json"
	"strconv"

	"arbflow/models"
)

// DefaultURL is the OKX v5 public websocket.
const DefaultURL = "wss://ws.okx.com:8443/ws/v5/public"

var heartbeat = []byte("ping")

// Protocol speaks the OKX public books channel.
type Protocol struct {
	url string
}

// New returns the OKX protocol. An empty url selects DefaultURL.
func New(url string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	return &Protocol{url: url}
}

func (p *Protocol) Venue() models.Venue { return models.VenueOKX }

func (p *Protocol) Endpoint() string { return p.url }

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

func (p *Protocol) SubscribeRequest(symbol string) ([]byte, error) {
	return json.Marshal(subscribeRequest{
		Op:   "subscribe",
		Args: []subscribeArg{{Channel: "books", InstID: symbol}},
	})
}

// HeartbeatRequest is the literal text OKX answers with "pong".
func (p *Protocol) HeartbeatRequest() []byte { return heartbeat }

type orderBookEvent struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string `json:"action"`
	Data   []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Ts   string     `json:"ts"`
	} `json:"data"`
}

// Decode reads data[0] of a books push. Subscription acks, pong replies and
// pushes with neither bids nor asks carry no update.
func (p *Protocol) Decode(frame []byte) (bids, asks []models.Level, ok bool) {
	var evt orderBookEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return nil, nil, false
	}
	if len(evt.Data) == 0 {
		return nil, nil, false
	}

	book := evt.Data[0]
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return nil, nil, false
	}
	return parseLevels(book.Bids), parseLevels(book.Asks), true
}

// parseLevels converts [price, size, ...] string entries, skipping entries
// that are too short or not numeric.
func parseLevels(entries [][]string) []models.Level {
	levels := make([]models.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(e[0], 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(e[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, models.Level{Price: price, Quantity: qty})
	}
	return levels
}
