package deribit

import (
	"encoding/json"
	"testing"

	"arbflow/models"
	"arbflow/reader"
)

var _ reader.Protocol = (*Protocol)(nil)

func TestSubscribeRequest(t *testing.T) {
	p := New("", 0, "")
	if p.Endpoint() != DefaultURL {
		t.Fatalf("unexpected endpoint: %s", p.Endpoint())
	}

	raw, err := p.SubscribeRequest("BTC-31OCT25-140000-P")
	if err != nil {
		t.Fatalf("SubscribeRequest: %v", err)
	}
	var req struct {
		JSONRPC string `json:"jsonrpc"`
		ID      *int   `json:"id"`
		Method  string `json:"method"`
		Params  struct {
			Channels []string `json:"channels"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.JSONRPC != "2.0" || req.ID == nil || *req.ID != 0 || req.Method != "public/subscribe" {
		t.Fatalf("unexpected request: %s", raw)
	}
	if len(req.Params.Channels) != 1 || req.Params.Channels[0] != "book.BTC-31OCT25-140000-P.none.20.100ms" {
		t.Fatalf("unexpected channels: %v", req.Params.Channels)
	}
}

func TestChannelUsesConfiguredDepth(t *testing.T) {
	p := New("ws://localhost", 10, "raw")
	if got := p.Channel("ETH-PERPETUAL"); got != "book.ETH-PERPETUAL.none.10.raw" {
		t.Fatalf("unexpected channel: %s", got)
	}
}

func TestHeartbeatRequest(t *testing.T) {
	var hb map[string]interface{}
	if err := json.Unmarshal(New("", 0, "").HeartbeatRequest(), &hb); err != nil {
		t.Fatalf("heartbeat is not json: %v", err)
	}
	if hb["method"] != "public/test" || hb["id"] != float64(42) || hb["jsonrpc"] != "2.0" {
		t.Fatalf("unexpected heartbeat: %v", hb)
	}
}

func TestDecode(t *testing.T) {
	p := New("", 0, "")
	frame := []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"book.BTC-31OCT25-140000-P.none.20.100ms","data":{"timestamp":1700000000000,"instrument_name":"BTC-31OCT25-140000-P","change_id":1,"bids":[[0.0125,10.0],[0.012,5.0]],"asks":[[0.013,7.5]]}}}`)

	bids, asks, ok := p.Decode(frame)
	if !ok {
		t.Fatal("expected frame to decode")
	}
	if len(bids) != 2 || bids[0] != (models.Level{Price: 0.0125, Quantity: 10}) || bids[1] != (models.Level{Price: 0.012, Quantity: 5}) {
		t.Fatalf("unexpected bids: %+v", bids)
	}
	if len(asks) != 1 || asks[0] != (models.Level{Price: 0.013, Quantity: 7.5}) {
		t.Fatalf("unexpected asks: %+v", asks)
	}
}

func TestDecodeKeepsEmptySides(t *testing.T) {
	p := New("", 0, "")
	bids, asks, ok := p.Decode([]byte(`{"params":{"data":{"bids":[],"asks":[]}}}`))
	if !ok {
		t.Fatal("empty sides should still decode")
	}
	if len(bids) != 0 || len(asks) != 0 {
		t.Fatalf("unexpected levels: %+v %+v", bids, asks)
	}
}

func TestDecodeDrops(t *testing.T) {
	p := New("", 0, "")
	tests := map[string]string{
		"subscribe response": `{"jsonrpc":"2.0","id":0,"result":["book.BTC-31OCT25-140000-P.none.20.100ms"]}`,
		"test response":      `{"jsonrpc":"2.0","id":42,"result":{"version":"1.2.26"}}`,
		"missing asks":       `{"params":{"data":{"bids":[[1,2]]}}}`,
		"short bid entry":    `{"params":{"data":{"bids":[[1,2],[3]],"asks":[[4,5]]}}}`,
		"long ask entry":     `{"params":{"data":{"bids":[[1,2]],"asks":[[4,5,6]]}}}`,
		"not json":           `hello`,
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, ok := p.Decode([]byte(frame)); ok {
				t.Fatalf("expected %s to be dropped", name)
			}
		})
	}
}
