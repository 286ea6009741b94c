package reader

import "arbflow/models"

// Protocol captures what differs between venues: where to connect, how to
// subscribe and keep the session alive, and how to turn a text frame into
// book levels. Decode reports ok=false for frames that carry no book update.
type Protocol interface {
	Venue() models.Venue
	Endpoint() string
	SubscribeRequest(symbol string) ([]byte, error)
	HeartbeatRequest() []byte
	Decode(frame []byte) (bids, asks []models.Level, ok bool)
}
