package syncserver

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// linkArgs is the wire shape of a link order's payload: a 2-tuple
// [tag, port]. A named type with custom (Un)MarshalJSON keeps the public
// Order struct free of manual array indexing.
type linkArgs struct {
	Tag  string
	Port int
}

func (l linkArgs) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{l.Tag, l.Port})
}

func (l *linkArgs) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("syncserver: link order must have exactly 2 elements")
	}
	tuple[0], tuple[1] = raw[0], raw[1]

	if err := json.Unmarshal(tuple[0], &l.Tag); err != nil {
		return fmt.Errorf("syncserver: link tag must be a string: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &l.Port); err != nil {
		return fmt.Errorf("syncserver: link port must be an int: %w", err)
	}
	return nil
}

// Order is a JSON object understood by the synchronisation server, with
// exactly one of Link, Unlink or Get set.
type Order struct {
	Link   *linkArgs `json:"link,omitempty"`
	Unlink *int      `json:"unlink,omitempty"`
	Get    *string   `json:"get,omitempty"`
}

// NewLinkOrder builds a link order for (tag, port).
func NewLinkOrder(tag string, port int) Order {
	return Order{Link: &linkArgs{Tag: tag, Port: port}}
}

// NewUnlinkOrder builds an unlink order for port.
func NewUnlinkOrder(port int) Order {
	return Order{Unlink: &port}
}

// NewGetOrder builds a get order for tag.
func NewGetOrder(tag string) Order {
	return Order{Get: &tag}
}

// Encode serialises the order to JSON.
func (o Order) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// DecodeOrder parses a JSON-encoded order.
func DecodeOrder(data []byte) (Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return Order{}, fmt.Errorf("syncserver: invalid order: %w", err)
	}
	return o, nil
}
