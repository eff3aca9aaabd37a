package streaming

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	MessageTypeSettlement MessageType = "settlement"
)

type Message struct {
	Type                MessageType `json:"type"`
	ChainID             uint64      `json:"chain_id"`
	TraceID             string      `json:"trace_id,omitempty"`
	TxHash              string      `json:"tx_hash,omitempty"`
	SettlementID        string      `json:"settlement_id,omitempty"`
	FirstTradeTimestamp int64       `json:"first_trade_timestamp,omitempty"`
	Solver              string      `json:"solver,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return nil, errors.New("chain_id is required")
	}
	if msg.Type == MessageTypeSettlement && msg.TxHash == "" {
		return nil, errors.New("tx_hash is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.ChainID == 0 {
		return Message{}, errors.New("chain_id is missing")
	}
	if msg.Type == MessageTypeSettlement && msg.TxHash == "" {
		return Message{}, errors.New("tx_hash is missing")
	}
	return msg, nil
}
