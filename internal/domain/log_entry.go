package domain

type LogEntry struct {
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Data        string   `json:"data"`
	Topics      []string `json:"topics"`
	Removed     bool     `json:"removed,omitempty"`
}
