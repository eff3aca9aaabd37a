package domain

// Receipt is the subset of a transaction receipt the settlement pipeline reads.
type Receipt struct {
	TxHash      string     `json:"tx_hash"`
	BlockNumber uint64     `json:"block_number"`
	BlockHash   string     `json:"block_hash"`
	Status      uint64     `json:"status"`
	Logs        []LogEntry `json:"logs"`
}
