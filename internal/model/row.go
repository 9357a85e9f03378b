package model

// Row is the persisted form of a DecodedEvent: the natural key columns
// shared by every table plus the per-table payload values, aligned with
// the table spec's payload column list.
type Row struct {
	TxHash      string
	LogIndex    uint64
	BlockNumber uint64
	Address     string
	Payload     []string
}
