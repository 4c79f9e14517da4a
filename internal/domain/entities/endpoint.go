package entities

// Endpoint describes one RPC endpoint and its discovered capabilities.
// Capability fields are populated from configuration or by probing
// (see the rpc optimizer); they are mutated only through explicit
// optimize/enable/disable operations.
type Endpoint struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ChainID   uint64 `json:"chain_id"`
	IsArchive bool   `json:"is_archive"`
	HasDebug  bool   `json:"has_debug"`
	// MaxRange is the widest eth_getLogs block span the provider accepts.
	// Zero means unknown/unlimited.
	MaxRange uint64 `json:"max_range"`
	Enabled  bool   `json:"enabled"`
}
