package models

// BridgeStatistics is a snapshot of orchestrator counters.
// SuccessRate is successful/total in [0,1]; AvgCompletionSeconds covers
// completed transfers only.
type BridgeStatistics struct {
	Total                int64   `json:"total"`
	Pending              int64   `json:"pending"`
	Successful           int64   `json:"successful"`
	Failed               int64   `json:"failed"`
	Refunded             int64   `json:"refunded"`
	Volume               Amount  `json:"volume"`
	SuccessRate          float64 `json:"successRate"`
	AvgCompletionSeconds float64 `json:"avgCompletionSeconds"`
}

// FeeQuote is the result of a fee estimate: the bridge's own fee, the
// adapter-supplied gas fee, and their sum.
type FeeQuote struct {
	BridgeFee Amount `json:"bridgeFee"`
	GasFee    Amount `json:"gasFee"`
	TotalFee  Amount `json:"totalFee"`
}
