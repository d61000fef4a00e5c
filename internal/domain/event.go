package domain

// Signal bus channels.
const (
	ChannelTx          = "tx"
	ChannelSettlements = "settlements"
	ChannelOracles     = "oracles"
)

// Event names carried in the "event" field of bus payloads.
const (
	EventTxApplied         = "tx_applied"
	EventTxRejected        = "tx_rejected"
	EventPredictionSettled = "prediction_settled"
	EventOracleUpdated     = "oracle_updated"
)

// StreamName returns the durable stream that mirrors a pub/sub channel.
func StreamName(channel string) string { return "stream:" + channel }
