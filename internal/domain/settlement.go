package domain

import "time"

// Settlement records a resolved prediction for reporting and archival.
type Settlement struct {
	Prediction     string    `json:"prediction"`
	Room           string    `json:"room"`
	User           string    `json:"user"`
	Oracle         string    `json:"oracle"`
	PredictedPrice int64     `json:"predicted_price"`
	ObservedPrice  int64     `json:"observed_price"`
	Stake          uint64    `json:"stake"`
	Won            bool      `json:"won"`
	Slot           uint64    `json:"slot"`
	TxID           string    `json:"tx_id"`
	SettledAt      time.Time `json:"settled_at"`
}

// Outcome returns "won" or "lost".
func (s Settlement) Outcome() string {
	if s.Won {
		return "won"
	}
	return "lost"
}
