package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// Announcer turns ledger bus events into notifications.
type Announcer struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Announcer {
	return &Announcer{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "announcer")),
	}
}

type busEvent struct {
	Event          string          `json:"event"`
	ID             string          `json:"id"`
	Instruction    string          `json:"instruction"`
	Prediction     string          `json:"prediction"`
	User           string          `json:"user"`
	PredictedPrice int64           `json:"predicted_price"`
	ObservedPrice  int64           `json:"observed_price"`
	Stake          uint64          `json:"stake"`
	Won            bool            `json:"won"`
	Slot           uint64          `json:"slot"`
	TxID           string          `json:"tx_id"`
	Error          *domain.TxError `json:"error"`
}

// Run relays settlement and transaction events until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	settled, err := a.bus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		return fmt.Errorf("notify: subscribe settlements: %w", err)
	}
	txs, err := a.bus.Subscribe(ctx, domain.ChannelTx)
	if err != nil {
		return fmt.Errorf("notify: subscribe tx: %w", err)
	}
	a.logger.Info("announcer started")

	for {
		var payload []byte
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok = <-settled:
		case payload, ok = <-txs:
		}
		if !ok {
			return fmt.Errorf("notify: subscription closed")
		}
		a.handle(ctx, payload)
	}
}

func (a *Announcer) handle(ctx context.Context, payload []byte) {
	var ev busEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		a.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
		return
	}
	title, msg, ok := render(ev)
	if !ok || !a.notifier.Enabled(ev.Event) {
		return
	}
	if err := a.notifier.Notify(ctx, ev.Event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "announce failed", slog.String("event", ev.Event), slog.String("error", err.Error()))
	}
}

func render(ev busEvent) (title, msg string, ok bool) {
	switch ev.Event {
	case domain.EventPredictionSettled:
		outcome := "lost"
		if ev.Won {
			outcome = "won"
		}
		return "Prediction " + outcome, fmt.Sprintf(
			"prediction %s by %s\npredicted %d, observed %d\nstake %d at slot %d\ntx %s",
			ev.Prediction, ev.User, ev.PredictedPrice, ev.ObservedPrice, ev.Stake, ev.Slot, ev.TxID,
		), true
	case domain.EventTxRejected:
		reason := "unknown"
		if ev.Error != nil {
			reason = ev.Error.Name
			if reason == "" {
				reason = ev.Error.Message
			}
		}
		return "Transaction rejected", fmt.Sprintf("%s %s at slot %d: %s", ev.Instruction, ev.ID, ev.Slot, reason), true
	}
	return "", "", false
}
