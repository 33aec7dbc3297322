package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/telemetry"
)

const (
	// EventSubject carries every committed ledger event.
	EventSubject = "auction.events"
	// SettlementSubject carries one settlement per terminal auction, for
	// the external payment/commission collaborator.
	SettlementSubject = "auction.settlements"
)

// SnapshotSource supplies the auction snapshot a settlement is built from.
type SnapshotSource interface {
	GetSnapshot(auctionID string) (domain.Auction, bool)
}

// Publisher pushes committed events and settlement notifications to NATS.
type Publisher struct {
	conn      *nats.Conn
	snapshots SnapshotSource
}

// Connect dials NATS with reconnect handling and returns a publisher.
func Connect(url string, snapshots SnapshotSource) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("auction-engine"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{conn: conn, snapshots: snapshots}, nil
}

// HandleEvent publishes one committed event, plus a settlement when the
// event is terminal. Registered on the gate. Publish failures are logged;
// the ledger remains the source of truth and subscribers can replay.
func (p *Publisher) HandleEvent(ev domain.Event) {
	data, err := domain.SerializeEvent(ev)
	if err != nil {
		slog.Error("failed to serialize event for publishing", slog.Any("error", err))
		return
	}

	subject := EventSubject + "." + ev.GetAuctionID()
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("failed to publish event", slog.String("subject", subject), slog.Any("error", err))
	} else {
		telemetry.NATSMessagesPublished.WithLabelValues(EventSubject).Inc()
	}

	snap, ok := p.snapshots.GetSnapshot(ev.GetAuctionID())
	if !ok {
		return
	}
	settlement, ok := domain.SettlementFromEvent(snap, ev)
	if !ok {
		return
	}

	payload, err := json.Marshal(settlement)
	if err != nil {
		slog.Error("failed to serialize settlement", slog.Any("error", err))
		return
	}
	if err := p.conn.Publish(SettlementSubject, payload); err != nil {
		slog.Error("failed to publish settlement",
			slog.String("auction_id", settlement.AuctionID), slog.Any("error", err))
		return
	}

	telemetry.NATSMessagesPublished.WithLabelValues(SettlementSubject).Inc()
	telemetry.SettlementsTotal.WithLabelValues(string(settlement.Kind)).Inc()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}
