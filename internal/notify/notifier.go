// Package notify hands finished digests to the downstream email renderer.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// Counts summarizes the digest sections.
type Counts struct {
	Targets           int `json:"targets"`
	LegislativeAlerts int `json:"legislative_alerts"`
	IntegrityRisks    int `json:"integrity_risks"`
	ExpiringLicenses  int `json:"expiring_licenses"`
	TaxRisks          int `json:"tax_risks"`
}

// Message is the wire form of a digest.
type Message struct {
	RunID             string                      `json:"run_id"`
	GeneratedAt       time.Time                   `json:"generated_at"`
	Counts            Counts                      `json:"counts"`
	Targets           []sentinel.EnrichedTarget   `json:"targets"`
	LegislativeAlerts []sentinel.LegislativeAlert `json:"legislative_alerts"`
	IntegrityRisks    []sentinel.IntegrityRisk    `json:"integrity_risks"`
	ExpiringLicenses  []sentinel.ExpiringLicense  `json:"expiring_licenses"`
	TaxRisks          []sentinel.TaxRisk          `json:"tax_risks"`
}

// NewMessage converts a digest into its wire form. Nil sections become empty arrays.
func NewMessage(d sentinel.Digest) Message {
	return Message{
		RunID:       d.RunID,
		GeneratedAt: d.GeneratedAt,
		Counts: Counts{
			Targets:           len(d.Targets),
			LegislativeAlerts: len(d.LegislativeAlerts),
			IntegrityRisks:    len(d.IntegrityRisks),
			ExpiringLicenses:  len(d.ExpiringLicenses),
			TaxRisks:          len(d.TaxRisks),
		},
		Targets:           nonNil(d.Targets),
		LegislativeAlerts: nonNil(d.LegislativeAlerts),
		IntegrityRisks:    nonNil(d.IntegrityRisks),
		ExpiringLicenses:  nonNil(d.ExpiringLicenses),
		TaxRisks:          nonNil(d.TaxRisks),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// PublishNotifier implements sentinel.Notifier by publishing the digest message.
type PublishNotifier struct {
	publisher sentinel.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishNotifier wires a notifier to publisher and topic.
func NewPublishNotifier(publisher sentinel.Publisher, topic string, logger *zap.Logger) *PublishNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishNotifier{publisher: publisher, topic: topic, logger: logger.Named("notify")}
}

// Send publishes the digest. A publish error is a failed delivery.
func (n *PublishNotifier) Send(ctx context.Context, digest sentinel.Digest) error {
	if n.publisher == nil {
		return fmt.Errorf("send digest: publisher is not configured")
	}
	id, err := n.publisher.Publish(ctx, n.topic, NewMessage(digest))
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	n.logger.Info("digest published",
		zap.String("run_id", digest.RunID),
		zap.String("message_id", id),
		zap.String("topic", n.topic),
		zap.Int("targets", len(digest.Targets)),
	)
	return nil
}
