package predictor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/events"
)

const (
	FollowUpTrigger    = "FOLLOW_UP_TRIGGER"
	ListingAlertPrefix = "NEW_LISTING_ALERT:"
)

// Register subscribes the predictor to the events that produce drafts:
// inbound messages, due follow-ups and new listings with matching contacts.
// Conversations opt in with a "semi_auto" payload field; events without it
// use the predictor defaults.
func (p *Predictor) Register(bus *events.Bus) {
	bus.On(events.MessageReceived, p.onMessage)
	bus.On(events.EmailReceived, p.onMessage)
	bus.On(events.FollowUpDue, p.onFollowUp)
	bus.On(events.ListingNew, p.onListing)
	p.logger.Info("Predictor event handlers registered")
}

func (p *Predictor) onMessage(ctx context.Context, e events.Event) error {
	conv, contact := ids(e)
	if conv == "" || contact == "" {
		return nil
	}
	// our own outbound messages must not trigger another draft
	if e.String("direction") == "outbound" {
		return nil
	}
	source := Source(e.Source)
	if source == "" {
		source = SourceWebhook
	}
	_, err := p.Predict(ctx, Trigger{
		ConversationID: conv,
		ContactID:      contact,
		Message:        e.String("message"),
		DealStage:      e.String("deal_stage"),
		Source:         source,
		Settings:       p.settings(e.Payload["semi_auto"]),
	})
	return err
}

func (p *Predictor) onFollowUp(ctx context.Context, e events.Event) error {
	conv, contact := ids(e)
	if conv == "" || contact == "" {
		return nil
	}
	_, err := p.Predict(ctx, Trigger{
		ConversationID: conv,
		ContactID:      contact,
		Message:        FollowUpTrigger,
		DealStage:      e.String("deal_stage"),
		Source:         SourceFollowUp,
		Settings:       p.settings(e.Payload["semi_auto"]),
	})
	return err
}

// onListing drafts one alert per matching contact. The payload carries
// "property_id" and "matches": [{"contact_id", "conversation_id", "semi_auto"}].
func (p *Predictor) onListing(ctx context.Context, e events.Event) error {
	propertyID := e.String("property_id")
	matches, _ := e.Payload["matches"].([]any)
	if propertyID == "" || len(matches) == 0 {
		return nil
	}

	var errs []error
	for _, m := range matches {
		match, ok := m.(map[string]any)
		if !ok {
			continue
		}
		conv, _ := match["conversation_id"].(string)
		contact, _ := match["contact_id"].(string)
		if conv == "" || contact == "" {
			continue
		}
		_, err := p.Predict(ctx, Trigger{
			ConversationID: conv,
			ContactID:      contact,
			Message:        ListingAlertPrefix + propertyID,
			Source:         SourceListingAlert,
			Settings:       p.settings(match["semi_auto"]),
		})
		if err != nil {
			p.logger.Warn("Listing alert draft failed",
				zap.String("property_id", propertyID),
				zap.String("contact_id", contact),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("contact %s: %w", contact, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Predictor) settings(raw any) *SemiAutoConfig {
	if raw == nil {
		return nil
	}
	s := ParseSemiAutoConfig(raw, p.defaults)
	return &s
}

func ids(e events.Event) (string, string) {
	conv, contact := e.ConversationID, e.ContactID
	if conv == "" {
		conv = e.String("conversation_id")
	}
	if contact == "" {
		contact = e.String("contact_id")
	}
	return conv, contact
}
