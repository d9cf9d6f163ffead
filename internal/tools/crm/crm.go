// Package crm registers the built-in real-estate tools. Read-only tools call
// search and memory directly; anything that changes an external system is
// queued as a sync task for the CRM side to apply.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/events"
	"github.com/estio/agentcore/internal/memory"
	"github.com/estio/agentcore/internal/search"
	"github.com/estio/agentcore/internal/tools"
)

// Tool names
const (
	ToolSearchProperties    = "search_properties"
	ToolUpdateRequirements  = "update_requirements"
	ToolStoreInsight        = "store_insight"
	ToolLogActivity         = "log_activity"
	ToolCalculateOfferRange = "calculate_offer_range"
	ToolCalculateMortgage   = "calculate_mortgage"
	ToolCheckAvailability   = "check_availability"
	ToolScheduleViewing     = "schedule_viewing"
	ToolGenerateContract    = "generate_contract"
	ToolSendForSignature    = "send_for_signature"
	ToolCreateFollowUp      = "create_follow_up"
)

// Searcher is the listing search the tools read from
type Searcher interface {
	Search(ctx context.Context, p search.Params) ([]search.Result, error)
}

// InsightWriter stores what the agent learns about a contact
type InsightWriter interface {
	StoreInsight(ctx context.Context, in memory.InsightInput) (*memory.Insight, error)
}

// Deps are the collaborators the catalog binds to. Calendar may be nil, in
// which case every working-hour slot is treated as free.
type Deps struct {
	Search   Searcher
	Memory   InsightWriter
	Queue    events.Enqueuer
	Calendar Calendar
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

type catalog struct {
	Deps
}

// Register adds every built-in tool to reg. It must run before reg.Freeze.
func Register(reg *tools.Registry, deps Deps) error {
	if deps.Search == nil || deps.Memory == nil || deps.Queue == nil {
		return fmt.Errorf("crm tools: search, memory and queue are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	c := &catalog{Deps: deps}

	for _, d := range c.descriptors() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (c *catalog) descriptors() []tools.Descriptor {
	return []tools.Descriptor{
		{
			Name:        ToolSearchProperties,
			Description: "Search the agency's active listings by location, price, bedrooms, deal type and a free-text description of what the client wants.",
			Schema: tools.Object(
				tools.Prop("location_id", tools.String("Agency location ID")),
				tools.Prop("district", tools.Optional(tools.String("District or city name"))),
				tools.Prop("min_price", tools.Optional(tools.Number("Minimum price in EUR"))),
				tools.Prop("max_price", tools.Optional(tools.Number("Maximum price in EUR"))),
				tools.Prop("bedrooms", tools.Optional(tools.Integer("Minimum number of bedrooms"))),
				tools.Prop("property_type", tools.Optional(tools.String("Apartment, villa, house, land..."))),
				tools.Prop("deal_type", tools.Optional(tools.Enum("Sale or rent", "sale", "rent"))),
				tools.Prop("query", tools.Optional(tools.String("Free-text description of the ideal property"))),
				tools.Prop("limit", tools.Optional(tools.Integer("Maximum results"))),
			),
			Handler: c.searchProperties,
			Tier:    tools.TierAlways,
		},
		{
			Name:        ToolUpdateRequirements,
			Description: "Record the client's property requirements on their CRM contact.",
			Schema: tools.Object(
				tools.Prop("contact_id", tools.String("CRM contact ID")),
				tools.Prop("location_id", tools.String("Agency location ID")),
				tools.Prop("district", tools.Optional(tools.String("Preferred district"))),
				tools.Prop("min_price", tools.Optional(tools.Number("Minimum budget in EUR"))),
				tools.Prop("max_price", tools.Optional(tools.Number("Maximum budget in EUR"))),
				tools.Prop("bedrooms", tools.Optional(tools.Integer("Bedrooms required"))),
				tools.Prop("status", tools.Optional(tools.String("Lead status"))),
				tools.Prop("notes", tools.Optional(tools.String("Free-form notes"))),
			),
			Handler: c.updateRequirements,
			Tier:    tools.TierAlways,
		},
		{
			Name:        ToolStoreInsight,
			Description: "Remember a durable fact about the client (preference, objection, timeline, motivation or relationship).",
			Schema: tools.Object(
				tools.Prop("contact_id", tools.String("CRM contact ID")),
				tools.Prop("text", tools.String("The insight in one sentence")),
				tools.Prop("category", tools.Enum("Insight category",
					string(memory.CategoryPreference),
					string(memory.CategoryObjection),
					string(memory.CategoryTimeline),
					string(memory.CategoryMotivation),
					string(memory.CategoryRelationship),
				)),
				tools.Prop("importance", tools.Optional(tools.Integer("1 (trivial) to 10 (critical)"))),
			),
			Handler: c.storeInsight,
			Tier:    tools.TierAlways,
		},
		{
			Name:        ToolLogActivity,
			Description: "Add a note to the contact's activity timeline.",
			Schema: tools.Object(
				tools.Prop("contact_id", tools.String("CRM contact ID")),
				tools.Prop("message", tools.String("Note text")),
			),
			Handler: c.logActivity,
			Tier:    tools.TierAlways,
		},
		{
			Name:        ToolCalculateOfferRange,
			Description: "Compare an asking price against similar listings and suggest an offer range for negotiation.",
			Schema: tools.Object(
				tools.Prop("location_id", tools.String("Agency location ID")),
				tools.Prop("district", tools.String("District of the property")),
				tools.Prop("asking_price", tools.Optional(tools.Number("Asking price in EUR"))),
				tools.Prop("property_type", tools.Optional(tools.String("Property type"))),
				tools.Prop("bedrooms", tools.Optional(tools.Integer("Bedrooms"))),
			),
			Handler: c.calculateOfferRange,
			Tier:    tools.TierDeferred,
		},
		{
			Name:        ToolCalculateMortgage,
			Description: "Estimate the monthly mortgage payment for a purchase price, deposit, interest rate and term.",
			Schema: tools.Object(
				tools.Prop("property_price", tools.Number("Purchase price in EUR")),
				tools.Prop("down_payment_percent", tools.Number("Deposit as a percentage of the price")),
				tools.Prop("interest_rate", tools.Number("Annual interest rate in percent")),
				tools.Prop("term_years", tools.Integer("Loan term in years")),
			),
			Handler: c.calculateMortgage,
			Tier:    tools.TierDeferred,
		},
		{
			Name:        ToolCheckAvailability,
			Description: "Find free viewing slots in the agent's calendar over the coming days.",
			Schema: tools.Object(
				tools.Prop("calendar_id", tools.String("Calendar ID")),
				tools.Prop("days", tools.Optional(tools.Integer("How many days ahead to look (default 7)"))),
				tools.Prop("duration_minutes", tools.Optional(tools.Integer("Viewing length (default 60)"))),
			),
			Handler: c.checkAvailability,
			Tier:    tools.TierDeferred,
		},
		{
			Name:        ToolScheduleViewing,
			Description: "Book a property viewing in the agent's calendar.",
			Schema: tools.Object(
				tools.Prop("contact_id", tools.String("CRM contact ID")),
				tools.Prop("property_id", tools.String("Listing ID")),
				tools.Prop("calendar_id", tools.String("Calendar ID")),
				tools.Prop("start_time", tools.String("RFC 3339 start time")),
				tools.Prop("notes", tools.Optional(tools.String("Notes for the agent"))),
			),
			Handler: c.scheduleViewing,
			Tier:    tools.TierDeferred,
		},
		{
			Name:        ToolGenerateContract,
			Description: "Prepare a reservation or sale contract for a deal.",
			Schema: tools.Object(
				tools.Prop("deal_id", tools.String("Deal ID")),
				tools.Prop("template", tools.Enum("Contract template", "reservation", "sale", "rental")),
				tools.Prop("price", tools.Optional(tools.Number("Agreed price in EUR"))),
			),
			Handler: c.generateContract,
			Tier:    tools.TierDeferred,
		},
		{
			Name:        ToolSendForSignature,
			Description: "Send a prepared document to the parties for electronic signature.",
			Schema: tools.Object(
				tools.Prop("deal_id", tools.String("Deal ID")),
				tools.Prop("document_id", tools.String("Document ID")),
				tools.Prop("signers", tools.Array(tools.String("Signer email"), "Signer emails")),
			),
			Handler: c.sendForSignature,
			Tier:    tools.TierDeferred,
		},
		{
			Name:        ToolCreateFollowUp,
			Description: "Schedule a follow-up reminder for the contact.",
			Schema: tools.Object(
				tools.Prop("contact_id", tools.String("CRM contact ID")),
				tools.Prop("conversation_id", tools.String("Conversation to draft the follow-up in")),
				tools.Prop("due_at", tools.String("RFC 3339 due time")),
				tools.Prop("reason", tools.String("Why to follow up")),
			),
			Handler: c.createFollowUp,
			Tier:    tools.TierDeferred,
		},
	}
}

func str(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func num(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func integer(args map[string]any, key string) int {
	return int(num(args, key))
}

func required(args map[string]any, keys ...string) error {
	for _, k := range keys {
		if str(args, k) == "" {
			return fmt.Errorf("%w: %s is required", tools.ErrInvalidArguments, k)
		}
	}
	return nil
}
