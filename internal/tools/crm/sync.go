package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/events"
	"github.com/estio/agentcore/internal/tools"
)

// queued is what a sync tool returns to the model
type queued struct {
	Queued bool   `json:"queued"`
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
}

func (c *catalog) enqueue(ctx context.Context, taskType, key string, payload map[string]any) (any, error) {
	id, err := c.Queue.Enqueue(ctx, events.Task{Type: taskType, Key: key, Payload: payload})
	if err != nil {
		c.Logger.Warn("Failed to queue sync task", zap.String("type", taskType), zap.Error(err))
		return nil, fmt.Errorf("queue %s: %w", taskType, err)
	}
	return queued{Queued: true, TaskID: id, Type: taskType}, nil
}

// pick copies the present keys of args
func pick(args map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := args[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

func parseTime(args map[string]any, key string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, str(args, key))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339", tools.ErrInvalidArguments, key)
	}
	return t, nil
}

func (c *catalog) updateRequirements(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "contact_id", "location_id"); err != nil {
		return nil, err
	}
	payload := pick(args, "contact_id", "location_id", "district", "min_price", "max_price", "bedrooms", "status", "notes")
	return c.enqueue(ctx, events.TaskUpdateRequirements, "", payload)
}

func (c *catalog) logActivity(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "contact_id", "message"); err != nil {
		return nil, err
	}
	return c.enqueue(ctx, events.TaskLogActivity, "", pick(args, "contact_id", "message"))
}

func (c *catalog) scheduleViewing(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "contact_id", "property_id", "calendar_id"); err != nil {
		return nil, err
	}
	start, err := parseTime(args, "start_time")
	if err != nil {
		return nil, err
	}
	if !start.After(c.Now()) {
		return nil, fmt.Errorf("%w: start_time is in the past", tools.ErrInvalidArguments)
	}
	payload := pick(args, "contact_id", "property_id", "calendar_id", "notes")
	payload["start_time"] = start.UTC().Format(time.RFC3339)
	key := strings.Join([]string{"viewing", str(args, "property_id"), str(args, "contact_id"), payload["start_time"].(string)}, ":")
	return c.enqueue(ctx, events.TaskScheduleViewing, key, payload)
}

func (c *catalog) generateContract(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "deal_id", "template"); err != nil {
		return nil, err
	}
	payload := pick(args, "deal_id", "template", "price")
	return c.enqueue(ctx, events.TaskGenerateContract, "contract:"+str(args, "deal_id")+":"+str(args, "template"), payload)
}

func (c *catalog) sendForSignature(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "deal_id", "document_id"); err != nil {
		return nil, err
	}
	signers, _ := args["signers"].([]any)
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: at least one signer is required", tools.ErrInvalidArguments)
	}
	payload := pick(args, "deal_id", "document_id", "signers")
	return c.enqueue(ctx, events.TaskSendForSignature, "esign:"+str(args, "document_id"), payload)
}

func (c *catalog) createFollowUp(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "contact_id", "reason"); err != nil {
		return nil, err
	}
	due, err := parseTime(args, "due_at")
	if err != nil {
		return nil, err
	}
	payload := pick(args, "contact_id", "conversation_id", "reason")
	payload["due_at"] = due.UTC().Format(time.RFC3339)
	return c.enqueue(ctx, events.TaskCreateFollowUp, "", payload)
}
