package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// CurrentDatetime reports the current time, optionally in a named zone.
type CurrentDatetime struct {
	nowFunc func() time.Time // for tests
}

// NewCurrentDatetime creates the current_datetime tool.
func NewCurrentDatetime() *CurrentDatetime {
	return &CurrentDatetime{nowFunc: time.Now}
}

func (t *CurrentDatetime) Name() string        { return "current_datetime" }
func (t *CurrentDatetime) Version() string     { return "1.0.0" }
func (t *CurrentDatetime) Description() string {
	return "Get the current date and time, optionally in an IANA time zone."
}

func (t *CurrentDatetime) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {"type": "string"}
		},
		"additionalProperties": false
	}`)
}

func (t *CurrentDatetime) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapRead}
}

func (t *CurrentDatetime) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}

	now := t.nowFunc()
	if in.Timezone != "" {
		loc, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, errs.Wrap(errs.KindTool, "unknown time zone", err)
		}
		now = now.In(loc)
	}

	return tools.JSONResult(map[string]any{
		"iso":      now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	})
}
