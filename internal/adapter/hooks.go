package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/capsa-dev/capsa/internal/memory"
)

// eventKinds maps inbound event types to observation kinds. Unknown
// types are skipped rather than rejected so adapters can forward their
// full event stream without filtering first.
var eventKinds = map[string]memory.ObservationKind{
	"tool_call":   memory.KindToolCall,
	"command":     memory.KindCommand,
	"file_diff":   memory.KindFileDiff,
	"error":       memory.KindError,
	"message":     memory.KindMessage,
	"node_start":  memory.KindNodeStart,
	"node_end":    memory.KindNodeEnd,
	"node_output": memory.KindNodeOutput,
	"node_error":  memory.KindNodeError,
}

// MapSessionEvent is the default mapping for session-style tools. It
// pulls content from payload["content"] (or renders the payload as
// JSON when absent) and carries the rest of the payload as provenance.
func MapSessionEvent(ev Event) MapResult {
	kind, ok := eventKinds[ev.Type]
	if !ok {
		return MapResult{Skip: true}
	}

	content, _ := ev.Payload["content"].(string)
	if content == "" {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return MapResult{Err: fmt.Errorf("render payload: %w", err)}
		}
		content = string(raw)
	}

	prov := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		if k == "content" {
			continue
		}
		prov[k] = v
	}
	prov["source"] = "session-event"

	return MapResult{Observation: &memory.Observation{
		Kind:       kind,
		Content:    content,
		Provenance: prov,
		Ts:         ev.Timestamp,
		Scope:      memory.ScopeIDs{SessionID: ev.SessionID},
	}}
}
