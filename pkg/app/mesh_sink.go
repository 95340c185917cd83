package app

import (
	"context"
	"encoding/json"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// MeshLedgerSink satisfies mesh.Sink: every event the mesh accepts is
// durably appended to the Immutable Log before (or regardless of)
// in-process delivery, the durable-fan-out role spec.md §4.1 assigns
// to the mesh's Sink.
type MeshLedgerSink struct {
	Recorder *LedgerRecorder
}

func (s MeshLedgerSink) Record(ctx context.Context, evt contracts.Event) {
	body, err := json.Marshal(evt.Payload)
	if err != nil {
		body = []byte("{}")
	}
	_, _ = s.Recorder.log.Append(ctx, contracts.LogEntry{
		Timestamp: evt.Timestamp,
		Actor:     evt.Actor,
		Action:    evt.EventType,
		Resource:  evt.Resource,
		Subsystem: "mesh:" + evt.Subsystem,
		Payload:   body,
		Result:    contracts.ResultSuccess,
	})
}
