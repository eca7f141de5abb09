package ingest

import (
	"fmt"
	"math"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventToStruct: событие в protobuf Struct. ts передается как Unix epoch (секунды).
func EventToStruct(e domain.Event) (*structpb.Struct, error) {
	m := map[string]any{
		"type":           string(e.Type),
		"session_id":     e.SessionID,
		"actor":          e.Actor,
		"intent":         e.Intent,
		"plan_id":        e.PlanID,
		"tool":           e.Tool,
		"outcome":        string(e.Outcome),
		"err_code":       e.ErrCode,
		"risk":           string(e.Risk),
		"evidence_count": e.EvidenceCount,
		"args_hash":      e.ArgsFingerprint,
	}
	if !e.Timestamp.IsZero() {
		m["ts"] = domain.EpochSeconds(e.Timestamp)
	}
	if e.LatencyMs != nil {
		m["latency_ms"] = *e.LatencyMs
	}
	return structpb.NewStruct(m)
}

// EventFromStruct разбирает входящее событие. ts принимается как epoch или RFC3339.
func EventFromStruct(s *structpb.Struct) (domain.Event, error) {
	var e domain.Event
	if s == nil {
		return e, fmt.Errorf("empty event")
	}
	f := s.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }

	e.Type = domain.EventType(str("type"))
	e.SessionID = str("session_id")
	e.Actor = str("actor")
	e.Intent = str("intent")
	e.PlanID = str("plan_id")
	e.Tool = str("tool")
	e.Outcome = domain.Outcome(str("outcome"))
	e.ErrCode = str("err_code")
	e.Risk = domain.Risk(str("risk"))
	e.ArgsFingerprint = str("args_hash")
	e.EvidenceCount = int(f["evidence_count"].GetNumberValue())

	if v, ok := f["latency_ms"]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			n := v.GetNumberValue()
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return e, fmt.Errorf("latency_ms is not a finite number")
			}
			e.LatencyMs = domain.Latency(int64(math.Round(n)))
		}
	}

	if v, ok := f["ts"]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			e.Timestamp = domain.FromEpochSeconds(k.NumberValue)
		case *structpb.Value_StringValue:
			ts, err := time.Parse(time.RFC3339Nano, k.StringValue)
			if err != nil {
				return e, fmt.Errorf("invalid ts: %w", err)
			}
			e.Timestamp = ts
		}
	}

	switch e.Outcome {
	case "", domain.OutcomeSuccess, domain.OutcomeBlocked, domain.OutcomeError:
	default:
		return e, fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	return e, nil
}
