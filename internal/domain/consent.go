package domain

import (
	"sort"
	"time"
)

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionExpired  Decision = "expired"
)

// ConsentDecision: строка журнала согласий. Истечение TTL фиксируется
// новой строкой "expired", существующие строки никогда не обновляются.
type ConsentDecision struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"` // e.g. mail.send
	Decision  Decision  `json:"decision"`
	Risk      Risk      `json:"risk"`
	TTLHours  int       `json:"ttl_hours"` // 0 — одноразовое согласие
}

// Deadline возвращает момент логического истечения одобрения.
func (c ConsentDecision) Deadline() (time.Time, bool) {
	if c.Decision != DecisionApproved || c.TTLHours <= 0 {
		return time.Time{}, false
	}
	return c.Timestamp.Add(time.Duration(c.TTLHours) * time.Hour), true
}

// MirrorEvent: компактное событие для events_raw, чтобы дашборды видели
// активность согласий без JOIN.
func (c ConsentDecision) MirrorEvent() Event {
	outcome := OutcomeBlocked
	if c.Decision == DecisionApproved {
		outcome = OutcomeSuccess
	}
	return Event{
		Timestamp: c.Timestamp,
		Type:      EventConsent,
		SessionID: c.SessionID,
		Actor:     DefaultActor,
		Intent:    c.Action,
		Outcome:   outcome,
		Risk:      c.Risk,
	}
}

// Expire строит строку "expired" для одобрения.
func (c ConsentDecision) Expire(now time.Time) ConsentDecision {
	return ConsentDecision{
		Timestamp: now,
		SessionID: c.SessionID,
		Action:    c.Action,
		Decision:  DecisionExpired,
		Risk:      c.Risk,
	}
}

// DueForExpiry: анти-джойн по журналу в памяти: одобрения с ttl>0, дедлайн
// которых прошёл и после которых нет строки "expired" для той же пары
// (session_id, action). На пару возвращается не больше одного одобрения —
// самое позднее. Postgres-реализация делает то же самое одним запросом.
func DueForExpiry(rows []ConsentDecision, now time.Time) []ConsentDecision {
	type key struct{ session, action string }

	lastExpired := make(map[key]time.Time)
	for _, r := range rows {
		if r.Decision != DecisionExpired {
			continue
		}
		k := key{r.SessionID, r.Action}
		if r.Timestamp.After(lastExpired[k]) {
			lastExpired[k] = r.Timestamp
		}
	}

	due := make(map[key]ConsentDecision)
	for _, r := range rows {
		deadline, ok := r.Deadline()
		if !ok || !now.After(deadline) {
			continue
		}
		k := key{r.SessionID, r.Action}
		if exp, seen := lastExpired[k]; seen && exp.After(r.Timestamp) {
			continue
		}
		if prev, seen := due[k]; !seen || r.Timestamp.After(prev.Timestamp) {
			due[k] = r
		}
	}

	out := make([]ConsentDecision, 0, len(due))
	for _, r := range due {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Action < out[j].Action
	})
	return out
}
