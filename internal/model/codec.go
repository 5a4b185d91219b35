package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Keys decoded into typed fields, per type. Everything else lands in Extra.
var (
	snapshotKeys = jsonKeys(Snapshot{})
	mapKeys      = jsonKeys(MapState{})
	teamKeys     = jsonKeys(Team{})
	playerKeys   = jsonKeys(PlayerState{})
)

// Keys owned by StampedUpdate on the wire.
var stampKeys = map[string]bool{
	"timestamp": true,
	"origin":    true,
	"instance":  true,
}

func jsonKeys(v any) map[string]bool {
	t := reflect.TypeOf(v)
	keys := make(map[string]bool, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

// splitExtra decodes b into dst, a pointer to a method-free copy of the
// type, and returns the members of b whose keys are not in known.
func splitExtra(b []byte, dst any, known map[string]bool) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(b, dst); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	for k := range raw {
		if known[k] {
			delete(raw, k)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// mergeExtra encodes v, a method-free copy of the type, and adds the extra
// members back. Extra never overrides a typed field.
func mergeExtra(v any, extra map[string]json.RawMessage, known map[string]bool) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if !known[k] {
			doc[k] = val
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the typed fields and keeps unknown ones in Extra.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	type plain Snapshot
	var p plain
	extra, err := splitExtra(b, &p, snapshotKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*s = Snapshot(p)
	return nil
}

// MarshalJSON writes the typed fields and merges Extra back in.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return mergeExtra(plain(s), s.Extra, snapshotKeys)
}

func (m *MapState) UnmarshalJSON(b []byte) error {
	type plain MapState
	var p plain
	extra, err := splitExtra(b, &p, mapKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*m = MapState(p)
	return nil
}

func (m MapState) MarshalJSON() ([]byte, error) {
	type plain MapState
	return mergeExtra(plain(m), m.Extra, mapKeys)
}

func (t *Team) UnmarshalJSON(b []byte) error {
	type plain Team
	var p plain
	extra, err := splitExtra(b, &p, teamKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*t = Team(p)
	return nil
}

func (t Team) MarshalJSON() ([]byte, error) {
	type plain Team
	return mergeExtra(plain(t), t.Extra, teamKeys)
}

func (p *PlayerState) UnmarshalJSON(b []byte) error {
	type plain PlayerState
	var v plain
	extra, err := splitExtra(b, &v, playerKeys)
	if err != nil {
		return err
	}
	v.Extra = extra
	*p = PlayerState(v)
	return nil
}

func (p PlayerState) MarshalJSON() ([]byte, error) {
	type plain PlayerState
	return mergeExtra(plain(p), p.Extra, playerKeys)
}

// MarshalJSON flattens the snapshot and the stamp into one document:
// {timestamp, origin, instance, ...snapshot fields}.
func (u StampedUpdate) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(u.Snapshot)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for k := range stampKeys {
		delete(doc, k)
	}
	doc["timestamp"] = json.RawMessage(fmt.Sprintf("%d", u.Timestamp))
	if doc["origin"], err = json.Marshal(u.Origin); err != nil {
		return nil, err
	}
	if u.Instance != "" {
		if doc["instance"], err = json.Marshal(u.Instance); err != nil {
			return nil, err
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (u *StampedUpdate) UnmarshalJSON(b []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	var meta struct {
		Timestamp int64  `json:"timestamp"`
		Origin    Origin `json:"origin"`
		Instance  string `json:"instance"`
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return err
	}
	for k := range stampKeys {
		delete(snap.Extra, k)
	}
	if len(snap.Extra) == 0 {
		snap.Extra = nil
	}
	*u = StampedUpdate{
		Snapshot:  snap,
		Timestamp: meta.Timestamp,
		Origin:    meta.Origin,
		Instance:  meta.Instance,
	}
	return nil
}

// DecodeSnapshot decodes a match document, unwrapping a {"data": {...}}
// envelope when the document has one.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		b = envelope.Data
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
