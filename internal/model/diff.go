package model

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// HasChanges reports whether next differs from prev in any way a renderer
// could observe. A missing prev (first observation) always counts as a change.
// The comparison is structural over the known schema. Extra fields at every
// level, and player_stats, are compared by decoded value so key order in the
// source document is irrelevant.
func HasChanges(next, prev *Snapshot) bool {
	if prev == nil || next == nil {
		return true
	}
	return !next.Equal(prev)
}

// Equal reports deep structural equality of two snapshots.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.Status != o.Status ||
		s.Team1Score != o.Team1Score ||
		s.Team2Score != o.Team2Score ||
		s.SeriesScoreTeam1 != o.SeriesScoreTeam1 ||
		s.SeriesScoreTeam2 != o.SeriesScoreTeam2 ||
		s.CurrentMap != o.CurrentMap ||
		s.CurrentMapNumber != o.CurrentMapNumber ||
		s.CurrentMode != o.CurrentMode {
		return false
	}
	if !mapsEqual(s.Maps, o.Maps) {
		return false
	}
	if !teamEqual(s.Team1, o.Team1) || !teamEqual(s.Team2, o.Team2) {
		return false
	}
	if !rawEqual(s.PlayerStats, o.PlayerStats) {
		return false
	}
	return extraEqual(s.Extra, o.Extra)
}

func mapsEqual(a, b []MapState) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if !mapEqual(&a[i], &b[i]) {
			return false
		}
	}
	return true
}

func mapEqual(a, b *MapState) bool {
	return a.MapNumber == b.MapNumber &&
		a.MapName == b.MapName &&
		a.Mode == b.Mode &&
		a.Status == b.Status &&
		a.Team1Score == b.Team1Score &&
		a.Team2Score == b.Team2Score &&
		a.WinnerID == b.WinnerID &&
		playersEqual(a.Team1Composition, b.Team1Composition) &&
		playersEqual(a.Team2Composition, b.Team2Composition) &&
		extraEqual(a.Extra, b.Extra)
}

func teamEqual(a, b *Team) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Name == b.Name &&
		playersEqual(a.Roster, b.Roster) &&
		extraEqual(a.Extra, b.Extra)
}

func playersEqual(a, b []PlayerState) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if !playerEqual(&a[i], &b[i]) {
			return false
		}
	}
	return true
}

func playerEqual(a, b *PlayerState) bool {
	return a.PlayerID == b.PlayerID &&
		a.Name == b.Name &&
		a.Hero == b.Hero &&
		a.Role == b.Role &&
		a.Country == b.Country &&
		a.Kills == b.Kills &&
		a.Deaths == b.Deaths &&
		a.Assists == b.Assists &&
		a.Damage == b.Damage &&
		a.Healing == b.Healing &&
		a.DamageBlocked == b.DamageBlocked &&
		a.UltimateUsage == b.UltimateUsage &&
		a.ObjectiveTime == b.ObjectiveTime &&
		extraEqual(a.Extra, b.Extra)
}

func extraEqual(a, b map[string]json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !rawEqual(av, bv) {
			return false
		}
	}
	return true
}

func rawEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
