package model

import (
	"encoding/json"
	"time"
)

// ResourceID identifies a live match. It is the key for every other entity.
type ResourceID string

// Origin tags which producer stamped an update.
type Origin string

const (
	OriginPoll      Origin = "poll"
	OriginBroadcast Origin = "broadcast"
)

// Snapshot is the full denormalized state of a match at a point in time.
// Snapshots are values: they are replaced wholesale, never patched.
type Snapshot struct {
	Status           string     `json:"status"`
	Team1Score       int        `json:"team1_score"`
	Team2Score       int        `json:"team2_score"`
	SeriesScoreTeam1 int        `json:"series_score_team1"`
	SeriesScoreTeam2 int        `json:"series_score_team2"`
	CurrentMap       string     `json:"current_map"`
	CurrentMapNumber int        `json:"current_map_number"`
	CurrentMode      string     `json:"current_mode,omitempty"`
	Maps             []MapState `json:"maps"`
	Team1            *Team      `json:"team1,omitempty"`
	Team2            *Team      `json:"team2,omitempty"`

	// PlayerStats is kept as the source sent it. Providers send both a list
	// and an object keyed by player id.
	PlayerStats json.RawMessage `json:"player_stats,omitempty"`

	// Extra holds fields of the source document this type does not model.
	// They are carried through storage untouched and take part in change
	// detection. MapState, Team and PlayerState carry their own.
	Extra map[string]json.RawMessage `json:"-"`
}

// MapState is one map of a series.
type MapState struct {
	MapNumber        int           `json:"map_number"`
	MapName          string        `json:"map_name"`
	Mode             string        `json:"mode"`
	Status           string        `json:"status"`
	Team1Score       int           `json:"team1_score"`
	Team2Score       int           `json:"team2_score"`
	WinnerID         int64         `json:"winner_id,omitempty"`
	Team1Composition []PlayerState `json:"team1_composition"`
	Team2Composition []PlayerState `json:"team2_composition"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Team is a side of the match with its roster.
type Team struct {
	ID     int64         `json:"id,omitempty"`
	Name   string        `json:"name"`
	Roster []PlayerState `json:"roster"`

	Extra map[string]json.RawMessage `json:"-"`
}

// PlayerState is one player's hero selection and stat line.
type PlayerState struct {
	PlayerID      int64  `json:"player_id"`
	Name          string `json:"player_name"`
	Hero          string `json:"hero"`
	Role          string `json:"role,omitempty"`
	Country       string `json:"country,omitempty"`
	Kills         int    `json:"kills"`
	Deaths        int    `json:"deaths"`
	Assists       int    `json:"assists"`
	Damage        int    `json:"damage"`
	Healing       int    `json:"healing"`
	DamageBlocked int    `json:"damage_blocked"`
	UltimateUsage int    `json:"ultimate_usage"`
	ObjectiveTime int    `json:"objective_time"`

	Extra map[string]json.RawMessage `json:"-"`
}

// StampedUpdate is a Snapshot plus the write metadata used for
// last-write-wins resolution between producers.
type StampedUpdate struct {
	Snapshot
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Origin    Origin `json:"origin"`
	Instance  string `json:"instance,omitempty"`
}

// NewStampedUpdate stamps a snapshot with the given time, origin and writer.
func NewStampedUpdate(snap Snapshot, at time.Time, origin Origin, instance string) StampedUpdate {
	return StampedUpdate{
		Snapshot:  snap,
		Timestamp: at.UnixMilli(),
		Origin:    origin,
		Instance:  instance,
	}
}

// Time returns the stamp as a time.Time.
func (u StampedUpdate) Time() time.Time {
	return time.UnixMilli(u.Timestamp)
}

// NewerThan reports whether u must win over other.
// Ties go to the later writer, so equal stamps are not considered stale.
func (u StampedUpdate) NewerThan(other *StampedUpdate) bool {
	if other == nil {
		return true
	}
	return u.Timestamp >= other.Timestamp
}
