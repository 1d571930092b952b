package model

import "time"

type IntervalKind string

const (
	KindTimeBlock    IntervalKind = "time_block"
	KindAvailability IntervalKind = "availability"
)

func (k IntervalKind) Valid() bool {
	return k == KindTimeBlock || k == KindAvailability
}

// Interval is a half-open [StartTime, EndTime) range owned by one user. Time blocks of the same
// owner never overlap; availability windows may.
type Interval struct {
	ID        string       `json:"id"`
	Kind      IntervalKind `json:"kind"`
	OwnerID   string       `json:"owner_id"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Title     string       `json:"title"`
	Status    string       `json:"status,omitempty"`
	Note      string       `json:"note,omitempty"`
	Color     string       `json:"color,omitempty"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Duration of the interval; zero for the synthetic day summaries.
func (iv Interval) Duration() time.Duration {
	return iv.EndTime.Sub(iv.StartTime)
}

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Timezone    string    `json:"timezone"`
	CreatedAt   time.Time `json:"created_at"`
}

// Location resolves the user's IANA timezone, falling back to UTC.
func (u User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Metadata is the mutable display data supplied on create.
type Metadata struct {
	Title  string
	Status string
	Note   string
	Color  string
}

// Patch updates an interval. Nil fields are left untouched. Version, when non-zero, must match
// the stored version or the update fails with a concurrency conflict.
type Patch struct {
	StartTime *time.Time
	EndTime   *time.Time
	Title     *string
	Status    *string
	Note      *string
	Color     *string
	Version   int64
}

// Apply returns a copy of iv with the patch applied. Version and audit fields are not touched.
func (p Patch) Apply(iv Interval) Interval {
	if p.StartTime != nil {
		iv.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		iv.EndTime = *p.EndTime
	}
	if p.Title != nil {
		iv.Title = *p.Title
	}
	if p.Status != nil {
		iv.Status = *p.Status
	}
	if p.Note != nil {
		iv.Note = *p.Note
	}
	if p.Color != nil {
		iv.Color = *p.Color
	}
	return iv
}

func (p Patch) MovesInterval() bool {
	return p.StartTime != nil || p.EndTime != nil
}
