// Package cmdset defines command identifiers and the command registry.
package cmdset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ID identifies a command by command set and command id.
type ID struct {
	Set byte
	ID  byte
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("%02x:%02x", id.Set, id.ID)
}

// ParseID parses the "SET:ID" form produced by String, both in hex.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("invalid command id %q", s)
	}
	set, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return ID{}, fmt.Errorf("invalid command set %q", parts[0])
	}
	id, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return ID{}, fmt.Errorf("invalid command id %q", parts[1])
	}
	return ID{Set: byte(set), ID: byte(id)}, nil
}

// Less orders IDs by set then id.
func (id ID) Less(o ID) bool {
	if id.Set != o.Set {
		return id.Set < o.Set
	}
	return id.ID < o.ID
}

// Kind classifies a command.
type Kind int

const (
	// KindRequest is sent by host and acknowledged by firmware.
	KindRequest Kind = iota
	// KindPush is sent by firmware unsolicited.
	KindPush
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindPush:
		return "push"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Category groups push frames for subscription.
type Category int

// Push categories.
const (
	CategoryNone Category = iota
	CategoryTelemetry
	CategoryFlightStatus
	CategoryMissionState
	CategoryMissionEvent
	CategoryPayloadInfo
)

var categoryNames = map[Category]string{
	CategoryNone:         "none",
	CategoryTelemetry:    "telemetry",
	CategoryFlightStatus: "flight-status",
	CategoryMissionState: "mission-state",
	CategoryMissionEvent: "mission-event",
	CategoryPayloadInfo:  "payload-info",
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory converts a category name back to Category.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return CategoryNone, fmt.Errorf("unknown category %q", name)
}

// Categories lists all push categories except CategoryNone.
func Categories() []Category {
	return []Category{
		CategoryTelemetry,
		CategoryFlightStatus,
		CategoryMissionState,
		CategoryMissionEvent,
		CategoryPayloadInfo,
	}
}

// Spec is the metadata of a command.
type Spec struct {
	ID   ID
	Name string
	Kind Kind
	// Category is only meaningful for KindPush.
	Category Category
	// AckSize is the minimum length of a valid ack payload.
	AckSize int
	// MaxPayload limits the request payload, 0 means the frame limit.
	MaxPayload int
	// Timeout is the default per-attempt timeout.
	Timeout time.Duration
	// Attempts is the default number of transmissions.
	Attempts int
}

// Registry maps IDs to Specs. It is read-only once created.
type Registry struct {
	specs  map[ID]Spec
	byName map[string]ID
}

// NewRegistry creates a Registry. Duplicated IDs or names panic as
// the table is defined at compile time.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{
		specs:  make(map[ID]Spec, len(specs)),
		byName: make(map[string]ID, len(specs)),
	}
	r.add(specs...)
	return r
}

func (r *Registry) add(specs ...Spec) {
	for _, spec := range specs {
		if _, exist := r.specs[spec.ID]; exist {
			panic(fmt.Sprintf("duplicated command %s", spec.ID))
		}
		if _, exist := r.byName[spec.Name]; exist {
			panic(fmt.Sprintf("duplicated command name %q", spec.Name))
		}
		r.specs[spec.ID] = spec
		r.byName[spec.Name] = spec.ID
	}
}

// With returns a new Registry extended with specs.
func (r *Registry) With(specs ...Spec) *Registry {
	ext := NewRegistry(r.Specs()...)
	ext.add(specs...)
	return ext
}

// Lookup finds the Spec by ID.
func (r *Registry) Lookup(id ID) (Spec, bool) {
	spec, ok := r.specs[id]
	return spec, ok
}

// ByName finds the Spec by name.
func (r *Registry) ByName(name string) (Spec, bool) {
	id, ok := r.byName[name]
	if !ok {
		return Spec{}, false
	}
	return r.specs[id], true
}

// Specs returns all specs ordered by ID.
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID.Less(specs[j].ID) })
	return specs
}

// Len returns the number of commands.
func (r *Registry) Len() int {
	return len(r.specs)
}
