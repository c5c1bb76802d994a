// Package segmentation implements audience segmentation over clickstream
// data: a segment is a nested boolean expression over event-level fields,
// compiled into a single parameterized SQL query and measured against
// population totals at hit, session, and visitor grain.
package segmentation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a comparison operator
type Operator string

const (
	// String operators
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"

	// Numeric operators
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpBetween        Operator = "between"

	// Existence operators (valid for both data types)
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
)

// IsExistence reports whether the operator tests presence rather than a value.
func (op Operator) IsExistence() bool {
	return op == OpExists || op == OpNotExists
}

// OperatorMetadata contains info about an operator
type OperatorMetadata struct {
	Operator          Operator    `json:"operator"`
	Label             string      `json:"label"`
	Description       string      `json:"description"`
	ApplicableTypes   []FieldType `json:"applicable_types"`
	RequiresValue     bool        `json:"requires_value"`
	RequiresSecondary bool        `json:"requires_secondary"` // For "between"
}

// GetOperatorMetadata returns metadata for all operators
func GetOperatorMetadata() []OperatorMetadata {
	return []OperatorMetadata{
		{OpEquals, "Equals", "Exact match (case-insensitive for text)", []FieldType{FieldString, FieldNumber}, true, false},
		{OpNotEquals, "Does not equal", "Not an exact match", []FieldType{FieldString, FieldNumber}, true, false},
		{OpContains, "Contains", "Contains the text", []FieldType{FieldString}, true, false},
		{OpNotContains, "Does not contain", "Does not contain the text", []FieldType{FieldString}, true, false},
		{OpStartsWith, "Starts with", "Begins with the text", []FieldType{FieldString}, true, false},
		{OpEndsWith, "Ends with", "Ends with the text", []FieldType{FieldString}, true, false},

		{OpGreaterThan, "Greater than", "Value is greater than", []FieldType{FieldNumber}, true, false},
		{OpLessThan, "Less than", "Value is less than", []FieldType{FieldNumber}, true, false},
		{OpGreaterOrEqual, "Greater than or equal", "Value is greater than or equal to", []FieldType{FieldNumber}, true, false},
		{OpLessOrEqual, "Less than or equal", "Value is less than or equal to", []FieldType{FieldNumber}, true, false},
		{OpBetween, "Between", "Value is between two numbers", []FieldType{FieldNumber}, true, true},

		{OpExists, "Has a value", "Field is present and non-empty", []FieldType{FieldString, FieldNumber}, false, false},
		{OpNotExists, "Has no value", "Field is missing or empty", []FieldType{FieldString, FieldNumber}, false, false},
	}
}

// GetAvailableOperators returns operators available for a field type
func GetAvailableOperators(fieldType FieldType) []OperatorMetadata {
	var operators []OperatorMetadata
	for _, meta := range GetOperatorMetadata() {
		for _, ft := range meta.ApplicableTypes {
			if ft == fieldType {
				operators = append(operators, meta)
				break
			}
		}
	}
	return operators
}

func getOperatorMeta(op Operator) *OperatorMetadata {
	for _, meta := range GetOperatorMetadata() {
		if meta.Operator == op {
			return &meta
		}
	}
	return nil
}

// ==========================================
// FIELD TYPES
// ==========================================

// FieldType represents the data type of a field
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
)

// ==========================================
// SCOPE, SIGN, COMBINATORS
// ==========================================

// Scope is the grain at which a container's predicate must hold.
type Scope string

const (
	ScopeHit     Scope = "hit"     // a single event satisfies the predicate
	ScopeVisit   Scope = "visit"   // some event within the session satisfies it
	ScopeVisitor Scope = "visitor" // some event of the user satisfies it
)

// Rank orders scopes from narrowest to widest. A child container may narrow
// scope going inward but never widen it.
func (s Scope) Rank() int {
	switch s {
	case ScopeHit:
		return 1
	case ScopeVisit:
		return 2
	case ScopeVisitor:
		return 3
	default:
		return 0
	}
}

// Sign determines whether a container's compiled predicate is negated.
type Sign string

const (
	SignInclude Sign = "include"
	SignExclude Sign = "exclude"
)

// Combinator joins sibling elements inside a container.
type Combinator string

const (
	CombinatorAnd  Combinator = "AND"
	CombinatorOr   Combinator = "OR"
	CombinatorThen Combinator = "THEN"
)

// ==========================================
// SEGMENT STRUCTURES
// ==========================================

// DefaultSegmentName is the placeholder assigned to freshly created
// definitions. The validator rejects it at persistence time.
const DefaultSegmentName = "New Segment"

// Condition is a single leaf predicate: field, operator, value.
// Combinator joins this condition to the previous one in the same container;
// it is ignored for the first condition and, under the uniform-combinator
// rendering, for all others too (the container's combinator wins).
type Condition struct {
	Field          string     `json:"field"`
	Operator       Operator   `json:"operator"`
	Value          string     `json:"value,omitempty"`
	ValueSecondary string     `json:"value_secondary,omitempty"` // second bound for between
	DataType       FieldType  `json:"data_type"`
	Combinator     Combinator `json:"combinator,omitempty"`
}

// IsComplete reports whether the condition carries enough information to
// compile. Incomplete conditions are dropped, not rejected, so a
// half-authored tree still previews.
func (c Condition) IsComplete() bool {
	if c.Field == "" {
		return false
	}
	if c.Operator.IsExistence() {
		return true
	}
	return c.Value != ""
}

// Container is a scoped, signed group of conditions and nested containers.
type Container struct {
	Scope      Scope       `json:"scope"`
	Sign       Sign        `json:"sign"`
	Combinator Combinator  `json:"combinator"`
	Conditions []Condition `json:"conditions,omitempty"`
	Children   []Container `json:"children,omitempty"`
}

// NewContainer creates an empty include container at the given scope.
func NewContainer(scope Scope) Container {
	return Container{
		Scope:      scope,
		Sign:       SignInclude,
		Combinator: CombinatorAnd,
	}
}

// SegmentDefinition is the root of a segment: a named, ordered list of
// containers combined with a single AND/OR combinator.
type SegmentDefinition struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	RootScope   Scope       `json:"root_scope"`
	Combinator  Combinator  `json:"combinator"`
	Containers  []Container `json:"containers,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewSegmentDefinition creates an empty definition with placeholder name.
func NewSegmentDefinition() SegmentDefinition {
	now := time.Now()
	return SegmentDefinition{
		ID:         uuid.New(),
		Name:       DefaultSegmentName,
		RootScope:  ScopeVisit,
		Combinator: CombinatorAnd,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep value-copy of the definition. The tree is owned
// strictly top-down, so copying the slices is sufficient.
func (d SegmentDefinition) Clone() SegmentDefinition {
	out := d
	out.Containers = cloneContainers(d.Containers)
	return out
}

func cloneContainers(in []Container) []Container {
	if in == nil {
		return nil
	}
	out := make([]Container, len(in))
	for i, c := range in {
		out[i] = c
		if c.Conditions != nil {
			out[i].Conditions = append([]Condition(nil), c.Conditions...)
		}
		out[i].Children = cloneContainers(c.Children)
	}
	return out
}

// Equal reports structural equality: same name, description, and matching
// logic. Identity and timestamps are ignored.
func (d SegmentDefinition) Equal(other SegmentDefinition) bool {
	return d.Name == other.Name && d.Description == other.Description &&
		bytes.Equal(d.canonicalJSON(), other.canonicalJSON())
}

// Hash returns a deterministic digest of the definition's matching logic,
// used as the statistics cache key.
func (d SegmentDefinition) Hash() string {
	sum := sha256.Sum256(d.canonicalJSON())
	return hex.EncodeToString(sum[:])
}

func (d SegmentDefinition) canonicalJSON() []byte {
	data := struct {
		RootScope  Scope       `json:"root_scope"`
		Combinator Combinator  `json:"combinator"`
		Containers []Container `json:"containers"`
	}{d.RootScope, d.Combinator, d.Containers}
	out, _ := json.Marshal(data)
	return out
}

// ==========================================
// RESULTS
// ==========================================

// Statistics reports how many hits, sessions, and visitors a compiled
// segment matches, alongside population totals.
type Statistics struct {
	Hits          int64  `json:"hits"`
	Sessions      int64  `json:"sessions"`
	Visitors      int64  `json:"visitors"`
	TotalHits     int64  `json:"total_hits"`
	TotalSessions int64  `json:"total_sessions"`
	TotalVisitors int64  `json:"total_visitors"`
	Error         string `json:"error,omitempty"`
}

// HitShare returns matched hits as a fraction of all hits (0 when empty).
func (s Statistics) HitShare() float64 { return share(s.Hits, s.TotalHits) }

// SessionShare returns matched sessions as a fraction of all sessions.
func (s Statistics) SessionShare() float64 { return share(s.Sessions, s.TotalSessions) }

// VisitorShare returns matched visitors as a fraction of all visitors.
func (s Statistics) VisitorShare() float64 { return share(s.Visitors, s.TotalVisitors) }

func share(matched, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// EventRow is one matching event returned by a preview.
type EventRow struct {
	HitID           string    `json:"hit_id"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	EventTime       time.Time `json:"event_time"`
	URL             string    `json:"url,omitempty"`
	PageTitle       string    `json:"page_title,omitempty"`
	Referrer        string    `json:"referrer,omitempty"`
	DeviceType      string    `json:"device_type,omitempty"`
	Browser         string    `json:"browser,omitempty"`
	OS              string    `json:"os,omitempty"`
	Country         string    `json:"country,omitempty"`
	City            string    `json:"city,omitempty"`
	Campaign        string    `json:"campaign,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	Revenue         float64   `json:"revenue"`
}

// Preview is a bounded sample of matching events plus the generated SQL
// (exposed for debug surfaces only).
type Preview struct {
	Rows         []EventRow `json:"rows"`
	SQL          string     `json:"sql,omitempty"`
	CalculatedAt time.Time  `json:"calculated_at"`
}
