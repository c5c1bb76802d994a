package segmentation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Table names of the fixed clickstream schema. The event table is the only
// grain the outer query selects from; the two rollup tables are reached via
// LEFT JOIN (hit scope) or inside scope subqueries (visit/visitor scope).
const (
	TableEvents   = "tracking_events"
	TableSessions = "session_stats"
	TableVisitors = "visitor_stats"
)

// FieldInfo describes one queryable field: its owning table, its value
// domain, and display metadata for authoring surfaces.
type FieldInfo struct {
	Field    string    `yaml:"field" json:"field"`
	Label    string    `yaml:"name" json:"name"`
	Table    string    `yaml:"table" json:"table"`
	DataType FieldType `yaml:"type" json:"type"`
}

// FieldGroup is an ordered, named group of fields (dimensions, metrics, ...)
// as presented to authoring surfaces.
type FieldGroup struct {
	Name   string      `yaml:"name" json:"name"`
	Fields []FieldInfo `yaml:"fields" json:"fields"`
}

// Catalog is the immutable field lookup passed explicitly into compiler and
// validator calls. Load it once at startup; it has no other state.
type Catalog struct {
	groups  []FieldGroup
	byField map[string]FieldInfo
}

// NewCatalog builds a catalog from ordered field groups.
func NewCatalog(groups []FieldGroup) (*Catalog, error) {
	c := &Catalog{
		groups:  groups,
		byField: make(map[string]FieldInfo),
	}
	for _, g := range groups {
		for _, f := range g.Fields {
			if f.Field == "" {
				return nil, fmt.Errorf("catalog group %q: field with empty identifier", g.Name)
			}
			switch f.Table {
			case TableEvents, TableSessions, TableVisitors:
			default:
				return nil, fmt.Errorf("catalog field %q: unknown table %q", f.Field, f.Table)
			}
			switch f.DataType {
			case FieldString, FieldNumber:
			default:
				return nil, fmt.Errorf("catalog field %q: unknown type %q", f.Field, f.DataType)
			}
			if _, dup := c.byField[f.Field]; dup {
				return nil, fmt.Errorf("catalog field %q: duplicate definition", f.Field)
			}
			c.byField[f.Field] = f
		}
	}
	return c, nil
}

// LoadCatalog reads a catalog definition from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Groups []FieldGroup `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(doc.Groups)
}

// Resolve looks up a field identifier. The compiler treats a miss as a
// dropped condition; the validator treats it as a hard error.
func (c *Catalog) Resolve(field string) (FieldInfo, bool) {
	info, ok := c.byField[field]
	return info, ok
}

// OperatorsFor returns the operators allowed for a value domain.
func (c *Catalog) OperatorsFor(dataType FieldType) []Operator {
	metas := GetAvailableOperators(dataType)
	ops := make([]Operator, 0, len(metas))
	for _, m := range metas {
		ops = append(ops, m.Operator)
	}
	return ops
}

// Groups returns the ordered field groups for authoring surfaces.
func (c *Catalog) Groups() []FieldGroup {
	return c.groups
}

// DefaultCatalog returns the built-in catalog for the fixed clickstream
// schema, so hosts and tests need no configuration file.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]FieldGroup{
		{
			Name: "Page & Traffic",
			Fields: []FieldInfo{
				{Field: "url", Label: "Page URL", Table: TableEvents, DataType: FieldString},
				{Field: "page_title", Label: "Page Title", Table: TableEvents, DataType: FieldString},
				{Field: "referrer", Label: "Referrer", Table: TableEvents, DataType: FieldString},
				{Field: "campaign", Label: "Campaign", Table: TableEvents, DataType: FieldString},
			},
		},
		{
			Name: "Technology",
			Fields: []FieldInfo{
				{Field: "device_type", Label: "Device Type", Table: TableEvents, DataType: FieldString},
				{Field: "browser", Label: "Browser", Table: TableEvents, DataType: FieldString},
				{Field: "os", Label: "Operating System", Table: TableEvents, DataType: FieldString},
			},
		},
		{
			Name: "Location",
			Fields: []FieldInfo{
				{Field: "country", Label: "Country", Table: TableEvents, DataType: FieldString},
				{Field: "city", Label: "City", Table: TableEvents, DataType: FieldString},
			},
		},
		{
			Name: "Event Metrics",
			Fields: []FieldInfo{
				{Field: "duration_seconds", Label: "Time on Page (s)", Table: TableEvents, DataType: FieldNumber},
				{Field: "revenue", Label: "Revenue", Table: TableEvents, DataType: FieldNumber},
			},
		},
		{
			Name: "Session",
			Fields: []FieldInfo{
				{Field: "entry_url", Label: "Entry Page", Table: TableSessions, DataType: FieldString},
				{Field: "exit_url", Label: "Exit Page", Table: TableSessions, DataType: FieldString},
				{Field: "page_count", Label: "Pages per Session", Table: TableSessions, DataType: FieldNumber},
				{Field: "total_duration", Label: "Session Duration (s)", Table: TableSessions, DataType: FieldNumber},
				{Field: "total_revenue", Label: "Session Revenue", Table: TableSessions, DataType: FieldNumber},
			},
		},
		{
			Name: "Visitor",
			Fields: []FieldInfo{
				{Field: "visit_count", Label: "Number of Visits", Table: TableVisitors, DataType: FieldNumber},
				{Field: "total_hits", Label: "Lifetime Hits", Table: TableVisitors, DataType: FieldNumber},
				{Field: "lifetime_revenue", Label: "Lifetime Revenue", Table: TableVisitors, DataType: FieldNumber},
				{Field: "days_since_first_visit", Label: "Days Since First Visit", Table: TableVisitors, DataType: FieldNumber},
			},
		},
	})
	if err != nil {
		// The built-in catalog is a compile-time constant in all but syntax.
		panic(err)
	}
	return c
}
