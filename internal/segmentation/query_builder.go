package segmentation

import (
	"fmt"
	"strconv"
	"strings"
)

// selectColumns is the projection of the outer event query. It always carries
// the three grain keys so statistics and membership checks can be layered on
// top of any compiled segment.
const selectColumns = "e.hit_id, e.user_id, e.session_id, e.event_time, " +
	"e.url, e.page_title, e.referrer, e.device_type, e.browser, e.os, " +
	"e.country, e.city, e.campaign, e.duration_seconds, e.revenue"

// QueryBuilder compiles a SegmentDefinition into parameterized SQL.
//
// Values are never interpolated into the SQL text; every comparison binds a
// $n placeholder and the matching value is appended to the args slice. The
// builder is stateful during one Build call and is reset at the start of the
// next, so a single builder can serve sequential compilations but not
// concurrent ones.
type QueryBuilder struct {
	catalog    *Catalog
	args       []interface{}
	argCounter int
	subquery   int
}

// NewQueryBuilder creates a builder bound to a field catalog.
func NewQueryBuilder(catalog *Catalog) *QueryBuilder {
	return &QueryBuilder{
		catalog:    catalog,
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

func (qb *QueryBuilder) reset() {
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1
	qb.subquery = 0
}

// nextArg registers a bound value and returns its placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

// aliasSet names the three tables at one query level. Scope subqueries get a
// fresh set so their references never collide with the outer query's.
type aliasSet struct {
	events   string
	sessions string
	visitors string
}

var outerAliases = aliasSet{events: "e", sessions: "s", visitors: "v"}

func (a aliasSet) forTable(table string) string {
	switch table {
	case TableSessions:
		return a.sessions
	case TableVisitors:
		return a.visitors
	default:
		return a.events
	}
}

func (qb *QueryBuilder) innerAliases() aliasSet {
	qb.subquery++
	n := qb.subquery
	return aliasSet{
		events:   fmt.Sprintf("e%d", n),
		sessions: fmt.Sprintf("s%d", n),
		visitors: fmt.Sprintf("v%d", n),
	}
}

func combinatorSQL(c Combinator) string {
	// THEN carries sequence intent in the authoring model; in SQL it renders
	// as conjunction (see DESIGN.md).
	if c == CombinatorOr {
		return " OR "
	}
	return " AND "
}

// ==========================================
// CONDITION COMPILER
// ==========================================

// buildCondition lowers one leaf predicate into a SQL fragment against the
// given alias environment. Incomplete conditions and unknown fields compile
// to nothing ("" with no error) so partially authored trees still preview.
// The second return value names the table the fragment references.
func (qb *QueryBuilder) buildCondition(cond Condition, aliases aliasSet) (string, string, error) {
	if !cond.IsComplete() {
		return "", "", nil
	}
	info, ok := qb.catalog.Resolve(cond.Field)
	if !ok {
		return "", "", nil
	}

	col := aliases.forTable(info.Table) + "." + info.Field

	if cond.Operator.IsExistence() {
		return qb.buildExistence(cond.Operator, col, info.DataType), info.Table, nil
	}

	var frag string
	var err error
	switch info.DataType {
	case FieldNumber:
		frag, err = qb.buildNumericComparison(cond, col)
	default:
		frag, err = qb.buildStringComparison(cond, col)
	}
	if err != nil {
		return "", "", err
	}
	return frag, info.Table, nil
}

func (qb *QueryBuilder) buildExistence(op Operator, col string, dt FieldType) string {
	// String fields treat the empty string as absent.
	if dt == FieldString {
		if op == OpExists {
			return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", col, col)
		}
		return fmt.Sprintf("(%s IS NULL OR %s = '')", col, col)
	}
	if op == OpExists {
		return fmt.Sprintf("%s IS NOT NULL", col)
	}
	return fmt.Sprintf("%s IS NULL", col)
}

func (qb *QueryBuilder) buildStringComparison(cond Condition, col string) (string, error) {
	switch cond.Operator {
	case OpEquals:
		return fmt.Sprintf("LOWER(%s) = LOWER(%s)", col, qb.nextArg(cond.Value)), nil
	case OpNotEquals:
		return fmt.Sprintf("LOWER(%s) != LOWER(%s)", col, qb.nextArg(cond.Value)), nil
	case OpContains:
		return fmt.Sprintf("%s ILIKE %s", col, qb.nextArg("%"+cond.Value+"%")), nil
	case OpNotContains:
		return fmt.Sprintf("%s NOT ILIKE %s", col, qb.nextArg("%"+cond.Value+"%")), nil
	case OpStartsWith:
		return fmt.Sprintf("%s ILIKE %s", col, qb.nextArg(cond.Value+"%")), nil
	case OpEndsWith:
		return fmt.Sprintf("%s ILIKE %s", col, qb.nextArg("%"+cond.Value)), nil
	default:
		return "", fmt.Errorf("operator %s not valid for string field %s", cond.Operator, cond.Field)
	}
}

func (qb *QueryBuilder) buildNumericComparison(cond Condition, col string) (string, error) {
	symbol, ok := numericSymbol(cond.Operator)
	if !ok && cond.Operator != OpBetween {
		return "", fmt.Errorf("operator %s not valid for numeric field %s", cond.Operator, cond.Field)
	}

	value, parseErr := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64)
	if parseErr != nil {
		// Unparseable numeric input falls back to a text comparison rather
		// than failing the whole compile.
		if cond.Operator == OpBetween {
			return fmt.Sprintf("LOWER(%s::text) = LOWER(%s)", col, qb.nextArg(cond.Value)), nil
		}
		return fmt.Sprintf("LOWER(%s::text) %s LOWER(%s)", col, symbol, qb.nextArg(cond.Value)), nil
	}

	if cond.Operator != OpBetween {
		return fmt.Sprintf("%s %s %s", col, symbol, qb.nextArg(value)), nil
	}

	upper, upperErr := strconv.ParseFloat(strings.TrimSpace(cond.ValueSecondary), 64)
	if cond.ValueSecondary == "" || upperErr != nil {
		// A between with one usable bound degrades to equality.
		return fmt.Sprintf("%s = %s", col, qb.nextArg(value)), nil
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", col, qb.nextArg(value), qb.nextArg(upper)), nil
}

func numericSymbol(op Operator) (string, bool) {
	switch op {
	case OpEquals:
		return "=", true
	case OpNotEquals:
		return "!=", true
	case OpGreaterThan:
		return ">", true
	case OpLessThan:
		return "<", true
	case OpGreaterOrEqual:
		return ">=", true
	case OpLessOrEqual:
		return "<=", true
	default:
		return "", false
	}
}

// ==========================================
// CONTAINER COMPILER
// ==========================================

// buildContainer recursively lowers one container into a scoped predicate.
// The returned table set names only tables the predicate references at the
// caller's own level; visit/visitor subqueries are self-contained and
// surface no tables to the parent.
func (qb *QueryBuilder) buildContainer(cont Container, aliases aliasSet) (string, map[string]bool, error) {
	scoped := cont.Scope == ScopeVisit || cont.Scope == ScopeVisitor

	env := aliases
	if scoped {
		env = qb.innerAliases()
	}

	parts := []string{}
	tables := map[string]bool{}

	for _, cond := range cont.Conditions {
		frag, table, err := qb.buildCondition(cond, env)
		if err != nil {
			return "", nil, err
		}
		if frag != "" {
			parts = append(parts, frag)
			tables[table] = true
		}
	}

	for _, child := range cont.Children {
		frag, childTables, err := qb.buildContainer(child, env)
		if err != nil {
			return "", nil, err
		}
		if frag != "" {
			parts = append(parts, "("+frag+")")
			for t := range childTables {
				tables[t] = true
			}
		}
	}

	if len(parts) == 0 {
		return "", nil, nil
	}

	combined := strings.Join(parts, combinatorSQL(cont.Combinator))

	var predicate string
	if scoped {
		key := "session_id"
		if cont.Scope == ScopeVisitor {
			key = "user_id"
		}
		sub := fmt.Sprintf("SELECT %s.%s FROM %s %s%s WHERE %s",
			env.events, key, TableEvents, env.events, joinClauses(env, tables), combined)
		predicate = fmt.Sprintf("%s.%s IN (%s)", aliases.events, key, sub)
		tables = map[string]bool{}
	} else {
		predicate = combined
	}

	if cont.Sign == SignExclude {
		predicate = "NOT (" + predicate + ")"
	}

	return predicate, tables, nil
}

// joinClauses renders LEFT JOINs for any rollup tables a predicate touches.
// LEFT JOIN keeps existence tests honest when a rollup row is missing.
func joinClauses(a aliasSet, tables map[string]bool) string {
	var b strings.Builder
	if tables[TableSessions] {
		fmt.Fprintf(&b, " LEFT JOIN %s %s ON %s.session_id = %s.session_id",
			TableSessions, a.sessions, a.sessions, a.events)
	}
	if tables[TableVisitors] {
		fmt.Fprintf(&b, " LEFT JOIN %s %s ON %s.user_id = %s.user_id",
			TableVisitors, a.visitors, a.visitors, a.events)
	}
	return b.String()
}

// ==========================================
// SEGMENT COMPILER
// ==========================================

// buildFiltered compiles the definition's containers into the FROM and WHERE
// clauses shared by every emitted query. An empty or fully dropped definition
// compiles to WHERE 1=0 so previews show no rows instead of erroring.
func (qb *QueryBuilder) buildFiltered(def SegmentDefinition) (from, where string, err error) {
	parts := []string{}
	tables := map[string]bool{}

	for _, cont := range def.Containers {
		frag, contTables, err := qb.buildContainer(cont, outerAliases)
		if err != nil {
			return "", "", err
		}
		if frag != "" {
			parts = append(parts, frag)
			for t := range contTables {
				tables[t] = true
			}
		}
	}

	where = "1=0"
	if len(parts) == 1 {
		where = parts[0]
	} else if len(parts) > 1 {
		for i := range parts {
			parts[i] = "(" + parts[i] + ")"
		}
		where = strings.Join(parts, combinatorSQL(def.Combinator))
	}

	from = fmt.Sprintf("FROM %s e%s", TableEvents, joinClauses(outerAliases, tables))
	return from, where, nil
}

// BuildQuery compiles the full row-selecting query: newest events first.
func (qb *QueryBuilder) BuildQuery(def SegmentDefinition) (string, []interface{}, error) {
	qb.reset()
	from, where, err := qb.buildFiltered(def)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY e.event_time DESC",
		selectColumns, from, where)
	return query, qb.args, nil
}

// BuildStatsQuery wraps the compiled segment as a derived table and counts
// matches at all three grains in one pass.
func (qb *QueryBuilder) BuildStatsQuery(def SegmentDefinition) (string, []interface{}, error) {
	qb.reset()
	from, where, err := qb.buildFiltered(def)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(DISTINCT segment_data.session_id), COUNT(DISTINCT segment_data.user_id) "+
			"FROM (SELECT %s %s WHERE %s) segment_data", selectColumns, from, where)
	return query, qb.args, nil
}

// BuildTotalsQuery counts the unfiltered event population at all grains.
func (qb *QueryBuilder) BuildTotalsQuery() string {
	return fmt.Sprintf(
		"SELECT COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT user_id) FROM %s",
		TableEvents)
}

// BuildMatchQuery compiles a membership probe: does any event of the given
// user match the segment.
func (qb *QueryBuilder) BuildMatchQuery(def SegmentDefinition, userID string) (string, []interface{}, error) {
	qb.reset()
	from, where, err := qb.buildFiltered(def)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 %s WHERE (%s) AND e.user_id = %s)",
		from, where, qb.nextArg(userID))
	return query, qb.args, nil
}
