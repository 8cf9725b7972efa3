package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// truthy lists the literals that coerce to true for boolean fields.
var truthy = map[string]bool{"true": true, "1": true, "yes": true}

// dateLayouts are tried in order when a literal is compared to a time field.
var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// ConditionEvaluator decides whether a branch condition matches a request.
// Evaluation reads the directory and the target record and has no side
// effects.
type ConditionEvaluator struct {
	directory Directory
	records   RecordSource
	log       *logger.Logger
}

// NewConditionEvaluator creates a new ConditionEvaluator.
func NewConditionEvaluator(directory Directory, records RecordSource, log *logger.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{directory: directory, records: records, log: log}
}

// FirstMatch evaluates a step's conditions in sequence order and returns the
// first that matches, or nil.
func (e *ConditionEvaluator) FirstMatch(ctx context.Context, step *repository.Step, req *repository.Request) (*repository.Condition, error) {
	for _, c := range step.SortedConditions() {
		ok, err := e.Evaluate(ctx, c, req)
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, nil
}

// Evaluate reports whether a condition holds for a request. Unreadable data
// yields false; only an unresolvable custom field path is returned as a
// configuration error.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, c *repository.Condition, req *repository.Request) (bool, error) {
	switch c.Field {
	case repository.FieldUserGroup:
		return e.inGroup(ctx, req.RequestedBy, c.GroupID)

	case repository.FieldLastUpdatorGroup:
		rec, err := e.records.GetRecord(ctx, req.ResModel, req.ResID)
		if err != nil || rec == nil {
			e.warn(c, req, err, "target record unavailable for last editor check")
			return false, nil
		}
		if rec.LastModifiedBy == "" {
			return false, nil
		}
		return e.inGroup(ctx, rec.LastModifiedBy, c.GroupID)
	}

	rec, err := e.records.GetRecord(ctx, req.ResModel, req.ResID)
	if err != nil || rec == nil {
		e.warn(c, req, err, "target record unavailable for condition")
		return false, nil
	}

	value, res := resolveFieldPath(rec.Fields, c.FieldPath(), c.Aggregation)
	switch res {
	case fieldUndetermined:
		e.warn(c, req, nil, "field has no comparable value")
		return false, nil
	case fieldMissing:
		if c.Field == repository.FieldCustom {
			return false, errors.Configuration("the field '%s' could not be found on %s, check the condition configuration",
				c.CustomFieldPath, req.ResModel).WithDetail("condition_id", c.ID)
		}
		e.warn(c, req, nil, "field not found or unreadable")
		return false, nil
	}

	return Compare(value, c.Operator, c.Value), nil
}

func (e *ConditionEvaluator) inGroup(ctx context.Context, userID, groupID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	groups, err := e.directory.GroupMembership(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read group membership")
	}
	for _, g := range groups {
		if g == groupID {
			return true, nil
		}
	}
	return false, nil
}

func (e *ConditionEvaluator) warn(c *repository.Condition, req *repository.Request, err error, msg string) {
	e.log.Warn().
		Err(err).
		Str("request_id", req.ID).
		Str("condition_id", c.ID).
		Str("field", c.FieldPath()).
		Msg(msg)
}

// ── Field resolution ─────────────────────────────────────────────────────────

// fieldResolution classifies the outcome of walking a field path.
type fieldResolution int

const (
	fieldResolved fieldResolution = iota
	// fieldMissing means the path does not exist on the record.
	fieldMissing
	// fieldUndetermined means the path exists but yields no comparable
	// value: max or min of an empty list, or list elements lacking the
	// field.
	fieldUndetermined
)

// ResolveFieldPath follows a dotted path through a record. Crossing a list
// fans the walk out over its elements; the collected values are then folded
// with agg. Without aggregation a multi-valued result is unresolvable and a
// single-valued one is unwrapped. The sum and count of an empty list are 0.
func ResolveFieldPath(fields map[string]interface{}, path string, agg repository.Aggregation) (interface{}, bool) {
	value, res := resolveFieldPath(fields, path, agg)
	return value, res == fieldResolved
}

func resolveFieldPath(fields map[string]interface{}, path string, agg repository.Aggregation) (interface{}, fieldResolution) {
	if path == "" || fields == nil {
		return nil, fieldMissing
	}

	values := []interface{}{fields}
	multi, partial := false, false
	for _, part := range strings.Split(path, ".") {
		var next []interface{}
		found := false
		for _, v := range values {
			m, ok := v.(map[string]interface{})
			if !ok {
				partial = true
				continue
			}
			child, ok := m[part]
			if ok {
				found = true
			}
			if !ok || child == nil {
				partial = partial || multi
				continue
			}
			if list, isList := child.([]interface{}); isList {
				multi = true
				next = append(next, list...)
				continue
			}
			next = append(next, child)
		}
		if !found && len(values) > 0 {
			return nil, fieldMissing
		}
		values = next
	}

	if !multi {
		if len(values) == 0 {
			// the path exists but ends on a null value
			return nil, fieldUndetermined
		}
		return values[0], fieldResolved
	}
	if partial {
		return nil, fieldUndetermined
	}
	return aggregate(values, agg)
}

func aggregate(values []interface{}, agg repository.Aggregation) (interface{}, fieldResolution) {
	switch agg {
	case repository.AggregationCount:
		return float64(len(values)), fieldResolved
	case repository.AggregationSum, repository.AggregationMax, repository.AggregationMin:
		if len(values) == 0 {
			if agg == repository.AggregationSum {
				return 0.0, fieldResolved
			}
			return nil, fieldUndetermined
		}
		acc, ok := toFloat(values[0])
		if !ok {
			return nil, fieldMissing
		}
		for _, v := range values[1:] {
			f, ok := toFloat(v)
			if !ok {
				return nil, fieldMissing
			}
			switch agg {
			case repository.AggregationSum:
				acc += f
			case repository.AggregationMax:
				acc = math.Max(acc, f)
			case repository.AggregationMin:
				acc = math.Min(acc, f)
			}
		}
		return acc, fieldResolved
	default:
		switch len(values) {
		case 0:
			return nil, fieldUndetermined
		case 1:
			return values[0], fieldResolved
		default:
			return nil, fieldMissing
		}
	}
}

// ── Comparison ───────────────────────────────────────────────────────────────

// Compare coerces literal to the type of value and applies op. A literal
// that cannot be coerced makes the comparison false.
func Compare(value interface{}, op repository.Operator, literal string) bool {
	switch v := value.(type) {
	case bool:
		return compareOrdered(boolRank(v), boolRank(truthy[strings.ToLower(strings.TrimSpace(literal))]), op)
	case time.Time:
		t, ok := parseDate(literal)
		if !ok {
			return false
		}
		return compareOrdered(v.Compare(t), 0, op)
	case map[string]interface{}:
		if id, ok := v["id"]; ok {
			return compareText(fmt.Sprint(id), literal, op)
		}
		return compareText(fmt.Sprint(v), literal, op)
	}

	if f, ok := toFloat(value); ok {
		lit, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		if err != nil {
			return false
		}
		return compareFloat(f, lit, op)
	}
	return compareText(fmt.Sprint(value), literal, op)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func compareFloat(a, b float64, op repository.Operator) bool {
	switch {
	case a < b:
		return compareOrdered(-1, 0, op)
	case a > b:
		return compareOrdered(1, 0, op)
	default:
		return compareOrdered(0, 0, op)
	}
}

func compareText(a, b string, op repository.Operator) bool {
	return compareOrdered(strings.Compare(a, b), 0, op)
}

func compareOrdered(a, b int, op repository.Operator) bool {
	switch op {
	case repository.OpEqual:
		return a == b
	case repository.OpNotEqual:
		return a != b
	case repository.OpGreater:
		return a > b
	case repository.OpLess:
		return a < b
	case repository.OpGreaterEqual:
		return a >= b
	case repository.OpLessEqual:
		return a <= b
	default:
		return false
	}
}
