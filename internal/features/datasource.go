package features

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/pkg/value"
)

// KVStore is the feature-store backend contract: a single keyed read,
// already pre-aggregated by whatever pipeline populates the store.
type KVStore interface {
	GetFeature(ctx context.Context, entity, dimensionValue string) (value.Value, error)
}

// KVDatasource adapts a KVStore into a Datasource. Method/window/filters are
// ignored — a feature store answers with whatever it was told to store
// under that entity/dimension key.
type KVDatasource struct {
	Store KVStore
}

func (d KVDatasource) Fetch(ctx context.Context, _ *reqcontext.Context, def Definition, _, dimensionValue string) (value.Value, error) {
	return d.Store.GetFeature(ctx, def.Entity, dimensionValue)
}

// SQLDatasource is the OLAP/SQL backend: it synthesizes an aggregation
// query per spec.md §4.7 step 5 ("SELECT <aggregation>, FROM <entity>,
// WHERE <filters> AND <time-field> >= now() - <window>").
type SQLDatasource struct {
	DB *sql.DB
}

func (d *SQLDatasource) Fetch(ctx context.Context, rc *reqcontext.Context, def Definition, window, dimensionValue string) (value.Value, error) {
	query, args, err := buildQuery(def, window, dimensionValue, rc)
	if err != nil {
		return value.Null, err
	}

	switch def.Method {
	case MethodFirstSeen, MethodLastSeen:
		var seen sql.NullString
		if err := d.DB.QueryRowContext(ctx, query, args...).Scan(&seen); err != nil {
			return value.Null, err
		}
		if !seen.Valid {
			return value.Null, nil
		}
		return value.String(seen.String), nil

	case MethodTimeSince:
		var seen sql.NullString
		if err := d.DB.QueryRowContext(ctx, query, args...).Scan(&seen); err != nil {
			return value.Null, err
		}
		if !seen.Valid {
			return value.Null, nil
		}
		t, err := time.Parse(time.RFC3339, seen.String)
		if err != nil {
			return value.Null, nil
		}
		return value.Number(time.Since(t).Seconds()), nil

	case MethodVelocity:
		var count sql.NullFloat64
		if err := d.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return value.Null, err
		}
		dur, err := ParseWindow(window)
		if err != nil || dur <= 0 {
			return value.Number(0), nil
		}
		return value.Number(count.Float64 / dur.Hours()), nil

	default: // count, count_distinct, sum, avg, max, min, cross_dimension_count
		var n sql.NullFloat64
		if err := d.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return value.Null, err
		}
		if !n.Valid {
			return value.Null, nil
		}
		return value.Number(n.Float64), nil
	}
}

func buildQuery(def Definition, window, dimensionValue string, rc *reqcontext.Context) (string, []interface{}, error) {
	agg, err := aggregationSQL(def)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(agg)
	b.WriteString(" FROM ")
	b.WriteString(def.Entity)

	var where []string
	var args []interface{}

	if def.DimensionField != "" {
		where = append(where, def.DimensionField+" = ?")
		args = append(args, dimensionValue)
	}
	for _, f := range def.Filters {
		where = append(where, fmt.Sprintf("%s %s ?", f.Field, f.Op))
		args = append(args, resolveTemplate(f.Value, rc))
	}
	if window != "" {
		dur, err := ParseWindow(window)
		if err != nil {
			return "", nil, err
		}
		since := time.Now().UTC().Add(-dur).Format(time.RFC3339)
		where = append(where, def.timeField()+" >= ?")
		args = append(args, since)
	}

	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	return b.String(), args, nil
}

func aggregationSQL(def Definition) (string, error) {
	switch def.Method {
	case MethodCount, MethodVelocity:
		return "COUNT(*)", nil
	case MethodCountDistinct:
		return "COUNT(DISTINCT " + def.DimensionField + ")", nil
	case MethodCrossDimensionCount:
		return "COUNT(DISTINCT " + def.CrossDimensionField + ")", nil
	case MethodSum:
		return "SUM(" + def.AggregationField + ")", nil
	case MethodAvg:
		return "AVG(" + def.AggregationField + ")", nil
	case MethodMax:
		return "MAX(" + def.AggregationField + ")", nil
	case MethodMin:
		return "MIN(" + def.AggregationField + ")", nil
	case MethodFirstSeen:
		return "MIN(" + def.timeField() + ")", nil
	case MethodLastSeen, MethodTimeSince:
		return "MAX(" + def.timeField() + ")", nil
	default:
		return "", fmt.Errorf("features: method %q has no SQL aggregation", def.Method)
	}
}
