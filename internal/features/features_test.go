package features_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/features"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/pkg/value"
)

type fakeKV struct {
	calls int
	value value.Value
}

func (f *fakeKV) GetFeature(_ context.Context, entity, dimensionValue string) (value.Value, error) {
	f.calls++
	return f.value, nil
}

func TestEngineL1CacheAvoidsRecompute(t *testing.T) {
	kv := &fakeKV{value: value.Number(42)}
	defs := []features.Definition{
		{Name: "txn_count_24h", Method: features.MethodCount, Datasource: "store", Entity: "transactions", DimensionTemplate: "{event.user_id}"},
	}
	engine := features.New(defs, map[string]features.Datasource{"store": features.KVDatasource{Store: kv}})

	event := value.Object(map[string]value.Value{"user_id": value.String("u1")})
	rc := reqcontext.New(event)

	v1, err := engine.Resolve(context.Background(), rc, "txn_count_24h")
	require.NoError(t, err)
	require.Equal(t, float64(42), numberOf(t, v1))

	v2, err := engine.Resolve(context.Background(), rc, "txn_count_24h")
	require.NoError(t, err)
	require.Equal(t, float64(42), numberOf(t, v2))

	require.Equal(t, 1, kv.calls, "second resolve should be served from L1 cache")
	stats := engine.Stats()
	require.Equal(t, int64(1), stats.L1Hits)
	require.Equal(t, int64(1), stats.Computed)
}

func TestEngineCacheKeyVariesByDimension(t *testing.T) {
	kv := &fakeKV{value: value.Number(7)}
	defs := []features.Definition{
		{Name: "f1", Method: features.MethodCount, Datasource: "store", Entity: "t", DimensionTemplate: "{event.user_id}"},
	}
	engine := features.New(defs, map[string]features.Datasource{"store": features.KVDatasource{Store: kv}})

	rc1 := reqcontext.New(value.Object(map[string]value.Value{"user_id": value.String("a")}))
	rc2 := reqcontext.New(value.Object(map[string]value.Value{"user_id": value.String("b")}))

	_, err := engine.Resolve(context.Background(), rc1, "f1")
	require.NoError(t, err)
	_, err = engine.Resolve(context.Background(), rc2, "f1")
	require.NoError(t, err)

	require.Equal(t, 2, kv.calls, "distinct dimension values must not share a cache entry")
}

func TestExpressionFeatureArithmeticAndDivByZero(t *testing.T) {
	kv1 := &fakeKV{value: value.Number(10)}
	kv2 := &fakeKV{value: value.Number(0)}
	defs := []features.Definition{
		{Name: "numerator", Method: features.MethodCount, Datasource: "a", Entity: "t"},
		{Name: "denominator", Method: features.MethodCount, Datasource: "b", Entity: "t"},
		{Name: "ratio", Method: features.MethodExpression, Expr: "numerator / denominator"},
	}
	engine := features.New(defs, map[string]features.Datasource{
		"a": features.KVDatasource{Store: kv1},
		"b": features.KVDatasource{Store: kv2},
	})

	rc := reqcontext.New(value.Object(nil))
	v, err := engine.Resolve(context.Background(), rc, "ratio")
	require.NoError(t, err)
	require.True(t, v.IsNull(), "division by zero must yield Null, not an error")
}

func TestParseWindow(t *testing.T) {
	d, err := features.ParseWindow("24 hours")
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, d)

	d, err = features.ParseWindow("2 weeks")
	require.NoError(t, err)
	require.Equal(t, 14*24*time.Hour, d)

	_, err = features.ParseWindow("garbage")
	require.Error(t, err)
}

func numberOf(t *testing.T, v value.Value) float64 {
	t.Helper()
	n, ok := v.AsNumber()
	require.True(t, ok)
	return n
}
