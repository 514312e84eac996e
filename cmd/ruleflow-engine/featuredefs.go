package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/features"
)

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }

// featureDefDoc mirrors features.Definition with yaml tags; internal/features
// stays free of a YAML dependency since nothing else in that package parses
// documents (spec.md §4.7's Definitions are engine-build-time configuration,
// not an RDL artifact kind repository.Repository loads).
type featureDefDoc struct {
	Name                string          `yaml:"name"`
	Method              string          `yaml:"method"`
	Datasource          string          `yaml:"datasource"`
	Entity              string          `yaml:"entity"`
	DimensionTemplate   string          `yaml:"dimension_template"`
	DimensionField      string          `yaml:"dimension_field"`
	AggregationField    string          `yaml:"aggregation_field"`
	CrossDimensionField string          `yaml:"cross_dimension_field"`
	TimeField           string          `yaml:"time_field"`
	Filters             []featureFilter `yaml:"filters"`
	Window              string          `yaml:"window"`
	Expr                string          `yaml:"expr"`
	CacheTTLSeconds     int             `yaml:"cache_ttl_seconds"`
	CacheBackend        string          `yaml:"cache_backend"`
}

type featureFilter struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// loadFeatureDefinitions reads a YAML list of feature definitions from path.
// An empty path is valid and yields no definitions — an engine with no
// registered features still serves every pipeline that never calls one.
func loadFeatureDefinitions(path string) ([]features.Definition, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature definitions %q: %w", path, err)
	}

	var docs []featureDefDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse feature definitions %q: %w", path, err)
	}

	defs := make([]features.Definition, 0, len(docs))
	for _, d := range docs {
		filters := make([]features.Filter, 0, len(d.Filters))
		for _, f := range d.Filters {
			filters = append(filters, features.Filter{Field: f.Field, Op: f.Op, Value: f.Value})
		}
		backend := features.CacheLocal
		if d.CacheBackend == string(features.CacheExternal) {
			backend = features.CacheExternal
		}
		defs = append(defs, features.Definition{
			Name:                d.Name,
			Method:              features.Method(d.Method),
			Datasource:          d.Datasource,
			Entity:              d.Entity,
			DimensionTemplate:   d.DimensionTemplate,
			DimensionField:      d.DimensionField,
			AggregationField:    d.AggregationField,
			CrossDimensionField: d.CrossDimensionField,
			TimeField:           d.TimeField,
			Filters:             filters,
			Window:              d.Window,
			Expr:                d.Expr,
			CacheTTL:            secondsToDuration(d.CacheTTLSeconds),
			CacheBackend:        backend,
		})
	}
	return defs, nil
}
