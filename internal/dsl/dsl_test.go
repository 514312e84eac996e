package dsl

import (
	"testing"

	"github.com/ruleflow/engine/internal/ast"
)

func TestParseRuleLegacySingleDocument(t *testing.T) {
	doc, err := ParseRule([]byte(`
rule:
  id: high_amount
  name: High transaction amount
  when:
    event.type: transaction
    conditions:
      - "event.amount > 1000"
  score: 25
`))
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if doc.Version != "0.1" {
		t.Errorf("version = %q, want 0.1", doc.Version)
	}
	if doc.Imports != nil {
		t.Errorf("imports = %+v, want nil for single-document form", doc.Imports)
	}
	r := doc.Definition
	if r.ID != "high_amount" || r.Score != 25 {
		t.Fatalf("unexpected rule: %+v", r)
	}
	if r.When == nil || r.When.EventType == nil || *r.When.EventType != "transaction" {
		t.Fatalf("unexpected when block: %+v", r.When)
	}
	group, ok := r.When.Conditions.(*ast.LogicalGroup)
	if !ok || group.Op != ast.GroupAll || len(group.Conditions) != 1 {
		t.Fatalf("unexpected conditions: %#v", r.When.Conditions)
	}
}

func TestParseRuleMissingScore(t *testing.T) {
	_, err := ParseRule([]byte(`
rule:
  id: incomplete
  when:
    conditions: ["event.amount > 1"]
`))
	if err == nil {
		t.Fatal("expected error for missing score")
	}
}

func TestParseRuleMultiDocumentWithImports(t *testing.T) {
	doc, err := ParseRule([]byte(`
version: "0.1"
imports:
  rules:
    - common/base_rule.yaml
  rulesets:
    - common/base_ruleset.yaml
---
rule:
  id: velocity_check
  when:
    condition_group:
      any:
        - "event.amount > 500"
        - "features.txn_count_1h > 10"
  score: 10
`))
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if doc.Imports == nil {
		t.Fatal("expected imports to be populated")
	}
	if len(doc.Imports.Rules) != 1 || doc.Imports.Rules[0] != "common/base_rule.yaml" {
		t.Errorf("unexpected imports.rules: %+v", doc.Imports.Rules)
	}
	if len(doc.Imports.Rulesets) != 1 {
		t.Errorf("unexpected imports.rulesets: %+v", doc.Imports.Rulesets)
	}
	group, ok := doc.Definition.When.Conditions.(*ast.LogicalGroup)
	if !ok || group.Op != ast.GroupAny || len(group.Conditions) != 2 {
		t.Fatalf("unexpected condition_group: %#v", doc.Definition.When.Conditions)
	}
}

func TestParseRuleConditionsAndGroupMutuallyExclusive(t *testing.T) {
	_, err := ParseRule([]byte(`
rule:
  id: bad
  when:
    conditions: ["event.amount > 1"]
    condition_group:
      all: ["event.amount > 1"]
  score: 1
`))
	if err == nil {
		t.Fatal("expected error when both conditions and condition_group are present")
	}
}

func TestParseRuleset(t *testing.T) {
	doc, err := ParseRuleset([]byte(`
ruleset:
  id: payment_base
  name: Payment base risk
  extends: common_base
  rules:
    - high_amount
    - velocity_check
  conclusion:
    - when: "total_score >= 50"
      signal: decline
      reason: "score threshold exceeded"
    - default: true
      signal: approve
  metadata:
    owner: risk-platform
`))
	if err != nil {
		t.Fatalf("ParseRuleset: %v", err)
	}
	rs := doc.Definition
	if rs.ID != "payment_base" || rs.Extends != "common_base" {
		t.Fatalf("unexpected ruleset: %+v", rs)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("unexpected rules: %+v", rs.Rules)
	}
	if len(rs.Conclusion) != 2 {
		t.Fatalf("unexpected conclusion: %+v", rs.Conclusion)
	}
	first := rs.Conclusion[0]
	if first.Default || first.Signal != ast.SignalDecline || first.Condition == nil {
		t.Fatalf("unexpected first decision rule: %+v", first)
	}
	last := rs.Conclusion[1]
	if !last.Default || last.Signal != ast.SignalApprove {
		t.Fatalf("unexpected default decision rule: %+v", last)
	}
	if rs.Metadata["owner"] != "risk-platform" {
		t.Errorf("unexpected metadata: %+v", rs.Metadata)
	}
}

func TestParseRulesetLegacyActionAlias(t *testing.T) {
	doc, err := ParseRuleset([]byte(`
ruleset:
  id: legacy
  conclusion:
    - default: true
      action: deny
`))
	if err != nil {
		t.Fatalf("ParseRuleset: %v", err)
	}
	if doc.Definition.Conclusion[0].Signal != ast.SignalDecline {
		t.Fatalf("expected 'deny' alias to normalize to decline, got %+v", doc.Definition.Conclusion[0])
	}
}

func TestParsePipelineWithShorthandInclude(t *testing.T) {
	doc, err := ParsePipeline([]byte(`
pipeline:
  id: card_payment_pipeline
  when:
    event_type: transaction
  steps:
    - type: extract
      feature: txn_count_1h
      feature_type: count
      field: event.user_id
    - include:
        ruleset: payment_base
    - type: branch
      condition: "total_score >= 80"
      then:
        - type: service
          service: case_management
          operation: open_case
          params:
            priority: '"high"'
      else:
        - include:
            ruleset: low_risk_followup
`))
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}
	p := doc.Definition
	if p.ID != "card_payment_pipeline" {
		t.Fatalf("unexpected pipeline id: %s", p.ID)
	}
	if len(p.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(p.Steps))
	}
	if _, ok := p.Steps[0].(*ast.ExtractStep); !ok {
		t.Fatalf("step 0 = %T, want *ast.ExtractStep", p.Steps[0])
	}
	inc, ok := p.Steps[1].(*ast.IncludeStep)
	if !ok || inc.RulesetID != "payment_base" {
		t.Fatalf("step 1 = %#v, want include of payment_base", p.Steps[1])
	}
	branch, ok := p.Steps[2].(*ast.BranchStep)
	if !ok {
		t.Fatalf("step 2 = %T, want *ast.BranchStep", p.Steps[2])
	}
	if len(branch.Then) != 1 || len(branch.Else) != 1 {
		t.Fatalf("unexpected branch shape: %+v", branch)
	}
	svc, ok := branch.Then[0].(*ast.ServiceStep)
	if !ok || svc.Service != "case_management" || svc.Params["priority"] == nil {
		t.Fatalf("unexpected service step: %#v", branch.Then[0])
	}
}

func TestParsePipelineRouterAndParallel(t *testing.T) {
	doc, err := ParsePipeline([]byte(`
pipeline:
  id: routed
  steps:
    - type: parallel
      merge: all
      branches:
        - - include:
              ruleset: a
        - - include:
              ruleset: b
    - type: router
      routes:
        - when: 'event.country == "US"'
          then:
            - include:
                ruleset: us_rules
      default:
        - include:
            ruleset: intl_rules
`))
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}
	steps := doc.Definition.Steps
	par, ok := steps[0].(*ast.ParallelStep)
	if !ok || len(par.Branches) != 2 || par.Merge != "all" {
		t.Fatalf("unexpected parallel step: %#v", steps[0])
	}
	router, ok := steps[1].(*ast.RouterStep)
	if !ok || len(router.Routes) != 1 || len(router.Default) != 1 {
		t.Fatalf("unexpected router step: %#v", steps[1])
	}
}

func TestParsePipelineUnknownStepType(t *testing.T) {
	_, err := ParsePipeline([]byte(`
pipeline:
  id: bad
  steps:
    - type: teleport
`))
	if err == nil {
		t.Fatal("expected error for unknown step type")
	}
}

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry([]byte(`
version: "0.1"
registry:
  - pipeline: card_payment_pipeline
    when:
      event_type: transaction
  - pipeline: login_pipeline
    when:
      event_type: login
`))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}
	if reg.Version != "0.1" {
		t.Errorf("version = %q", reg.Version)
	}
	if len(reg.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(reg.Entries))
	}
	if reg.Entries[0].PipelineID != "card_payment_pipeline" {
		t.Errorf("unexpected first entry: %+v", reg.Entries[0])
	}
	if reg.Entries[0].When == nil || *reg.Entries[0].When.EventType != "transaction" {
		t.Errorf("unexpected when for first entry: %+v", reg.Entries[0].When)
	}
}

func TestParseRegistryMissingList(t *testing.T) {
	_, err := ParseRegistry([]byte(`version: "0.1"`))
	if err == nil {
		t.Fatal("expected error for missing registry list")
	}
}
