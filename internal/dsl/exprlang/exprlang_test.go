package exprlang

import (
	"testing"

	"github.com/ruleflow/engine/internal/ast"
)

func TestParseFieldAccessAndComparison(t *testing.T) {
	expr, err := Parse("event.amount > 10000")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin, ok := expr.(*ast.Binary)
	if !ok {
		t.Fatalf("expected *ast.Binary, got %T", expr)
	}
	if bin.Op != ast.OpGt {
		t.Fatalf("expected Gt, got %s", bin.Op)
	}
	fa, ok := bin.Left.(*ast.FieldAccess)
	if !ok || fa.Path[0] != "event" || fa.Path[1] != "amount" {
		t.Fatalf("expected event.amount field access, got %#v", bin.Left)
	}
}

func TestParseMembershipOverList(t *testing.T) {
	expr, err := Parse(`event.user_email in list.email_blocklist`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin, ok := expr.(*ast.Binary)
	if !ok || bin.Op != ast.OpIn {
		t.Fatalf("expected in binary, got %#v", expr)
	}
	ref, ok := bin.Right.(*ast.ListReference)
	if !ok || ref.ListID != "email_blocklist" {
		t.Fatalf("expected list reference email_blocklist, got %#v", bin.Right)
	}
}

func TestParseNotIn(t *testing.T) {
	expr, err := Parse(`event.country not in ["US", "CA"]`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin, ok := expr.(*ast.Binary)
	if !ok || bin.Op != ast.OpNotIn {
		t.Fatalf("expected not-in binary, got %#v", expr)
	}
	lit, ok := bin.Right.(*ast.Literal)
	if !ok || lit.Value.Kind() != 4 { // KindArray
		t.Fatalf("expected array literal, got %#v", bin.Right)
	}
}

func TestParseLogicalAndArithmetic(t *testing.T) {
	expr, err := Parse("event.amount + 5 > 100 && !event.verified")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin, ok := expr.(*ast.Binary)
	if !ok || bin.Op != ast.OpAnd {
		t.Fatalf("expected && at top level, got %#v", expr)
	}
	left, ok := bin.Left.(*ast.Binary)
	if !ok || left.Op != ast.OpGt {
		t.Fatalf("expected > on left, got %#v", bin.Left)
	}
	inner, ok := left.Left.(*ast.Binary)
	if !ok || inner.Op != ast.OpAdd {
		t.Fatalf("expected + inside comparison, got %#v", left.Left)
	}
	not, ok := bin.Right.(*ast.Unary)
	if !ok || not.Op != ast.UnaryNot {
		t.Fatalf("expected ! on right, got %#v", bin.Right)
	}
}

func TestParseResultAccess(t *testing.T) {
	expr, err := Parse("total_score > 50")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin := expr.(*ast.Binary)
	ra, ok := bin.Left.(*ast.ResultAccess)
	if !ok || ra.RulesetID != nil || ra.Field != "total_score" {
		t.Fatalf("expected bare result access, got %#v", bin.Left)
	}
}

func TestParseQualifiedResultAccess(t *testing.T) {
	expr, err := Parse("payment_base.score > 80")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin := expr.(*ast.Binary)
	ra, ok := bin.Left.(*ast.ResultAccess)
	if !ok || ra.RulesetID == nil || *ra.RulesetID != "payment_base" || ra.Field != "score" {
		t.Fatalf("expected qualified result access, got %#v", bin.Left)
	}
}

func TestParseTernary(t *testing.T) {
	expr, err := Parse(`event.type == "transaction" ? 1 : 0`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, ok := expr.(*ast.Ternary); !ok {
		t.Fatalf("expected ternary, got %#v", expr)
	}
}

func TestParseFunctionCall(t *testing.T) {
	expr, err := Parse(`count(event.tags) > 0`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	bin := expr.(*ast.Binary)
	call, ok := bin.Left.(*ast.FunctionCall)
	if !ok || call.Name != "count" {
		t.Fatalf("expected count() call, got %#v", bin.Left)
	}
}
