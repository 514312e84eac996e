// Package exprlang implements the embedded expression mini-language from
// spec.md §6: dotted field access, numeric/string/boolean/null literals,
// &&/||/!, comparison operators, arithmetic, in/not in over array literals
// or list.<id> references, and function calls. Grounded on the teacher's
// participle grammar (internal/dsl/parser.go) — same precedence-climbing
// struct-per-level shape and lexer.MustSimple token set, generalized from
// the teacher's when/always/never span grammar to the reference compiler's
// expression grammar (corint-compiler/src/expression.rs).
package exprlang

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Ternary is the grammar's entry production: cond ? then : else, or just a
// plain OrExpr when no "?" follows.
type Ternary struct {
	Cond *OrExpr      `@@`
	Tail *TernaryTail `@@?`
}

// TernaryTail is the optional "? then : else" suffix, split into its own
// struct so the outer Ternary's "@@?" can treat it as a single optional node.
type TernaryTail struct {
	Then *Ternary `"?" @@`
	Else *Ternary `":" @@`
}

// OrExpr is the lowest-precedence binary level: a || b || c.
type OrExpr struct {
	Terms []*AndExpr `@@ ( "||" @@ )*`
}

// AndExpr: a && b && c.
type AndExpr struct {
	Terms []*NotExpr `@@ ( "&&" @@ )*`
}

// NotExpr: an optional leading "!".
type NotExpr struct {
	Negate bool        `@"!"?`
	Cmp    *Comparison `@@`
}

// Comparison is a single optional comparison/membership suffix over an
// additive expression — the grammar is intentionally non-associative here
// (spec.md's mini-language has no chained comparisons like "a < b < c").
type Comparison struct {
	Left *Additive       `@@`
	Tail *ComparisonTail `@@?`
}

// ComparisonTail is either a binary comparison/string operator or a
// membership test, as two mutually exclusive shapes.
type ComparisonTail struct {
	Binary *BinaryCompTail `  @@`
	Member *MembershipTail `| @@`
}

// BinaryCompTail covers ==, !=, <, <=, >, >=, contains, starts_with,
// ends_with, matches.
type BinaryCompTail struct {
	Op    string    `@( "==" | "!=" | "<=" | ">=" | "<" | ">" | "contains" | "starts_with" | "ends_with" | "matches" )`
	Right *Additive `@@`
}

// MembershipTail covers "in" and "not in".
type MembershipTail struct {
	Negate bool      `@"not"?`
	Right  *Additive `"in" @@`
}

// Additive: a + b - c.
type Additive struct {
	Left *Multiplicative `@@`
	Ops  []*AddOp        `@@*`
}

type AddOp struct {
	Op    string          `@( "+" | "-" )`
	Right *Multiplicative `@@`
}

// Multiplicative: a * b / c % d.
type Multiplicative struct {
	Left *Unary `@@`
	Ops  []*MulOp `@@*`
}

type MulOp struct {
	Op    string `@( "*" | "/" | "%" )`
	Right *Unary `@@`
}

// Unary: an optional leading "-".
type Unary struct {
	Negate bool     `@"-"?`
	Value  *Primary `@@`
}

// Primary is the atomic production: literal, function call, list literal,
// dotted field reference, or a parenthesized sub-expression.
type Primary struct {
	Literal  *Literal     `  @@`
	Call     *Call        `| @@`
	List     *ListLiteral `| @@`
	FieldRef *FieldRef    `| @@`
	Paren    *Ternary     `| "(" @@ ")"`
}

// Literal is a constant value: string, float, int, bool or null.
type Literal struct {
	Str   *string  `  @String`
	Float *float64 `| @Float`
	Int   *int64   `| @Int`
	Bool  *string  `| @( "true" | "false" )`
	Null  bool     `| @"null"`
}

// Call is a named builtin invocation: count(...), sum(...), etc.
type Call struct {
	Name string     `@Ident "("`
	Args []*Ternary `( @@ ( "," @@ )* )? ")"`
}

// ListLiteral is a bracketed array of literals, the only shape spec.md
// permits on the right-hand side of "in"/"not in" besides list.<id>.
type ListLiteral struct {
	Items []*Literal `"[" ( @@ ( "," @@ )* )? "]"`
}

// FieldRef is a dotted identifier path: event.user.age, list.email_blocklist,
// total_score, payment_base.score. Disambiguated into FieldAccess,
// ListReference or ResultAccess by convert.go based on the leading segment.
type FieldRef struct {
	Path []string `@Ident ( "." @Ident )*`
}

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},
	{Name: "Keyword", Pattern: `\b(in|not|contains|starts_with|ends_with|matches|true|false|null)\b`},
	{Name: "Float", Pattern: `\d+\.\d+`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "String", Pattern: `"(\\.|[^"])*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Operator", Pattern: `==|!=|<=|>=|&&|\|\||[<>!+\-*/%?:,.\[\]()]`},
})

// grammarParser is the participle-generated recursive descent parser for
// the Ternary entry rule.
var grammarParser = participle.MustBuild[Ternary](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(4),
	participle.Unquote("String"),
)
