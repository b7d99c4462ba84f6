// Package sql parses and walks the map/reduce SQL statements the
// planner needs to inspect: it recovers the single leaf table a
// statement scans and the conjunctive filter predicates applied to
// it, standing in for the external SQL/optimizer library spec.md
// treats as an out-of-scope collaborator.
package sql

import (
	"fmt"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"github.com/cloudfuse-io/buzz-go/internal/errors"
)

// Predicate is one conjunct of a statement's WHERE clause, together
// with the column names it references.
type Predicate struct {
	Expr    string
	Columns []string
}

// SingleSourcePlan is the parsed shape the planner operates on: one
// leaf table, the statement's text, and its top-level AND-conjoined
// filter predicates.
type SingleSourcePlan struct {
	SQL        string
	SourceName string
	Predicates []Predicate
}

// Parse parses sql, requiring exactly one statement and exactly one
// FROM-clause source (no joins, no subqueries, no CTEs) — spec §4.1's
// "more than one input in a plan node" is rejected here, before any
// catalog lookup.
func Parse(sqlText string) (*SingleSourcePlan, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, errors.NewBadRequest("empty SQL statement", "provide a non-empty SELECT statement")
	}

	stmts, err := sqlparser.SplitStatementToPieces(sqlText)
	if err != nil {
		return nil, errors.NewBadRequest(fmt.Sprintf("failed to split SQL: %v", err), "submit a single valid SELECT statement")
	}
	if len(stmts) > 1 {
		return nil, errors.NewBadRequest("multiple statements not allowed", "submit one SELECT statement per step")
	}

	stmt, err := sqlparser.Parse(sqlText)
	if err != nil {
		return nil, errors.NewBadRequest(fmt.Sprintf("failed to parse SQL: %v", err), "check the query's SQL syntax")
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, errors.NewNotImplemented("only SELECT statements are supported")
	}

	source, err := singleSource(sel.From)
	if err != nil {
		return nil, err
	}

	var preds []Predicate
	if sel.Where != nil {
		preds = conjuncts(sel.Where.Expr)
	}

	return &SingleSourcePlan{SQL: sqlText, SourceName: source, Predicates: preds}, nil
}

// singleSource requires exactly one non-join, non-subquery table
// reference and returns its name.
func singleSource(from sqlparser.TableExprs) (string, error) {
	if len(from) != 1 {
		return "", errors.NewNotImplemented("exactly one FROM-clause source is required")
	}
	aliased, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", errors.NewNotImplemented("joins and subqueries in FROM are not supported")
	}
	tn, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return "", errors.NewNotImplemented("only a bare table name is supported as the source")
	}
	return formatTableName(tn), nil
}

func formatTableName(tn sqlparser.TableName) string {
	return tn.Name.String()
}

// conjuncts flattens a top-level AND tree into its leaf predicates,
// each annotated with the columns it references. A predicate that is
// itself an OR is kept whole (its referenced columns still
// classified together) rather than split, since OR does not
// distribute over the partition/row split the planner performs.
func conjuncts(expr sqlparser.Expr) []Predicate {
	if and, ok := expr.(*sqlparser.AndExpr); ok {
		return append(conjuncts(and.Left), conjuncts(and.Right)...)
	}
	return []Predicate{{Expr: sqlparser.String(expr), Columns: columnsIn(expr)}}
}

// columnsIn walks expr collecting every referenced column name.
func columnsIn(expr sqlparser.Expr) []string {
	var cols []string
	seen := make(map[string]bool)
	var walk func(sqlparser.Expr)
	walk = func(e sqlparser.Expr) {
		if e == nil {
			return
		}
		switch v := e.(type) {
		case *sqlparser.ColName:
			name := v.Name.String()
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		case *sqlparser.AndExpr:
			walk(v.Left)
			walk(v.Right)
		case *sqlparser.OrExpr:
			walk(v.Left)
			walk(v.Right)
		case *sqlparser.NotExpr:
			walk(v.Expr)
		case *sqlparser.ParenExpr:
			walk(v.Expr)
		case *sqlparser.ComparisonExpr:
			walk(v.Left)
			walk(v.Right)
		case *sqlparser.RangeCond:
			walk(v.Left)
			walk(v.From)
			walk(v.To)
		case *sqlparser.IsExpr:
			walk(v.Expr)
		case *sqlparser.FuncExpr:
			for _, arg := range v.Exprs {
				if aliased, ok := arg.(*sqlparser.AliasedExpr); ok {
					walk(aliased.Expr)
				}
			}
		}
	}
	walk(expr)
	return cols
}
