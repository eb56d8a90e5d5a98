// Package filter translates AIP-160 filter expressions on contact listings
// into SQL conditions over the contacts table.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

// declarations lists the filterable contact fields.
func declarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("is_favorite", filtering.TypeBool),
		filtering.DeclareIdent("is_linked", filtering.TypeBool),
		filtering.DeclareIdent("created_at", filtering.TypeTimestamp),
		filtering.DeclareIdent("last_interaction_at", filtering.TypeTimestamp),
	)
}

// columns maps filter fields to contacts columns. Timestamps are stored as
// Unix milliseconds, so timestamp() literals translate to millis parameters.
var columns = map[string]string{
	"is_favorite":         "is_favorite",
	"created_at":          "created_at",
	"last_interaction_at": "last_interaction_at",
}

// ParseListFilter translates a filter expression into a WHERE fragment for
// contact listings. An empty expression yields an empty condition.
func ParseListFilter(filterStr string) (storage.Condition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return storage.Condition{}, nil
	}

	decls, err := declarations()
	if err != nil {
		return storage.Condition{}, fmt.Errorf("create declarations: %w", err)
	}

	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return storage.Condition{}, apperrors.Wrap(apperrors.CodeInvalidFormat, "parse list filter", err)
	}

	cond, err := translate(parsed.CheckedExpr.Expr)
	if err != nil {
		return storage.Condition{}, apperrors.Wrap(apperrors.CodeInvalidFormat, "translate list filter", err)
	}
	return cond, nil
}

func translate(e *expr.Expr) (storage.Condition, error) {
	if e == nil {
		return storage.Condition{}, nil
	}
	call, ok := e.ExprKind.(*expr.Expr_CallExpr)
	if !ok {
		if ident, isIdent := e.ExprKind.(*expr.Expr_IdentExpr); isIdent {
			// Bare boolean field, e.g. "is_favorite".
			return boolField(ident.IdentExpr.Name, true)
		}
		return storage.Condition{}, fmt.Errorf("unsupported expression: %T", e.ExprKind)
	}
	return translateCall(call.CallExpr)
}

var comparisonOps = map[string]string{
	"_==_": "=", "=": "=",
	"_!=_": "!=", "!=": "!=",
	"_<_": "<", "<": "<",
	"_<=_": "<=", "<=": "<=",
	"_>_": ">", ">": ">",
	"_>=_": ">=", ">=": ">=",
}

func translateCall(call *expr.Expr_Call) (storage.Condition, error) {
	switch call.Function {
	case "_&&_", "AND":
		return translateLogical(call.Args, "AND")
	case "_||_", "OR":
		return translateLogical(call.Args, "OR")
	case "NOT", "!_":
		if len(call.Args) != 1 {
			return storage.Condition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translate(call.Args[0])
		if err != nil {
			return storage.Condition{}, err
		}
		return storage.Condition{Clause: fmt.Sprintf("NOT (%s)", inner.Clause), Params: inner.Params}, nil
	}
	if op, ok := comparisonOps[call.Function]; ok {
		return translateComparison(call.Args, op)
	}
	return storage.Condition{}, fmt.Errorf("unsupported function: %s", call.Function)
}

func translateLogical(args []*expr.Expr, op string) (storage.Condition, error) {
	if len(args) != 2 {
		return storage.Condition{}, fmt.Errorf("%s requires 2 arguments", op)
	}
	left, err := translate(args[0])
	if err != nil {
		return storage.Condition{}, err
	}
	right, err := translate(args[1])
	if err != nil {
		return storage.Condition{}, err
	}
	return storage.Condition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(left.Params, right.Params...),
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (storage.Condition, error) {
	if len(args) != 2 {
		return storage.Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := fieldName(args[0])
	if err != nil {
		return storage.Condition{}, err
	}

	// is_linked is derived from linked_user_id, not a stored column.
	if field == "is_linked" {
		want, err := boolLiteral(args[1])
		if err != nil {
			return storage.Condition{}, err
		}
		if op == "!=" {
			want = !want
		} else if op != "=" {
			return storage.Condition{}, fmt.Errorf("is_linked supports only equality")
		}
		return boolField(field, want)
	}

	column, ok := columns[field]
	if !ok {
		return storage.Condition{}, fmt.Errorf("unknown field: %s", field)
	}
	value, err := literalValue(args[1])
	if err != nil {
		return storage.Condition{}, err
	}
	return storage.Condition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

func boolField(field string, want bool) (storage.Condition, error) {
	switch field {
	case "is_favorite":
		v := int64(0)
		if want {
			v = 1
		}
		return storage.Condition{Clause: "is_favorite = ?", Params: []any{v}}, nil
	case "is_linked":
		// Unlinked placeholders store a NULL linked_user_id.
		if want {
			return storage.Condition{Clause: "linked_user_id IS NOT NULL"}, nil
		}
		return storage.Condition{Clause: "linked_user_id IS NULL"}, nil
	default:
		return storage.Condition{}, fmt.Errorf("field %s is not boolean", field)
	}
}

func fieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	ident, ok := e.ExprKind.(*expr.Expr_IdentExpr)
	if !ok {
		return "", fmt.Errorf("expected identifier, got %T", e.ExprKind)
	}
	return ident.IdentExpr.Name, nil
}

func boolLiteral(e *expr.Expr) (bool, error) {
	v, err := literalValue(e)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	default:
		return false, fmt.Errorf("expected boolean literal, got %T", v)
	}
}

// literalValue extracts a constant. timestamp() literals become Unix millis
// to match the stored column encoding.
func literalValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return constValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return timestampMillis(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func constValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}
	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return int64(kind.Uint64Value), nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

func timestampMillis(e *expr.Expr) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("nil timestamp argument")
	}
	konst, ok := e.ExprKind.(*expr.Expr_ConstExpr)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a constant string")
	}
	str, ok := konst.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339, str.StringValue)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, str.StringValue)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp format: %s", str.StringValue)
		}
	}
	return t.UnixMilli(), nil
}
