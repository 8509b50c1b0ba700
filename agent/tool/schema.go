package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

type Param struct {
	Name     string
	Desc     string
	Type     ParamType
	Required bool
	// Enum restricts string values, compared case-insensitively.
	Enum []string
}

// Spec describes one action to the planner and to the executor.
type Spec struct {
	Name        string
	Description string
	Params      []Param
	// NeedsBudget asks the executor to hand over the conversation's budget
	// snapshot with the invocation.
	NeedsBudget bool
}

func (s Spec) ToolInfo() *schema.ToolInfo {
	info := &schema.ToolInfo{Name: s.Name, Desc: s.Description}
	if len(s.Params) == 0 {
		return info
	}

	params := make(map[string]*schema.ParameterInfo, len(s.Params))
	for _, p := range s.Params {
		params[p.Name] = &schema.ParameterInfo{
			Type:     dataType(p.Type),
			Desc:     p.Desc,
			Required: p.Required,
			Enum:     p.Enum,
		}
	}
	info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	return info
}

func dataType(t ParamType) schema.DataType {
	switch t {
	case TypeNumber:
		return schema.Number
	case TypeInteger:
		return schema.Integer
	case TypeBoolean:
		return schema.Boolean
	default:
		return schema.String
	}
}

// Validate checks raw arguments against the declared params and returns
// them normalized: numbers as decimal.Decimal, integers as int64, strings
// trimmed, enum values lower-cased. Undeclared keys are dropped.
func (s Spec) Validate(raw map[string]any) (Args, error) {
	out := make(Args, len(s.Params))
	for _, p := range s.Params {
		v, ok := raw[p.Name]
		if !ok || v == nil || isBlank(v) {
			if p.Required {
				return nil, fmt.Errorf("%w: %s is required", contractx.ErrValidation, p.Name)
			}
			continue
		}

		norm, err := p.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %v", contractx.ErrValidation, p.Name, err)
		}
		out[p.Name] = norm
	}
	return out, nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (p Param) coerce(v any) (any, error) {
	switch p.Type {
	case TypeNumber:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return d, nil
	case TypeInteger:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		if !d.IsInteger() || d.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
			return nil, fmt.Errorf("must be a whole number, got %s", d)
		}
		return d.IntPart(), nil
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("must be true or false, got %q", b)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("must be a boolean, got %T", v)
		}
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string, got %T", v)
		}
		s = strings.TrimSpace(s)
		if len(p.Enum) > 0 {
			s = strings.ToLower(s)
			if !slices.Contains(p.Enum, s) {
				return nil, fmt.Errorf("must be one of %s, got %q", strings.Join(p.Enum, ", "), s)
			}
		}
		return s, nil
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case decimal.Decimal:
		return n, nil
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(n), ",", ""))
		if err != nil {
			return decimal.Zero, fmt.Errorf("must be a number, got %q", n)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("must be a number, got %T", v)
	}
}

// Args holds validated arguments.
type Args map[string]any

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Decimal(name string) decimal.Decimal {
	d, _ := a[name].(decimal.Decimal)
	return d
}

func (a Args) Int(name string) int64 {
	n, _ := a[name].(int64)
	return n
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}
