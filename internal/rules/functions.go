package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// regexCache holds compiled patterns shared by all programs.
var regexCache sync.Map

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// helperFunctions declares the pure text helpers available to rules.
// None of them touch anything outside their arguments.
func helperFunctions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("find",
			cel.Overload("find_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(findBinding))),
		cel.Function("capture",
			cel.Overload("capture_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(captureBinding))),
		cel.Function("captureAll",
			cel.Overload("captureall_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.ListType(cel.StringType),
				cel.BinaryBinding(captureAllBinding))),
		cel.Function("number",
			cel.Overload("number_string",
				[]*cel.Type{cel.StringType}, cel.DoubleType,
				cel.UnaryBinding(numberBinding))),
		cel.Function("between",
			cel.Overload("between_string_string_string",
				[]*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.StringType,
				cel.FunctionBinding(betweenBinding))),
	}
}

func stringArgs(vals ...ref.Val) ([]string, ref.Val) {
	out := make([]string, len(vals))
	for i, v := range vals {
		s, ok := v.(types.String)
		if !ok {
			return nil, types.MaybeNoSuchOverloadErr(v)
		}
		out[i] = string(s)
	}
	return out, nil
}

func findBinding(lhs, rhs ref.Val) ref.Val {
	args, errVal := stringArgs(lhs, rhs)
	if errVal != nil {
		return errVal
	}
	re, err := compileRegex(args[1])
	if err != nil {
		return types.NewErr("find: %v", err)
	}
	loc := re.FindStringIndex(args[0])
	if loc == nil {
		return types.NewErr("find: no match for %q", args[1])
	}
	return types.String(args[0][loc[0]:loc[1]])
}

func captureBinding(lhs, rhs ref.Val) ref.Val {
	args, errVal := stringArgs(lhs, rhs)
	if errVal != nil {
		return errVal
	}
	re, err := compileRegex(args[1])
	if err != nil {
		return types.NewErr("capture: %v", err)
	}
	if re.NumSubexp() < 1 {
		return types.NewErr("capture: pattern %q has no group", args[1])
	}
	m := re.FindStringSubmatch(args[0])
	if m == nil {
		return types.NewErr("capture: no match for %q", args[1])
	}
	return types.String(strings.TrimSpace(m[1]))
}

func captureAllBinding(lhs, rhs ref.Val) ref.Val {
	args, errVal := stringArgs(lhs, rhs)
	if errVal != nil {
		return errVal
	}
	re, err := compileRegex(args[1])
	if err != nil {
		return types.NewErr("captureAll: %v", err)
	}
	group := 0
	if re.NumSubexp() > 0 {
		group = 1
	}
	matches := re.FindAllStringSubmatch(args[0], -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[group]))
	}
	return types.NewStringList(types.DefaultTypeAdapter, out)
}

func numberBinding(val ref.Val) ref.Val {
	s, ok := val.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(val)
	}
	f, err := ParseNumber(string(s))
	if err != nil {
		return types.NewErr("number: %v", err)
	}
	return types.Double(f)
}

func betweenBinding(vals ...ref.Val) ref.Val {
	args, errVal := stringArgs(vals...)
	if errVal != nil {
		return errVal
	}
	text, start, end := args[0], args[1], args[2]
	i := strings.Index(text, start)
	if i < 0 {
		return types.NewErr("between: %q not found", start)
	}
	rest := text[i+len(start):]
	if end == "" {
		return types.String(strings.TrimSpace(rest))
	}
	j := strings.Index(rest, end)
	if j < 0 {
		return types.NewErr("between: %q not found", end)
	}
	return types.String(strings.TrimSpace(rest[:j]))
}

// ParseNumber reads the first number in s, written with either "." or ","
// as the decimal separator. "1.234,56", "1,234.56", "R$ 450,00" and
// "12.5 kg" all parse.
// When both separators appear the last one is the decimal point. A single
// separator repeated more than once is a thousands separator. A "-" right
// before the first digit makes the number negative. Digits after the number
// ("1e400", "10-20", "1 234") are an error rather than being joined on.
func ParseNumber(s string) (float64, error) {
	start := strings.IndexFunc(s, isASCIIDigit)
	if start < 0 {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	end := start
	for end < len(s) && (isASCIIDigit(rune(s[end])) || s[end] == '.' || s[end] == ',') {
		end++
	}
	if strings.IndexFunc(s[end:], isASCIIDigit) >= 0 {
		return 0, fmt.Errorf("invalid number %q: unexpected characters between digits", s)
	}
	clean := strings.TrimRight(s[start:end], ".,")
	negative := start > 0 && s[start-1] == '-'

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") > 1 {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(clean, ".") > 1 {
			clean = strings.ReplaceAll(clean, ".", "")
		}
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if negative {
		f = -f
	}
	return f, nil
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
