package template

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	singlePrefix = "@"
	batchPrefix  = "#"
)

// tplRegexp is the compiled regexp for expressions in command and path templates.
var tplRegexp = regexp.MustCompile(`([#@]\{[^}]+\})`)

// Expression is a template element to be resolved.
// Single expressions (@{...}) resolve to one value; batch expressions (#{...})
// resolve to a sequence whose elements are joined with spaces.
type Expression struct {
	Text    string
	IsBatch bool
}

func (expr Expression) String() string {
	prefix := singlePrefix
	if expr.IsBatch {
		prefix = batchPrefix
	}
	return fmt.Sprintf("%s{%s}", prefix, expr.Text)
}

// FindAll finds all expressions within the given template string.
func FindAll(in string) []Expression {
	var exprs []Expression
	for _, str := range tplRegexp.FindAllString(in, -1) {
		if e := asExpression(str); e.Text != "" {
			exprs = append(exprs, e)
		}
	}
	return exprs
}

// asExpression creates a template expression struct from a string.
func asExpression(in string) Expression {
	var str string
	batch := false
	if strings.HasPrefix(in, singlePrefix) {
		str = in[len(singlePrefix)+1 : len(in)-1]
	} else if strings.HasPrefix(in, batchPrefix) {
		str = in[len(batchPrefix)+1 : len(in)-1]
		batch = true
	} else {
		return Expression{}
	}
	return Expression{
		Text:    str,
		IsBatch: batch,
	}
}
