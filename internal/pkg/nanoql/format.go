package nanoql

import (
	"strings"
)

// QueryString renders n back to query syntax. Truth leaves have no query
// syntax and render as <true> and <false>; the output is meant for
// diagnostics and explain views.
func (b Builder) QueryString(n Node) string {
	var sb strings.Builder
	writeNode(&sb, n)
	return sb.String()
}

// String renders n with the default builder.
func String(n Node) string {
	return DefaultBuilder.QueryString(n)
}

func writeNode(sb *strings.Builder, n Node) {
	switch x := n.(type) {
	case nil:
	case Text:
		if needsQuoting(x.Value) {
			writeQuoted(sb, x.Value)
		} else {
			sb.WriteString(x.Value)
		}
	case Quoted:
		writeQuoted(sb, x.Value)
	case Pattern:
		expr := x.Value
		if x.Failed {
			raw := make([]string, len(x.Sources))
			for i, src := range x.Sources {
				raw[i] = src.Value
			}
			expr = strings.Join(raw, "|")
		}
		sb.WriteByte('/')
		sb.WriteString(strings.ReplaceAll(expr, "/", `\/`))
		sb.WriteByte('/')
	case Unary:
		if x.Op == OpNot {
			sb.WriteString(OpNot)
		} else {
			sb.WriteString(x.Op)
			sb.WriteByte(':')
		}
		writeOperand(sb, x.Operand)
	case Binary:
		sep := " AND "
		if x.Op == OpOr {
			sep = " OR "
		}
		for i, op := range x.Operands {
			if i > 0 {
				sb.WriteString(sep)
			}
			writeOperand(sb, op)
		}
	case Truth:
		if x.Value {
			sb.WriteString("<true>")
		} else {
			sb.WriteString("<false>")
		}
	}
}

func writeOperand(sb *strings.Builder, n Node) {
	if _, ok := n.(Binary); ok {
		sb.WriteByte('(')
		writeNode(sb, n)
		sb.WriteByte(')')
		return
	}
	writeNode(sb, n)
}

func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
}

// needsQuoting reports whether a bare term would lex as something else.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	switch s[0] {
	case '-', '/', '|':
		return true
	}
	switch strings.ToUpper(s) {
	case "AND", "OR", "NOT":
		return true
	}
	if i := strings.IndexByte(s, ':'); i > 0 && IsModifier(s[:i]) {
		return true
	}
	for i := 0; i < len(s); i++ {
		if !isWordChar(s[i]) {
			return true
		}
	}
	return false
}
