// Package strutil provides small string helpers used across the gateway:
// template variable expansion, delimited-string (de)serialization, and
// regular expression list matching.
package strutil

import (
	"regexp"
	"strings"
)

// namesPattern captures template variable names of the form {name}.
var namesPattern = regexp.MustCompile(`\{([^/]+?)\}`)

// ExpandTemplate replaces variables in a string template with corresponding
// values. Variables are encoded like {name:default} where the :default part
// is optional. The name is looked up in variables; if absent, the default is
// used, and if there is no default the variable expands to the empty string.
func ExpandTemplate(source string, variables map[string]string) string {
	if !strings.Contains(source, "{") {
		return source
	}
	if strings.Contains(source, ":") {
		source = sanitizeTemplate(source)
	}
	return namesPattern.ReplaceAllStringFunc(source, func(match string) string {
		name := match[1 : len(match)-1]
		fallback := ""
		if idx := strings.Index(name, ":"); idx >= 0 {
			name, fallback = name[:idx], name[idx+1:]
		}
		if v, ok := variables[name]; ok {
			return v
		}
		return fallback
	})
}

// sanitizeTemplate removes nested "{}" such as in template variables that
// embed regular expressions, so the outer variable parses cleanly.
func sanitizeTemplate(source string) string {
	level := 0
	var sb strings.Builder
	for _, c := range source {
		if c == '{' {
			level++
		}
		if c == '}' {
			level--
		}
		if level > 1 || (level == 1 && c == '}') {
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// DelimitedStringFromSlice joins values with delim. No attempt is made to
// escape delimiters within the values.
func DelimitedStringFromSlice(values []string, delim string) string {
	return strings.Join(values, delim)
}

// DelimitedStringFromMap renders a map as key/value pairs, using kvDelim
// between a key and its value and pairDelim between pairs. Iteration follows
// the order of keys; pass the keys explicitly for deterministic output.
func DelimitedStringFromMap(m map[string]string, keys []string, kvDelim, pairDelim string) string {
	var sb strings.Builder
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(pairDelim)
		}
		sb.WriteString(k)
		sb.WriteString(kvDelim)
		sb.WriteString(v)
	}
	return sb.String()
}

// CommaDelimitedStringToSet splits a comma-delimited list into a set.
// See DelimitedStringToSet.
func CommaDelimitedStringToSet(list string) map[string]struct{} {
	return DelimitedStringToSet(list, ",")
}

// DelimitedStringToSet splits list on delim into a set of values.
// Whitespace around the delimiter and at the ends of the input is stripped.
// Returns nil for an empty input.
func DelimitedStringToSet(list, delim string) map[string]struct{} {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil
	}
	parts := strings.Split(list, delim)
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		set[strings.TrimSpace(p)] = struct{}{}
	}
	return set
}

// CommaDelimitedStringToMap parses "key=val[,key=val,...]" into a map.
// See DelimitedStringToMap.
func CommaDelimitedStringToMap(mapping string) map[string]string {
	return DelimitedStringToMap(mapping, ",", "=")
}

// DelimitedStringToMap parses a delimited list of key/value records into a
// map. recordDelim separates records, fieldDelim separates a key from its
// value. Whitespace around delimiters is stripped; records without a field
// delimiter are skipped. Returns nil for an empty input.
func DelimitedStringToMap(mapping, recordDelim, fieldDelim string) map[string]string {
	mapping = strings.TrimSpace(mapping)
	if mapping == "" {
		return nil
	}
	records := strings.Split(mapping, recordDelim)
	m := make(map[string]string, len(records))
	for _, rec := range records {
		kv := strings.SplitN(rec, fieldDelim, 2)
		if len(kv) != 2 {
			continue
		}
		m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Patterns compiles expressions into regular expressions, preserving order.
// Returns nil when no expressions are supplied.
func Patterns(expressions []string) ([]*regexp.Regexp, error) {
	if len(expressions) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, len(expressions))
	for i, expr := range expressions {
		p, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// MatchAny tests text against patterns in order and returns the first one
// whose leftmost match covers the whole string, or nil if none match.
func MatchAny(patterns []*regexp.Regexp, text string) *regexp.Regexp {
	for _, p := range patterns {
		if loc := p.FindStringIndex(text); loc != nil && loc[0] == 0 && loc[1] == len(text) {
			return p
		}
	}
	return nil
}
