package scripting

import (
	"fmt"
	"strings"

	"github.com/shihanpietersz/migration-manager/internal/models"
)

// Param is one parameter to inject into a script. Order matters for the bash
// dialect, where values are also exposed positionally.
type Param struct {
	Name  string
	Value string
}

// Substitute rewrites script text to carry parameter values, because the
// remote command surface has no first-class parameter support. All quoting
// and escaping for both dialects is concentrated here.
func Substitute(content string, dialect models.ScriptDialect, params []Param) (string, error) {
	if len(params) == 0 {
		return content, nil
	}

	switch dialect {
	case models.DialectPowerShell:
		return substitutePowerShell(content, params), nil
	case models.DialectBash:
		return substituteBash(content, params), nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// substitutePowerShell strips a leading param(...) declaration block and
// prepends plain variable assignments instead.
func substitutePowerShell(content string, params []Param) string {
	body := stripParamBlock(content)

	var sb strings.Builder
	for _, p := range params {
		sb.WriteString(fmt.Sprintf("$%s = \"%s\"\n", p.Name, escapePowerShell(p.Value)))
	}
	sb.WriteString(body)
	return sb.String()
}

// substituteBash prepends variable assignments and a set -- line so snippets
// using $1, $2 positional parameters keep working.
func substituteBash(content string, params []Param) string {
	var sb strings.Builder
	positional := make([]string, 0, len(params))
	for _, p := range params {
		escaped := escapeBash(p.Value)
		sb.WriteString(fmt.Sprintf("%s=\"%s\"\n", p.Name, escaped))
		positional = append(positional, "\""+escaped+"\"")
	}
	sb.WriteString("set -- " + strings.Join(positional, " ") + "\n")
	sb.WriteString(content)
	return sb.String()
}

// escapePowerShell escapes a value for a double-quoted PowerShell string.
// Backtick is the escape character and must be escaped first.
func escapePowerShell(value string) string {
	value = strings.ReplaceAll(value, "`", "``")
	value = strings.ReplaceAll(value, "\"", "`\"")
	value = strings.ReplaceAll(value, "$", "`$")
	return value
}

// escapeBash escapes a value for a double-quoted bash string.
func escapeBash(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "$", "\\$")
	value = strings.ReplaceAll(value, "`", "\\`")
	return value
}

// stripParamBlock removes a leading param(...) block, scanning for the
// balancing close paren while tracking string-literal state so parentheses
// inside quoted defaults do not end the block early.
func stripParamBlock(content string) string {
	idx := indexOfParamKeyword(content)
	if idx < 0 {
		return content
	}

	open := strings.Index(content[idx:], "(")
	if open < 0 {
		return content
	}
	open += idx

	depth := 0
	inSingle := false
	inDouble := false
	for i := open; i < len(content); i++ {
		c := content[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '`' {
				i++ // skip escaped character
			} else if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return content[:idx] + strings.TrimLeft(content[i+1:], " \t\r\n")
			}
		}
	}

	// Unbalanced block; leave the script untouched rather than corrupt it.
	return content
}

// indexOfParamKeyword finds a param keyword that starts the script, allowing
// leading whitespace and comment lines only.
func indexOfParamKeyword(content string) int {
	offset := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "param") {
			return offset + strings.Index(strings.ToLower(line), "param")
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return -1
		}
		offset += len(line) + 1
	}
	return -1
}
