package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// Codes of CueErrorDetail.
const (
	CodeUnknownField = "unknown_field"
	CodeMissing      = "missing_required"
	CodeMismatch     = "type_mismatch"
	CodeConflict     = "conflicting_values"
	CodeInvalid      = "validation_error"
)

// CueErrorDetail is one problem found in renderq.yaml.
type CueErrorDetail struct {
	Path    string // e.g. kill_grace
	Code    string
	Message string
	Hint    string // expected format of the field, if known
	Line    int
	Column  int
	File    string
	Raw     string
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	attrs := []any{
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
	}
	if c.Hint != "" {
		attrs = append(attrs, slog.String("hint", c.Hint))
	}
	if c.File != "" {
		attrs = append(attrs, slog.String("at", fmt.Sprintf("%s:%d:%d", c.File, c.Line, c.Column)))
	}
	return slog.Group(name, attrs...)
}

// hints describe the accepted values of the config fields
var hints = map[string]string{
	"version":    "must be 0",
	"blender":    "path of the blender executable",
	"verbose":    "true or false",
	"log_dir":    "non empty directory path",
	"kill_grace": "duration like 30s, 1m30s or 1h",
	"schedule":   "5 field cron expression or a macro like @daily",
	"bell":       "true or false",
}

var codes = []struct {
	re   *regexp.Regexp
	code string
}{
	{regexp.MustCompile(`(?i)not allowed|unknown field`), CodeUnknownField},
	{regexp.MustCompile(`(?i)incomplete value`), CodeMissing},
	{regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`), CodeConflict},
	{regexp.MustCompile(`(?i)expected .* got .*|does not match|invalid value`), CodeMismatch},
}

// CueErrDetails turns an error returned by LoadConfig into a list of
// details, at most one per position in the config file.
// Errors not coming from cue yield a single validation_error detail.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []CueErrorDetail{{Code: CodeInvalid, Message: err.Error(), Raw: err.Error()}}
	}

	type pos struct {
		file      string
		line, col int
	}
	seen := make(map[pos]struct{})
	out := make([]CueErrorDetail, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		d := CueErrorDetail{
			Path: fieldPath(e.Path()),
			Raw:  fmt.Sprintf(format, args...),
		}
		for _, p := range cueerrors.Positions(e) {
			if p.Filename() != "" {
				d.File, d.Line, d.Column = p.Filename(), p.Line(), p.Column()
				break
			}
		}
		key := pos{d.File, d.Line, d.Column}
		if _, ok := seen[key]; ok && d.File != "" {
			continue
		}
		seen[key] = struct{}{}

		d.Code, d.Message = describe(d.Raw, d.Path)
		if d.Code != CodeUnknownField {
			d.Hint = hints[d.Path[strings.LastIndex(d.Path, ".")+1:]]
		}
		out = append(out, d)
	}
	return out
}

// fieldPath drops the #Config definition from the error path
func fieldPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func describe(raw, path string) (code, msg string) {
	for _, c := range codes {
		if !c.re.MatchString(raw) {
			continue
		}
		switch c.code {
		case CodeUnknownField:
			return c.code, fmt.Sprintf("unknown setting %s", path)
		case CodeMissing:
			return c.code, fmt.Sprintf("setting %s is required", path)
		case CodeConflict:
			return c.code, fmt.Sprintf("invalid value of %s", path)
		default:
			return c.code, fmt.Sprintf("setting %s has a wrong type or format", path)
		}
	}
	return CodeInvalid, raw
}
