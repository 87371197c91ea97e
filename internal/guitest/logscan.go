package guitest

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/catmaid-guitest/internal/browser"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/logutil"
)

// Severe entries containing this are expected: the anonymous user's settings
// request is forbidden when it is not linked to any project.
const expectedForbidden = "403 (Forbidden)"

// sourceContextRadius is how many lines around a syntax error are printed.
const sourceContextRadius = 2

var syntaxErrorLocation = regexp.MustCompile(`^(.*)\s(\d+):\d+\sUncaught`)

var sourceViewPolicy = bluemonday.StrictPolicy()

// ParseSyntaxErrorLocation extracts the script URL and line from a message
// like "https://host/app.js 42:7 Uncaught SyntaxError: ...". ok is false if the
// message has no location or the URL or line is empty or zero.
func ParseSyntaxErrorLocation(message string) (url string, line int, ok bool) {
	m := syntaxErrorLocation.FindStringSubmatch(message)
	if m == nil {
		return "", 0, false
	}
	line, err := strconv.Atoi(m[2])
	if err != nil || m[1] == "" || line == 0 {
		return "", 0, false
	}
	return m[1], line, true
}

// SourceContext returns the lines within radius of line (1-based), each
// prefixed with its number, clipped to the bounds of source.
func SourceContext(source string, line, radius int) []string {
	lines := strings.Split(source, "\n")
	start := max(0, line-radius-1)
	end := min(len(lines), line+radius)
	out := make([]string, 0, max(0, end-start))
	for i := start; i < end; i++ {
		out = append(out, fmt.Sprintf("%d: %s", i+1, strings.TrimSuffix(lines[i], "\r")))
	}
	return out
}

// stripSourceView undoes the HTML wrapper a browser puts around a plain
// text resource it displays, leaving the original text.
func stripSourceView(source string) string {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "<") {
		return source
	}
	return html.UnescapeString(sourceViewPolicy.Sanitize(trimmed))
}

// ScanLogs checks browser log entries in order and returns the first problem:
// an entry without message or level, a syntax error, or a severe entry other
// than the expected 403. Syntax errors get best-effort source diagnostics
// printed through run before failing.
func ScanLogs(ctx context.Context, run *Run, entries []browser.LogEntry) error {
	for i, entry := range entries {
		if entry.Message == "" {
			return errs.New(errs.AssertionFailed, fmt.Sprintf("browser log entry %d has no message", i))
		}
		if strings.Contains(entry.Message, "SyntaxError") {
			run.Printf("Syntax error: %s", entry.Message)
			printSyntaxErrorSource(ctx, run, entry.Message)
			return errs.New(errs.AssertionFailed, "syntax error in browser log: "+logutil.TruncateForLog(entry.Message, 500))
		}
		if entry.Level == "" {
			return errs.New(errs.AssertionFailed, fmt.Sprintf("browser log entry %d has no level", i))
		}
		if strings.Contains(entry.Level, browser.LevelSevere) && !strings.Contains(entry.Message, expectedForbidden) {
			return errs.New(errs.AssertionFailed, "unexpected severe browser log entry: "+logutil.TruncateForLog(entry.Message, 500))
		}
	}
	return nil
}

func printSyntaxErrorSource(ctx context.Context, run *Run, message string) {
	url, line, ok := ParseSyntaxErrorLocation(message)
	if !ok {
		return
	}
	source, err := run.Session().Fetch(ctx, url)
	if err != nil {
		run.Printf("Could not load %s: %v", url, err)
		return
	}
	run.Printf("Relevant source code:")
	for _, l := range SourceContext(stripSourceView(source), line, sourceContextRadius) {
		run.Printf("%s", l)
	}
}
