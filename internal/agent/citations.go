package agent

import (
	"context"
	"fmt"
	"regexp"
)

// citeTagPattern matches inline citation markers of the form
// <cite source="src-N"/>. The grammar, tolerant of quote style and internal
// whitespace:
//
//	'<cite' ws 'source' ws? '=' ws? quote? 'src-' digits quote? ws? '/>'
var citeTagPattern = regexp.MustCompile(`<cite\s+source\s*=\s*["']?\s*(src-\d+)\s*["']?\s*/>`)

// danglingSpacePattern matches whitespace left immediately before
// punctuation once markers have been removed or replaced.
var danglingSpacePattern = regexp.MustCompile(`\s+([.,;:])`)

// ReplaceCitations resolves the citation markers in the composed report
// into Markdown links via the session's source registry and stores the
// result under the final_report_with_citations slot.
//
// Markers referencing an unknown identifier are logged and removed; the
// report is always produced.
func ReplaceCitations(_ context.Context, inv *Invocation) (string, error) {
	sess := inv.Session
	finalReport := sess.FinalCitedReport()

	resolved := 0
	dropped := 0
	processed := citeTagPattern.ReplaceAllStringFunc(finalReport, func(match string) string {
		shortID := citeTagPattern.FindStringSubmatch(match)[1]
		src, ok := sess.Source(shortID)
		if !ok {
			inv.Logger.Printf("WARN: invalid citation tag found and removed: %s", match)
			dropped++
			return ""
		}
		resolved++
		return fmt.Sprintf(" [%s](%s)", src.DisplayTitle(), src.URL)
	})
	processed = danglingSpacePattern.ReplaceAllString(processed, "$1")

	sess.SetFinalReportWithCitations(processed)
	if inv.Telemetry != nil {
		inv.Telemetry.RecordCitationRewrite(resolved, dropped)
	}
	return processed, nil
}
