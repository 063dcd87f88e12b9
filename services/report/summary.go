package report

import (
	"io"

	"github.com/RnD-sandbox/image-sharing/pkg/render"
)

const summaryTemplate = "summary.tmpl"

// Summary is the human-readable digest printed after a run phase.
type Summary struct {
	Action     string
	RunID      string
	Phase      string
	Success    int
	Skipped    int
	Failed     int
	Other      int
	Failures   []string
	ReportPath string
}

// NewSummary digests r.
func NewSummary(action, runID, phase, reportPath string, r RunReport) Summary {
	c := r.Counts()
	return Summary{
		Action:     action,
		RunID:      runID,
		Phase:      phase,
		Success:    c.Success,
		Skipped:    c.Skipped,
		Failed:     c.Failed,
		Other:      c.Other,
		Failures:   r.Failures(),
		ReportPath: reportPath,
	}
}

// Print renders the summary into w with engine.
func (s Summary) Print(w io.Writer, engine *render.Engine) error {
	return engine.Render(w, summaryTemplate, s)
}
