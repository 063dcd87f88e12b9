package report

import (
	"fmt"
	"sort"
)

// Bucket names a report bucket.
type Bucket string

const (
	BucketSuccess Bucket = "success"
	BucketSkipped Bucket = "skipped"
	BucketFailed  Bucket = "failed"
	BucketOther   Bucket = "other"
)

// WorkspaceEntry is one workspace outcome inside an account group.
type WorkspaceEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AccountEntry groups workspace entries of one account within a bucket.
type AccountEntry struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Workspaces []WorkspaceEntry `json:"workspaces"`
}

// OtherEntry records an account-level failure that never reached a workspace.
type OtherEntry struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Error     string `json:"error"`
}

// AccountReport holds the outcomes produced within one account.
type AccountReport struct {
	AccountID string
	Name      string
	Success   []WorkspaceEntry
	Skipped   []WorkspaceEntry
	Failed    []WorkspaceEntry
	Other     []string
}

// Add appends entry to bucket. BucketOther takes the entry's Error as the reason.
func (r *AccountReport) Add(bucket Bucket, entry WorkspaceEntry) {
	switch bucket {
	case BucketSuccess:
		r.Success = append(r.Success, entry)
	case BucketSkipped:
		r.Skipped = append(r.Skipped, entry)
	case BucketFailed:
		r.Failed = append(r.Failed, entry)
	case BucketOther:
		r.Other = append(r.Other, entry.Error)
	default:
		panic(fmt.Sprintf("report: unknown bucket %q", bucket))
	}
}

// Counts returns the number of entries per bucket.
func (r AccountReport) Counts() Counts {
	return Counts{
		Success: len(r.Success),
		Skipped: len(r.Skipped),
		Failed:  len(r.Failed),
		Other:   len(r.Other),
	}
}

// RunReport is the merged outcome of one dispatch.
type RunReport struct {
	Success []AccountEntry `json:"success"`
	Skipped []AccountEntry `json:"skipped"`
	Failed  []AccountEntry `json:"failed"`
	Other   []OtherEntry   `json:"other"`
}

// Counts tallies workspace entries per bucket; Other counts account entries.
type Counts struct {
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Other   int `json:"other"`
}

// Total sums every bucket.
func (c Counts) Total() int {
	return c.Success + c.Skipped + c.Failed + c.Other
}

// Add returns the bucket-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Success: c.Success + o.Success,
		Skipped: c.Skipped + o.Skipped,
		Failed:  c.Failed + o.Failed,
		Other:   c.Other + o.Other,
	}
}

// Merge concatenates the buckets of reports in input order. Accounts keep their
// workspace grouping; empty account groups are omitted.
func Merge(reports []AccountReport) RunReport {
	out := RunReport{
		Success: []AccountEntry{},
		Skipped: []AccountEntry{},
		Failed:  []AccountEntry{},
		Other:   []OtherEntry{},
	}
	for _, r := range reports {
		out.Success = appendGroup(out.Success, r, r.Success)
		out.Skipped = appendGroup(out.Skipped, r, r.Skipped)
		out.Failed = appendGroup(out.Failed, r, r.Failed)
		for _, reason := range r.Other {
			out.Other = append(out.Other, OtherEntry{AccountID: r.AccountID, Name: r.Name, Error: reason})
		}
	}
	return out
}

func appendGroup(dst []AccountEntry, r AccountReport, entries []WorkspaceEntry) []AccountEntry {
	if len(entries) == 0 {
		return dst
	}
	ws := make([]WorkspaceEntry, len(entries))
	copy(ws, entries)
	return append(dst, AccountEntry{ID: r.AccountID, Name: r.Name, Workspaces: ws})
}

// Counts returns the workspace-level tally of the report.
func (r RunReport) Counts() Counts {
	return Counts{
		Success: countWorkspaces(r.Success),
		Skipped: countWorkspaces(r.Skipped),
		Failed:  countWorkspaces(r.Failed),
		Other:   len(r.Other),
	}
}

// FailedCount is the number of failed workspaces.
func (r RunReport) FailedCount() int {
	return countWorkspaces(r.Failed)
}

// Targets maps each account of the success bucket to its successful workspace ids.
func (r RunReport) Targets() map[string][]string {
	targets := make(map[string][]string, len(r.Success))
	for _, acct := range r.Success {
		for _, ws := range acct.Workspaces {
			targets[acct.ID] = append(targets[acct.ID], ws.ID)
		}
	}
	return targets
}

// Failures lists failed workspaces and account-level errors as display lines, sorted.
func (r RunReport) Failures() []string {
	var lines []string
	for _, acct := range r.Failed {
		for _, ws := range acct.Workspaces {
			lines = append(lines, fmt.Sprintf("%s/%s: %s", acct.Name, ws.Name, ws.Error))
		}
	}
	for _, o := range r.Other {
		lines = append(lines, fmt.Sprintf("%s: %s", o.Name, o.Error))
	}
	sort.Strings(lines)
	return lines
}

func countWorkspaces(entries []AccountEntry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Workspaces)
	}
	return n
}
