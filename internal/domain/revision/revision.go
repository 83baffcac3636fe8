package revision

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewRecord is one brand review decision on a submission.
type ReviewRecord struct {
	ID             uuid.UUID `json:"id"`
	SubmissionID   uuid.UUID `json:"submissionId"`
	Approved       bool      `json:"approved"`
	Feedback       string    `json:"feedback"`
	Issues         []string  `json:"issues"`
	RevisionNumber int       `json:"revisionNumber"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewReviewRecord creates a review record. Issues are trimmed and deduplicated.
func NewReviewRecord(submissionID uuid.UUID, approved bool, feedback string, issues []string, revisionNumber int) *ReviewRecord {
	return &ReviewRecord{
		ID:             uuid.New(),
		SubmissionID:   submissionID,
		Approved:       approved,
		Feedback:       strings.TrimSpace(feedback),
		Issues:         NormalizeIssues(issues),
		RevisionNumber: revisionNumber,
		CreatedAt:      time.Now().UTC(),
	}
}

// NormalizeIssues turns an issue list into a set, preserving first-seen order.
func NormalizeIssues(issues []string) []string {
	out := make([]string, 0, len(issues))
	seen := make(map[string]struct{}, len(issues))
	for _, issue := range issues {
		v := strings.TrimSpace(issue)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Ledger is the append-only review history of one submission.
type Ledger struct {
	records []*ReviewRecord
}

// NewLedger builds a ledger from stored records in any order.
func NewLedger(records []*ReviewRecord) *Ledger {
	cp := make([]*ReviewRecord, len(records))
	copy(cp, records)
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].CreatedAt.Before(cp[j].CreatedAt)
	})
	return &Ledger{records: cp}
}

// Count returns the number of rejections, i.e. revisions used.
func (l *Ledger) Count() int {
	return len(l.Revisions())
}

// Remaining returns how many rejections are still allowed under maxRevisions.
func (l *Ledger) Remaining(maxRevisions int) int {
	left := maxRevisions - l.Count()
	if left < 0 {
		return 0
	}
	return left
}

// CanReject reports whether one more rejection fits under maxRevisions.
func (l *Ledger) CanReject(maxRevisions int) bool {
	return l.Remaining(maxRevisions) > 0
}

// History returns the records in chronological order.
func (l *Ledger) History() []*ReviewRecord {
	out := make([]*ReviewRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Revisions returns only the rejections, oldest first.
func (l *Ledger) Revisions() []*ReviewRecord {
	out := make([]*ReviewRecord, 0, len(l.records))
	for _, r := range l.records {
		if !r.Approved {
			out = append(out, r)
		}
	}
	return out
}
