package core

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DebugSnapshot describes the state of both stores by label only. It never
// holds a secret, a ciphertext or an IV and is safe to report.
type DebugSnapshot struct {
	Mode           string   `json:"mode"`
	IsCompatible   bool     `json:"isCompatible"`
	Labels         []string `json:"labels"`
	IVLabels       []string `json:"ivLabels"`
	KeystoreLabels []string `json:"keystoreLabels,omitempty"`
	KeystoreError  string   `json:"keystoreException,omitempty"`
	AuditTrail     []string `json:"auditTrail"`
}

// LabelDiff renders the keys present in only one store, "-" for blob-only
// and "+" for key-only. It is empty when the stores agree.
func (s *DebugSnapshot) LabelDiff() string {
	dmp := diffmatchpatch.New()

	a, b, lineArray := dmp.DiffLinesToChars(joinLines(s.Labels), joinLines(s.KeystoreLabels))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix + line + "\n")
		}
	}
	return sb.String()
}

func joinLines(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return strings.Join(labels, "\n") + "\n"
}
