package recovery

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/fileutils"
	"github.com/stupid-simple/intake-backup/model"
)

// FileCheck is the state on disk of one recorded artifact.
type FileCheck struct {
	Path         string
	Exists       bool
	ExpectedSize int64
	Size         int64
	HashMatch    bool
}

func (c FileCheck) OK() bool {
	return c.Exists && c.Size == c.ExpectedSize && c.HashMatch
}

// Report is the outcome of Verify.
type Report struct {
	BackupID     string
	Type         model.BackupType
	Status       model.Status
	OK           bool
	Files        []FileCheck
	ExpectedSize int64
	ActualSize   int64
	Problems     []string
}

// Missing returns the artifacts that are not on disk.
func (r *Report) Missing() []string {
	missing := []string{}
	for _, f := range r.Files {
		if !f.Exists {
			missing = append(missing, f.Path)
		}
	}
	return missing
}

// SizeMismatch reports whether the artifacts on disk add up to a different
// size than recorded.
func (r *Report) SizeMismatch() bool {
	return r.ActualSize != r.ExpectedSize
}

func (r *Report) MarshalZerologObject(e *zerolog.Event) {
	e.Str("backup", r.BackupID).
		Str("type", string(r.Type)).
		Str("status", string(r.Status)).
		Bool("ok", r.OK).
		Int("files", len(r.Files)).
		Int64("expected_size", r.ExpectedSize).
		Int64("actual_size", r.ActualSize).
		Strs("problems", r.Problems)
}

// Verify checks that the backup completed and that every artifact it lists
// is on disk with the recorded size and checksum. It does not modify
// anything.
func (m *Manager) Verify(ctx context.Context, id string) (*Report, error) {
	rec, err := m.backups.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report := check(rec)
	m.logger.Info().Object("report", report).Msg("backup verified")
	return report, nil
}

func check(rec *model.Record) *Report {
	report := &Report{
		BackupID:     rec.ID,
		Type:         rec.Type,
		Status:       rec.Status,
		ExpectedSize: rec.SizeBytes,
	}
	if rec.Status != model.StatusCompleted {
		report.Problems = append(report.Problems, fmt.Sprintf("status is %s, not %s", rec.Status, model.StatusCompleted))
	}
	if len(rec.Artifacts) == 0 {
		report.Problems = append(report.Problems, "no artifacts recorded")
	}

	for _, a := range rec.Artifacts {
		c := FileCheck{Path: a.Path, ExpectedSize: a.Size}
		hash, size, err := fileutils.FileDigest(a.Path)
		switch {
		case os.IsNotExist(err):
			report.Problems = append(report.Problems, "missing "+a.Path)
		case err != nil:
			c.Exists = true
			report.Problems = append(report.Problems, fmt.Sprintf("unreadable %s: %v", a.Path, err))
		default:
			c.Exists = true
			c.Size = size
			c.HashMatch = int64(hash) == a.Hash
			report.ActualSize += size
			if size != a.Size {
				report.Problems = append(report.Problems, fmt.Sprintf("size of %s is %d, recorded %d", a.Path, size, a.Size))
			} else if !c.HashMatch {
				report.Problems = append(report.Problems, "checksum mismatch "+a.Path)
			}
		}
		report.Files = append(report.Files, c)
	}
	if report.SizeMismatch() {
		report.Problems = append(report.Problems,
			fmt.Sprintf("artifacts add up to %d bytes, recorded %d", report.ActualSize, report.ExpectedSize))
	}
	report.OK = len(report.Problems) == 0
	return report
}
