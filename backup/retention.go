package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stupid-simple/intake-backup/audit"
	"github.com/stupid-simple/intake-backup/database"
	"github.com/stupid-simple/intake-backup/model"
)

// SafetyGrace protects fresh safety backups from cleanup, a restore may
// still depend on them.
const SafetyGrace = time.Hour

// Policy selects completed backups for deletion. A record is removed when it
// is beyond the KeepPerType most recent of its type, or older than MaxAge.
// Zero values disable the respective rule.
type Policy struct {
	KeepPerType int
	MaxAge      time.Duration
}

func (p Policy) Enabled() bool {
	return p.KeepPerType > 0 || p.MaxAge > 0
}

// Candidates returns the completed records the policy would delete.
func (m *Manager) Candidates(ctx context.Context, p Policy) ([]model.Record, error) {
	if !p.Enabled() {
		return nil, nil
	}
	records, err := m.store.FindRecords(ctx, database.WithStatuses(model.StatusCompleted), database.WithArtifacts())
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	seen := map[model.BackupType]int{}
	selected := []model.Record{}
	for _, r := range records {
		// Newest first, so the rank counts younger backups of the same type.
		rank := seen[r.Type]
		seen[r.Type]++

		expired := p.MaxAge > 0 && now.Sub(r.StartedAt) > p.MaxAge
		surplus := p.KeepPerType > 0 && rank >= p.KeepPerType
		if !expired && !surplus {
			continue
		}
		if r.IsSafetyBackup() && now.Sub(r.StartedAt) < SafetyGrace {
			m.logger.Debug().Str("backup", r.ID).Msg("keeping recent safety backup")
			continue
		}
		selected = append(selected, r)
	}
	return selected, nil
}

// Cleanup deletes the backups outside the policy and returns how many were
// removed. Artifacts already missing from disk do not stop the removal.
func (m *Manager) Cleanup(ctx context.Context, p Policy) (int, error) {
	candidates, err := m.Candidates(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("select backups to clean: %w", err)
	}

	removed := 0
	removedIDs := []string{}
	var errs []error
	for i := range candidates {
		r := &candidates[i]
		if err := m.remove(ctx, r, true); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		removedIDs = append(removedIDs, r.ID)
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Strs("backups", removedIDs).Msg("backups cleaned")
		if m.auditor != nil {
			_, err := m.auditor.Record(ctx, audit.Event{
				Action:   audit.ActionCleanup,
				Severity: model.SeverityInfo,
				Subject:  fmt.Sprintf("%d backups", removed),
				Details: map[string]string{
					"keep_per_type": fmt.Sprint(p.KeepPerType),
					"max_age":       p.MaxAge.String(),
				},
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return removed, errors.Join(errs...)
}
