package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"meshroster/internal/domain"
	"meshroster/internal/engine"
	"meshroster/internal/identity"
	"meshroster/internal/repository"
)

// CommitRequest asks for an allocation pass over a set of candidates
type CommitRequest struct {
	// Candidates to validate in order; when empty the configured scanner supplies them
	Candidates    []string              `json:"candidates,omitempty"`
	Mode          domain.AllocationMode `json:"allocation_mode"`
	ManualPrimary string                `json:"manual_primary,omitempty"`
	AutoCommit    bool                  `json:"auto_commit"`
}

// Commit validates every candidate in order, plans roles among those that
// answered and, when AutoCommit is set, applies the plan to the roster.
// Telemetry capture afterwards is best-effort and only produces warnings.
func (s *RosterService) Commit(ctx context.Context, req CommitRequest) *domain.CommitOutcome {
	outcome := &domain.CommitOutcome{DryRun: !req.AutoCommit, Available: []string{}}

	candidates := req.Candidates
	if len(candidates) == 0 && s.scanner != nil {
		scanned, err := s.scanner.Scan(ctx)
		if err != nil {
			outcome.Warn("", "scan", err.Error())
			s.logger.Warn("candidate scan failed", zap.Error(err))
		}
		candidates = scanned
	}

	for _, id := range uniqueCandidates(candidates) {
		if ctx.Err() != nil {
			outcome.Warn(id, "validate", "skipped: "+engine.ReasonCancelled)
			continue
		}
		res := s.validator.Validate(ctx, id, "")
		outcome.Attempts = append(outcome.Attempts, domain.Attempt{
			Device:  id,
			OK:      res.OK,
			Reason:  res.Reason,
			Kind:    res.Kind,
			Variant: res.Variant,
			Raw:     truncate(res.Raw, 1000),
		})
		if res.OK {
			outcome.Available = append(outcome.Available, id)
		}
	}

	outcome.Allocation = engine.Plan(outcome.Available, req.Mode, req.ManualPrimary)
	outcome.Assignments = outcome.Allocation.Assignments(identity.KindOf)

	log := s.logger.With(
		zap.String("mode", string(outcome.Allocation.Mode)),
		zap.String("primary", outcome.Allocation.Primary),
		zap.Int("secondaries", len(outcome.Allocation.Secondaries)))

	if !req.AutoCommit {
		log.Info("allocation planned (dry run)")
		return outcome
	}
	if ctx.Err() != nil {
		log.Warn("commit abandoned, validation did not finish", zap.Error(ctx.Err()))
		outcome.Fail(domain.FailureUnreachable, "commit skipped: "+engine.ReasonCancelled)
		return outcome
	}

	s.commitMu.Lock()
	snap, err := s.repo.ApplyAllocation(ctx, outcome.Allocation, outcome.Assignments)
	s.commitMu.Unlock()
	if err != nil {
		log.Error("commit failed, rolled back", zap.Error(err))
		outcome.Fail(domain.FailureStorage, fmt.Sprintf("commit failed: %v", err))
		return outcome
	}

	outcome.Committed = true
	outcome.SnapshotID = snap.ID
	outcome.Upserted = len(outcome.Assignments)
	log.Info("allocation committed",
		zap.Int64("snapshot", snap.ID),
		zap.Int("upserts", outcome.Upserted))
	s.eventBus.Publish(Event{Type: EventAllocationCommitted, Payload: outcome.Allocation})

	for _, a := range outcome.Assignments {
		if err := s.captureTelemetry(ctx, a.NodeID); err != nil {
			outcome.Warn(a.NodeID, "telemetry", err.Error())
			s.logger.Warn("telemetry capture skipped",
				zap.String("device", a.NodeID),
				zap.Error(err))
		}
	}
	return outcome
}

// Undo restores the roster from the most recent commit snapshot.
// Repeating it without an intervening commit restores the same snapshot.
func (s *RosterService) Undo(ctx context.Context) domain.UndoResult {
	s.commitMu.Lock()
	snap, err := s.repo.RestoreLatestSnapshot(ctx)
	s.commitMu.Unlock()

	switch {
	case errors.Is(err, repository.ErrNoHistory):
		return domain.UndoResult{Reason: repository.ErrNoHistory.Error(), Kind: domain.FailureNoHistory}
	case err != nil:
		s.logger.Error("undo failed, rolled back", zap.Error(err))
		return domain.UndoResult{Reason: fmt.Sprintf("undo failed: %v", err), Kind: domain.FailureStorage}
	}

	created := snap.CreatedAt
	s.logger.Info("commit undone",
		zap.Int64("snapshot", snap.ID),
		zap.Time("snapshot_created_at", created),
		zap.Int("devices", len(snap.Devices)))
	s.eventBus.Publish(Event{Type: EventCommitUndone, Payload: map[string]any{
		"snapshot_id": snap.ID,
		"devices":     len(snap.Devices),
	}})

	return domain.UndoResult{
		OK:         true,
		Reason:     fmt.Sprintf("restored snapshot %d", snap.ID),
		SnapshotID: snap.ID,
		RestoredAt: &created,
		Restored:   len(snap.Devices),
	}
}

// uniqueCandidates drops empty and repeated ids, keeping first-seen order
func uniqueCandidates(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
