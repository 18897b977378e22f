package queue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"wellbeat/internal/cronspec"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

// EnqueueRepeatable registers a recurring trigger keyed by jobID. Re-issuing
// with the same jobID replaces the previous registration (last write wins).
// The expression runs in loc, the fixed zone carried by the reminder's own
// UTC offset.
func (s *Service) EnqueueRepeatable(ctx context.Context, jobID string, p Payload, expr cronspec.Expr, loc *time.Location) error {
	exprStr := expr.String()
	offset := cronspec.OffsetSeconds(loc)

	if err := s.registerRepeat(jobID, p, exprStr, offset); err != nil {
		return err
	}
	if s.st != nil {
		err := s.st.PutJob(ctx, store.JobRecord{
			ID:       jobID,
			Kind:     string(p.Kind),
			Repeat:   true,
			Expr:     exprStr,
			TZOffset: offset,
			Payload:  p.encode(),
		})
		if err != nil {
			return err
		}
	}
	s.log.Debug("repeatable registered",
		logx.String("job", jobID),
		logx.String("expr", exprStr),
		logx.String("tz", cronspec.ZoneFromOffset(offset).String()))
	return nil
}

// registerRepeat installs the cron entry. It validates the expression first
// so a bad spec never half-registers.
func (s *Service) registerRepeat(jobID string, p Payload, exprStr string, offset int) error {
	if _, err := s.parser.Parse(exprStr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeRepeatLocked(jobID)

	c := s.runners[offset]
	if c == nil {
		c = cron.New(cron.WithParser(s.parser), cron.WithLocation(cronspec.ZoneFromOffset(offset)))
		s.runners[offset] = c
		if s.stopCh != nil {
			c.Start()
		}
	}

	payload := p
	entryID, err := c.AddFunc(exprStr, func() { s.submit(payload) })
	if err != nil {
		return err
	}
	s.repeats[jobID] = repeatDef{
		jobID:   jobID,
		expr:    exprStr,
		offset:  offset,
		payload: p,
		entryID: entryID,
	}
	return nil
}

// ListRepeatable snapshots every live repeatable registration. Callers that
// only know a reminder id match against JobID; the queue keeps no secondary
// index, so this is deliberately a linear surface.
func (s *Service) ListRepeatable() []RepeatableInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RepeatableInfo, 0, len(s.repeats))
	for _, def := range s.repeats {
		out = append(out, RepeatableInfo{
			Key:   def.key(),
			JobID: def.jobID,
			Expr:  def.expr,
			Zone:  cronspec.ZoneFromOffset(def.offset).String(),
		})
	}
	return out
}

// RemoveRepeatableByKey cancels the registration matching a key from
// ListRepeatable. It reports whether anything was removed.
func (s *Service) RemoveRepeatableByKey(ctx context.Context, key string) bool {
	s.mu.Lock()
	var jobID string
	for id, def := range s.repeats {
		if def.key() == key {
			jobID = id
			break
		}
	}
	if jobID == "" {
		s.mu.Unlock()
		return false
	}
	s.removeRepeatLocked(jobID)
	s.mu.Unlock()

	if s.st != nil {
		if err := s.st.DeleteJob(ctx, jobID); err != nil {
			s.log.Warn("repeatable record delete failed", logx.String("job", jobID), logx.Err(err))
		}
	}
	s.log.Debug("repeatable removed", logx.String("job", jobID))
	return true
}

// removeRepeatLocked drops the cron entry and definition for jobID.
// Call with s.mu held.
func (s *Service) removeRepeatLocked(jobID string) {
	def, ok := s.repeats[jobID]
	if !ok {
		return
	}
	if c := s.runners[def.offset]; c != nil && def.entryID != 0 {
		c.Remove(def.entryID)
	}
	delete(s.repeats, jobID)
}
