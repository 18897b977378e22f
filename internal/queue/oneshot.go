package queue

import (
	"context"
	"sync"
	"time"

	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

// EnqueueDelayed arms a one-shot job keyed by jobID. One logical job exists
// per id: re-issuing replaces the prior pending fire, which is how edits
// reschedule a reminder without duplicating it.
func (s *Service) EnqueueDelayed(ctx context.Context, jobID string, p Payload, delay time.Duration) error {
	if delay < time.Second {
		delay = time.Second
	}
	runAt := time.Now().Add(delay)

	if s.st != nil {
		err := s.st.PutJob(ctx, store.JobRecord{
			ID:      jobID,
			Kind:    string(p.Kind),
			RunAt:   runAt,
			Payload: p.encode(),
		})
		if err != nil {
			return err
		}
	}
	s.armOneShot(jobID, p, delay)
	s.log.Debug("one-shot armed",
		logx.String("job", jobID),
		logx.Duration("delay", delay))
	return nil
}

// armOneShot installs the timer and definition, replacing any prior one with
// the same id. The version counter makes callbacks from replaced timers
// no-ops even if they were already in flight.
func (s *Service) armOneShot(jobID string, p Payload, delay time.Duration) {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	if t, ok := s.timers[jobID]; ok {
		_ = t.Stop()
		delete(s.timers, jobID)
	}
	ver := s.onceVer[jobID] + 1
	s.onceVer[jobID] = ver
	s.onceAt[jobID] = time.Now().Add(delay)
	s.oncePayload[jobID] = p

	localID := jobID
	localVer := ver
	timer := time.AfterFunc(delay, func() {
		// If the job was removed or replaced, ignore this callback.
		s.tmu.Lock()
		if s.onceVer[localID] != localVer {
			s.tmu.Unlock()
			return
		}
		payload, ok := s.oncePayload[localID]
		// Clean up the definition first so a restart cannot double-fire.
		delete(s.timers, localID)
		delete(s.onceAt, localID)
		delete(s.oncePayload, localID)
		delete(s.onceVer, localID)
		s.tmu.Unlock()
		if !ok {
			return
		}

		if s.st != nil {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.st.DeleteJob(dctx, localID); err != nil {
				s.log.Warn("one-shot record delete failed", logx.String("job", localID), logx.Err(err))
			}
			cancel()
		}
		s.submit(payload)
	})
	s.timers[jobID] = timer
}

// RemoveDelayed cancels the pending one-shot for jobID, if any.
func (s *Service) RemoveDelayed(ctx context.Context, jobID string) bool {
	s.tmu.Lock()
	removed := false
	if t, ok := s.timers[jobID]; ok {
		_ = t.Stop()
		delete(s.timers, jobID)
		removed = true
	}
	if _, ok := s.onceAt[jobID]; ok {
		delete(s.onceAt, jobID)
		delete(s.oncePayload, jobID)
		delete(s.onceVer, jobID)
		removed = true
	}
	s.tmu.Unlock()

	if s.st != nil {
		if err := s.st.DeleteJob(ctx, jobID); err != nil {
			s.log.Warn("one-shot record delete failed", logx.String("job", jobID), logx.Err(err))
		}
	}
	if removed {
		s.log.Debug("one-shot removed", logx.String("job", jobID))
	}
	return removed
}

// RemoveDelayedBulk cancels many pending one-shots. Removal is best-effort
// and parallel: one id failing (or simply being absent) never blocks the
// others, and there is no rollback.
func (s *Service) RemoveDelayedBulk(ctx context.Context, jobIDs []string) int {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
	)
	for _, id := range jobIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.RemoveDelayed(ctx, id) {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return removed
}

// PendingOneShots reports the ids of armed one-shot jobs. Test and
// introspection surface.
func (s *Service) PendingOneShots() []string {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	out := make([]string, 0, len(s.onceAt))
	for id := range s.onceAt {
		out = append(out, id)
	}
	return out
}
