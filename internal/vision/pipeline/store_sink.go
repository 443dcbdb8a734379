package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/sequence.report/internal/monitoring"
	"github.com/banshee-data/sequence.report/internal/timeutil"
	"github.com/banshee-data/sequence.report/internal/version"
	"github.com/banshee-data/sequence.report/internal/vision/l3order"
	"github.com/banshee-data/sequence.report/internal/vision/storage/sqlite"
	"github.com/sirupsen/logrus"
)

// StoreSink persists every frame's records to a SQLite store, one
// transaction per frame.
type StoreSink struct {
	ctx     context.Context
	store   *sqlite.Store
	session sqlite.Session
	clock   timeutil.Clock
}

// NewStoreSink creates a session row for order and returns a sink writing
// into it. ctx bounds the session creation only; per-frame writes ignore
// its cancellation so a frame the pipeline applied always reaches the store.
func NewStoreSink(ctx context.Context, store *sqlite.Store, order l3order.Config, clock timeutil.Clock) (*StoreSink, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sess, err := store.CreateSession(ctx, sqlite.NewSession{
		ExpectedOrder:  order.ExpectedOrder,
		ToleranceLimit: order.ToleranceLimit,
		AppVersion:     version.String(),
		StartedAt:      clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	monitoring.WithFields(logrus.Fields{"session_id": sess.ID}).Info("recording session")
	return &StoreSink{ctx: context.WithoutCancel(ctx), store: store, session: sess, clock: clock}, nil
}

// SessionID returns the id of the session row being written.
func (s *StoreSink) SessionID() string { return s.session.ID }

// Consume writes the frame's records.
func (s *StoreSink) Consume(res FrameResult) error {
	if err := s.store.InsertObservations(s.ctx, s.session.ID, res.Records); err != nil {
		return fmt.Errorf("persist frame %d: %w", res.Index, err)
	}
	return nil
}

// Finish records the final correctness map and session outcome. It uses
// ctx rather than the sink's own context so a cancelled run can still be
// closed out.
func (s *StoreSink) Finish(ctx context.Context, sum Summary) error {
	if err := s.store.SaveCorrectness(ctx, s.session.ID, sum.Correctness); err != nil {
		return err
	}
	return s.store.FinishSession(ctx, s.session.ID, sqlite.SessionResult{
		FinishedAt:       s.clock.Now(),
		Frames:           sum.Frames,
		OrderBroken:      sum.OrderBroken,
		ToleranceCounter: sum.ToleranceCounter,
	})
}
