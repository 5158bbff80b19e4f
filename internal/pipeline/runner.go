package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/tone-stabilizer/internal/logging"
	"github.com/danielpatrickdp/tone-stabilizer/internal/state"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// ErrMissingSession is returned for a request without a session ID.
var ErrMissingSession = errors.New("missing session id")

// DefaultWorkers bounds how many sessions a batch processes at once.
const DefaultWorkers = 4

// #region runner-types
// Request is one turn addressed to a session.
type Request struct {
	SessionID string
	Turn      Turn
}

// Response is the outcome of one Request. Exactly one of Result or Err is meaningful.
type Response struct {
	SessionID string
	TurnID    string
	VersionID string // snapshot committed by this turn
	Result    Result
	Err       error
}

// Journal receives one entry per processed turn.
type Journal interface {
	Append(ctx context.Context, entry logging.TurnEntry) error
}

// #endregion runner-types

// #region runner
// Runner drives a Pipeline over a state.Store. Sessions run concurrently;
// turns of one session run strictly in submission order.
type Runner struct {
	pipeline *Pipeline
	store    state.Store
	journal  Journal
	workers  int
	log      zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers bounds concurrent sessions. Values below 1 mean DefaultWorkers.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithJournal records every turn.
func WithJournal(j Journal) RunnerOption {
	return func(r *Runner) { r.journal = j }
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a runner.
func NewRunner(p *Pipeline, store state.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline: p,
		store:    store,
		workers:  DefaultWorkers,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = DefaultWorkers
	}
	return r
}

// RunBatch processes reqs and returns one response per request, in input order.
// Turn-level failures land in Response.Err and leave that session untouched.
// A store failure or cancellation aborts the batch and is returned as the error;
// responses for turns already committed are still filled in.
func (r *Runner) RunBatch(ctx context.Context, reqs []Request) ([]Response, error) {
	out := make([]Response, len(reqs))

	var order []string
	groups := make(map[string][]int)
	for i, req := range reqs {
		out[i] = Response{SessionID: req.SessionID, TurnID: req.Turn.TurnID}
		if req.SessionID == "" {
			out[i].Err = ErrMissingSession
			continue
		}
		if _, ok := groups[req.SessionID]; !ok {
			order = append(order, req.SessionID)
		}
		groups[req.SessionID] = append(groups[req.SessionID], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, sid := range order {
		idxs := groups[sid]
		g.Go(func() error {
			return r.runSession(gctx, sid, idxs, reqs, out)
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// runSession owns out[i] for every i in idxs.
func (r *Runner) runSession(ctx context.Context, sessionID string, idxs []int, reqs []Request, out []Response) error {
	snap, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if snap == nil {
		snap = &state.Snapshot{SessionID: sessionID, State: tone.NewSessionState()}
	}

	for _, i := range idxs {
		if err := ctx.Err(); err != nil {
			return err
		}
		turn := reqs[i].Turn

		res, next, err := r.pipeline.Process(ctx, snap.State, turn)
		if err != nil {
			out[i].Err = err
			r.appendJournal(ctx, logging.TurnEntry{
				SessionID: sessionID,
				TurnID:    turn.TurnID,
				Action:    logging.ActionError,
				Reason:    err.Error(),
			})
			continue
		}

		snap.State = next
		if err := r.store.Commit(ctx, snap); err != nil {
			return fmt.Errorf("commit session %s: %w", sessionID, err)
		}
		out[i].Result = res
		out[i].VersionID = snap.VersionID

		entry := logging.TurnEntry{
			SessionID: sessionID,
			TurnID:    turn.TurnID,
			VersionID: snap.VersionID,
			Action:    logging.ActionEmit,
			Reason:    res.Fusion.Reason,
		}
		if res.Fusion.Block {
			entry.Action = logging.ActionBlocked
		}
		if b, err := json.Marshal(r.pipeline.Record(res)); err == nil {
			entry.RecordJSON = string(b)
		}
		r.appendJournal(ctx, entry)
	}
	return nil
}

// appendJournal never fails the turn; the snapshot is already committed.
func (r *Runner) appendJournal(ctx context.Context, entry logging.TurnEntry) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Append(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("session_id", entry.SessionID).Str("turn_id", entry.TurnID).Msg("journal append failed")
	}
}

// #endregion runner
