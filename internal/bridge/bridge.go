// Package bridge adapts a pipeline.Runner to line-delimited JSON: one request
// object per input line, one response object per output line, in input order.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/tone-stabilizer/internal/gate"
	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// maxLineBytes bounds a single request line, excluding its newline.
const maxLineBytes = 1 << 20

// ErrMalformedRequest is reported for lines that are not a request object.
var ErrMalformedRequest = errors.New("malformed request")

// #region wire-types
// Request is the wire form of one turn.
type Request struct {
	SessionID  string             `json:"session_id"`
	TurnID     string             `json:"turn_id"`
	Raw        []float64          `json:"raw"`
	Features   map[string]float64 `json:"features,omitempty"`
	Confidence float64            `json:"confidence"`
	Block      bool               `json:"block,omitempty"`
	Level      string             `json:"level,omitempty"`
	Affects    []string           `json:"affects,omitempty"`
	Text       string             `json:"text,omitempty"`
}

// Response is the wire form of one turn's outcome. Error is set alone on failure.
type Response struct {
	SessionID        string       `json:"session_id,omitempty"`
	TurnID           string       `json:"turn_id,omitempty"`
	FusedTone        *tone.Vector `json:"fused_tone,omitempty"`
	WarmthIndex      *float64     `json:"warmth_index,omitempty"`
	Block            bool         `json:"block"`
	Level            gate.Level   `json:"level,omitempty"`
	EmpathyPreserved bool         `json:"empathy_preserved"`
	Reason           string       `json:"reason,omitempty"`
	ChangePoint      bool         `json:"change_point"`
	Regularized      bool         `json:"regularized"`
	VersionID        string       `json:"version_id,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// ToTurn converts the wire request into a pipeline turn.
func (r *Request) ToTurn() pipeline.Turn {
	var features tone.Features
	if r.Features != nil {
		features = tone.Features(r.Features)
	}
	return pipeline.Turn{
		TurnID:     r.TurnID,
		Raw:        r.Raw,
		Features:   features,
		Confidence: r.Confidence,
		Verdict:    gate.Verdict{Block: r.Block, Level: gate.Level(r.Level)},
		Affects:    r.Affects,
		Text:       r.Text,
	}
}

// FromResponse converts a runner response into its wire form.
func FromResponse(resp pipeline.Response) Response {
	out := Response{SessionID: resp.SessionID, TurnID: resp.TurnID}
	if resp.Err != nil {
		out.Error = resp.Err.Error()
		return out
	}
	f := resp.Result.Fusion
	fused, warmth := f.FusedTone, f.WarmthIndex
	out.FusedTone = &fused
	out.WarmthIndex = &warmth
	out.Block = f.Block
	out.Level = f.SafetyLevel
	out.EmpathyPreserved = f.EmpathyPreserved
	out.Reason = f.Reason
	out.ChangePoint = resp.Result.Diagnostics.ChangePoint
	out.Regularized = resp.Result.Diagnostics.Regularized
	out.VersionID = resp.VersionID
	return out
}

// #endregion wire-types

// #region serve
// Server reads request lines and writes response lines.
type Server struct {
	runner    *pipeline.Runner
	batchSize int
	log       zerolog.Logger
}

// NewServer creates a bridge. At most batchSize lines go to one RunBatch;
// values below 1 mean 1.
func NewServer(runner *pipeline.Runner, batchSize int, log zerolog.Logger) *Server {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Server{runner: runner, batchSize: batchSize, log: log}
}

// slot is one input line: either a decoded request or a decode failure.
type slot struct {
	req pipeline.Request
	err error
}

// lineMsg is one framed input line. err is set alone on the final message.
type lineMsg struct {
	line    []byte
	tooLong bool
	err     error
}

// Serve runs until r is exhausted, ctx is done or a batch fails. Pending lines
// are flushed as soon as no further line is immediately available, so a
// caller that writes one request and waits gets its answer. A store failure
// aborts with the error after the partial batch has been written.
//
// The reader goroutine stays blocked in r.Read after cancellation until r
// returns; closing r releases it.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	done := make(chan struct{})
	defer close(done)
	lines := make(chan lineMsg, s.batchSize)
	go readLines(r, lines, done)

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	batch := make([]slot, 0, s.batchSize)
	lineNo := 0

	for {
		var msg lineMsg
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg = <-lines:
			}
		} else {
			select {
			case msg = <-lines:
			default:
				if err := s.flush(ctx, batch, enc, bw); err != nil {
					return err
				}
				batch = batch[:0]
				continue
			}
		}

		if msg.err != nil {
			if len(batch) > 0 {
				if err := s.flush(ctx, batch, enc, bw); err != nil {
					return err
				}
			}
			if errors.Is(msg.err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read requests: %w", msg.err)
		}

		lineNo++
		switch {
		case msg.tooLong:
			batch = append(batch, slot{err: fmt.Errorf("%w: line %d: exceeds %d bytes", ErrMalformedRequest, lineNo, maxLineBytes)})
		case len(bytes.TrimSpace(msg.line)) == 0:
			continue
		default:
			batch = append(batch, decodeLine(msg.line, lineNo))
		}
		if len(batch) == s.batchSize {
			if err := s.flush(ctx, batch, enc, bw); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

// readLines frames r into newline-terminated lines. Lines above maxLineBytes
// are discarded up to their newline and reported as tooLong. The last
// message carries the read error, io.EOF on a clean end.
func readLines(r io.Reader, out chan<- lineMsg, done <-chan struct{}) {
	br := bufio.NewReaderSize(r, 64*1024)
	send := func(m lineMsg) bool {
		select {
		case out <- m:
			return true
		case <-done:
			return false
		}
	}
	for {
		var line []byte
		tooLong := false
		var err error
		for {
			var chunk []byte
			chunk, err = br.ReadSlice('\n')
			if !tooLong {
				if len(line)+len(bytes.TrimSuffix(chunk, []byte("\n"))) > maxLineBytes {
					tooLong, line = true, nil
				} else {
					line = append(line, chunk...)
				}
			}
			if err != bufio.ErrBufferFull {
				break
			}
		}
		if len(line) > 0 || tooLong {
			if !send(lineMsg{line: bytes.TrimRight(line, "\r\n"), tooLong: tooLong}) {
				return
			}
		}
		if err != nil {
			send(lineMsg{err: err})
			return
		}
	}
}

func decodeLine(line []byte, lineNo int) slot {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return slot{err: fmt.Errorf("%w: line %d: %v", ErrMalformedRequest, lineNo, err)}
	}
	return slot{req: pipeline.Request{SessionID: req.SessionID, Turn: req.ToTurn()}}
}

func (s *Server) flush(ctx context.Context, batch []slot, enc *json.Encoder, bw *bufio.Writer) error {
	reqs := make([]pipeline.Request, 0, len(batch))
	for _, sl := range batch {
		if sl.err == nil {
			reqs = append(reqs, sl.req)
		}
	}

	resps, runErr := s.runner.RunBatch(ctx, reqs)
	if runErr != nil {
		s.log.Error().Err(runErr).Int("batch", len(reqs)).Msg("batch aborted")
	}

	next := 0
	for _, sl := range batch {
		var out Response
		if sl.err != nil {
			out = Response{Error: sl.err.Error()}
		} else {
			resp := resps[next]
			next++
			if runErr != nil && resp.Err == nil && resp.VersionID == "" {
				resp.Err = runErr
			}
			out = FromResponse(resp)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush responses: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("run batch: %w", runErr)
	}
	return nil
}

// #endregion serve
