package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/tone-stabilizer/internal/gate"
	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/state"
)

const trajectoryInput = `{"session_id":"s1","turn_id":"t1","raw":[0.5,0.5,0.5],"features":{"worry":0.1},"confidence":1}
{"session_id":"s1","turn_id":"t2","raw":[0.9,0.9,0.9],"features":{"worry":0.1},"confidence":1}

{"session_id":"s1","turn_id":"t3","raw":[0.9,0.9,0.9],"features":{"worry":0.7},"confidence":1}
{"session_id":"s1","turn_id":"t4","raw":[0.6,0.6,0.6],"features":{"worry":0.7},"confidence":1,"block":true,"level":"red"}
{"session_id":"s1","turn_id":"t5","raw":[0.5,0.5],"confidence":1}
`

func newServer(t *testing.T, store state.Store, batch int) *Server {
	t.Helper()
	p, err := pipeline.New(pipeline.DefaultConfig())
	require.NoError(t, err)
	return NewServer(pipeline.NewRunner(p, store), batch, zerolog.Nop())
}

func decodeAll(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var resps []Response
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		resps = append(resps, r)
	}
	return resps
}

func TestServe_Trajectory(t *testing.T) {
	for _, batch := range []int{1, 2, 32} {
		var out bytes.Buffer
		err := newServer(t, state.NewMemoryStore(), batch).Serve(context.Background(), strings.NewReader(trajectoryInput), &out)
		require.NoError(t, err)

		resps := decodeAll(t, &out)
		require.Len(t, resps, 5, "batch %d", batch)
		for i, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
			assert.Equal(t, id, resps[i].TurnID)
		}

		assert.False(t, resps[1].Regularized)
		assert.True(t, resps[2].ChangePoint)
		assert.True(t, resps[2].Regularized)
		require.NotNil(t, resps[2].WarmthIndex)
		assert.InDelta(t, 0.45625, *resps[2].WarmthIndex, 1e-9)
		assert.NotEmpty(t, resps[2].VersionID)

		assert.True(t, resps[3].Block)
		assert.Equal(t, gate.LevelRed, resps[3].Level)
		require.NotNil(t, resps[3].WarmthIndex)
		assert.InDelta(t, 0.5, *resps[3].WarmthIndex, 1e-12)

		assert.Contains(t, resps[4].Error, "invalid dimensionality")
		assert.Nil(t, resps[4].FusedTone)
	}
}

func TestServe_MalformedLineKeepsOrder(t *testing.T) {
	in := `{"session_id":"s1","turn_id":"a","raw":[0.5,0.5,0.5],"confidence":1}
not json
{"session_id":"s1","turn_id":"b","raw":[0.5,0.5,0.5],"confidence":1}
`
	var out bytes.Buffer
	store := state.NewMemoryStore()
	require.NoError(t, newServer(t, store, 8).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, &out)
	require.Len(t, resps, 3)
	assert.Equal(t, "a", resps[0].TurnID)
	assert.Contains(t, resps[1].Error, "malformed request")
	assert.Contains(t, resps[1].Error, "line 2")
	assert.Equal(t, "b", resps[2].TurnID)

	snap, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.State.Turns)
}

func TestServe_EmptyInput(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newServer(t, state.NewMemoryStore(), 4).Serve(context.Background(), strings.NewReader(""), &out))
	assert.Zero(t, out.Len())
}

type brokenStore struct{ *state.MemoryStore }

var errStoreDown = errors.New("store down")

func (brokenStore) Commit(context.Context, *state.Snapshot) error { return errStoreDown }

func TestServe_StoreFailureAborts(t *testing.T) {
	in := `{"session_id":"s1","turn_id":"a","raw":[0.5,0.5,0.5],"confidence":1}
{"session_id":"s1","turn_id":"b","raw":[0.5,0.5,0.5],"confidence":1}
`
	var out bytes.Buffer
	err := newServer(t, brokenStore{state.NewMemoryStore()}, 1).Serve(context.Background(), strings.NewReader(in), &out)
	require.ErrorIs(t, err, errStoreDown)

	resps := decodeAll(t, &out)
	require.Len(t, resps, 1, "nothing after the failed batch is processed")
	assert.Contains(t, resps[0].Error, "store down")
}

const validLine = `{"session_id":"s1","turn_id":"%s","raw":[0.5,0.5,0.5],"confidence":1}` + "\n"

func TestServe_OversizedLineAnsweredInPlace(t *testing.T) {
	in := fmt.Sprintf(validLine, "a") + fmt.Sprintf(validLine, "b") +
		strings.Repeat("x", maxLineBytes+1) + "\n" + fmt.Sprintf(validLine, "c")
	var out bytes.Buffer
	store := state.NewMemoryStore()
	require.NoError(t, newServer(t, store, 32).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, &out)
	require.Len(t, resps, 4)
	assert.Equal(t, "a", resps[0].TurnID)
	assert.Equal(t, "b", resps[1].TurnID)
	assert.Contains(t, resps[2].Error, "malformed request")
	assert.Contains(t, resps[2].Error, "line 3")
	assert.Equal(t, "c", resps[3].TurnID)
	assert.Empty(t, resps[3].Error)

	snap, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.State.Turns)
}

func TestServe_OversizedFinalLineWithoutNewline(t *testing.T) {
	in := fmt.Sprintf(validLine, "a") + strings.Repeat("x", maxLineBytes+1)
	var out bytes.Buffer
	require.NoError(t, newServer(t, state.NewMemoryStore(), 4).Serve(context.Background(), strings.NewReader(in), &out))

	resps := decodeAll(t, &out)
	require.Len(t, resps, 2)
	assert.Equal(t, "a", resps[0].TurnID)
	assert.Contains(t, resps[1].Error, "malformed request")
}

func TestServe_ReadErrorFlushesPending(t *testing.T) {
	errBoom := errors.New("stdin gone")
	in := io.MultiReader(strings.NewReader(fmt.Sprintf(validLine, "a")+fmt.Sprintf(validLine, "b")), iotest.ErrReader(errBoom))
	var out bytes.Buffer
	store := state.NewMemoryStore()
	err := newServer(t, store, 32).Serve(context.Background(), in, &out)
	require.ErrorIs(t, err, errBoom)

	resps := decodeAll(t, &out)
	require.Len(t, resps, 2)
	assert.Equal(t, "b", resps[1].TurnID)
	snap, _ := store.Get(context.Background(), "s1")
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.State.Turns)
}

// A caller that writes one request and waits must get its answer without
// closing the stream or filling a batch.
func TestServe_AnswersEachLineWithoutWaitingForBatch(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv := newServer(t, state.NewMemoryStore(), 32)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(context.Background(), inR, outW)
		outW.Close()
	}()

	replies := bufio.NewReader(outR)
	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := io.WriteString(inW, fmt.Sprintf(validLine, id))
		require.NoError(t, err)

		got := make(chan string, 1)
		go func() {
			line, _ := replies.ReadString('\n')
			got <- line
		}()
		select {
		case line := <-got:
			var r Response
			require.NoError(t, json.Unmarshal([]byte(line), &r))
			assert.Equal(t, id, r.TurnID)
			assert.Empty(t, r.Error)
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply to %s", id)
		}
	}

	require.NoError(t, inW.Close())
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after input closed")
	}
}

func TestServe_ReturnsOnCancelWhileIdle(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- newServer(t, state.NewMemoryStore(), 32).Serve(ctx, inR, io.Discard)
	}()
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept blocking on input after cancel")
	}
}

func TestServe_CancelAfterAnswering(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- newServer(t, state.NewMemoryStore(), 32).Serve(ctx, inR, outW)
		outW.Close()
	}()

	go func() { _, _ = io.WriteString(inW, fmt.Sprintf(validLine, "a")) }()
	line, err := bufio.NewReader(outR).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"turn_id":"a"`)

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestFromResponse_Error(t *testing.T) {
	got := FromResponse(pipeline.Response{SessionID: "s", TurnID: "t", Err: pipeline.ErrMissingSession})
	assert.Equal(t, Response{SessionID: "s", TurnID: "t", Error: pipeline.ErrMissingSession.Error()}, got)
}
