package codec

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// EmbedMethod is the full gRPC method name of the embedding RPC.
const EmbedMethod = "/tone.v1.EmbeddingService/Embed"

// ErrMalformedResponse is returned when the service replies without a usable embedding.
var ErrMalformedResponse = errors.New("malformed embed response")

// #region client-struct
// EmbedClient talks to a remote embedding model over gRPC. Requests and
// responses are google.protobuf.Struct messages: {"text": "..."} in and
// {"embedding": [...]} out.
type EmbedClient struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// #endregion client-struct

// #region constructor
// NewEmbedClient connects to the embedding service at addr.
func NewEmbedClient(addr string) (*EmbedClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &EmbedClient{conn: conn, closer: conn.Close}, nil
}

// NewEmbedClientWithConn wraps an existing connection. Close becomes a no-op;
// the caller owns conn.
func NewEmbedClientWithConn(conn grpc.ClientConnInterface) *EmbedClient {
	return &EmbedClient{conn: conn}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if this client opened it.
func (c *EmbedClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// #endregion close

// #region embed
// Embed sends text to the embedding service. It satisfies affinity.Embedder.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, EmbedMethod, req, resp); err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	return decodeEmbedding(resp)
}

func decodeEmbedding(resp *structpb.Struct) ([]float32, error) {
	field, ok := resp.GetFields()["embedding"]
	if !ok {
		return nil, fmt.Errorf("%w: missing embedding field", ErrMalformedResponse)
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: embedding is not a list", ErrMalformedResponse)
	}
	out := make([]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is not a number", ErrMalformedResponse, i)
		}
		out[i] = float32(n.NumberValue)
	}
	return out, nil
}

// #endregion embed
