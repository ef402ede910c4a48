package hostproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mgpai22/uplcgate"
)

// Gateway is the part of *uplcgate.Gateway the server dispatches to.
type Gateway interface {
	ApplyParams(ctx context.Context, script, params []byte) uplcgate.Result[[]byte]
	EvalPhaseTwo(ctx context.Context, req uplcgate.EvalRequest) uplcgate.Result[uplcgate.EvalResponse]
	EvalWithPhaseOne(ctx context.Context, req uplcgate.EvalRequest) uplcgate.Result[uplcgate.EvalResponse]
}

var _ Gateway = (*uplcgate.Gateway)(nil)

// Server answers host requests one frame at a time.
type Server struct {
	gateway      Gateway
	maxFrameSize uint32
	logger       *zap.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxFrameSize sets the largest request frame accepted (default:
// uplcgate.DefaultMaxFrameSize).
func WithMaxFrameSize(size uint32) ServerOption {
	return func(s *Server) {
		s.maxFrameSize = size
	}
}

// WithServerLogger sets the server's logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer returns a Server dispatching to gw.
func NewServer(gw Gateway, opts ...ServerOption) *Server {
	s := &Server{
		gateway:      gw,
		maxFrameSize: uplcgate.DefaultMaxFrameSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads request frames from r and writes one response frame to w for
// each, until r ends or ctx is done. Requests are handled in order and never
// overlap. A clean end of r returns nil; once ctx is done Serve returns
// ctx.Err(). If r is an io.Closer it is closed when ctx is done, so that a
// read blocked on an idle host returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := ReadFrame(br, s.maxFrameSize)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		var resp []byte
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, ErrFrameTooLarge):
			s.logger.Warn("rejecting oversized frame", zap.Error(err))
			resp = mustEncodeFailure(TagBadarg, err.Error())
		case err != nil:
			return fmt.Errorf("read frame: %w", err)
		default:
			resp = s.Handle(ctx, frame)
		}

		if err := WriteFrame(bw, resp); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
}

// Handle decodes one request frame, runs it and returns the encoded response.
func (s *Server) Handle(ctx context.Context, frame []byte) []byte {
	req, err := DecodeRequest(frame)
	if err != nil {
		s.logger.Warn("malformed request", zap.Error(err))
		return mustEncodeFailure(TagBadarg, err.Error())
	}

	var resp []byte
	switch req.Op {
	case uplcgate.OpApplyParams:
		resp, err = EncodeApplyResult(s.gateway.ApplyParams(ctx, req.Script, req.Params))
	case uplcgate.OpEvalPhaseTwo:
		resp, err = EncodeEvalResult(s.gateway.EvalPhaseTwo(ctx, req.Eval))
	case uplcgate.OpEvalWithPhaseOne:
		resp, err = EncodeEvalResult(s.gateway.EvalWithPhaseOne(ctx, req.Eval))
	}
	if err != nil {
		s.logger.Error("failed to encode response", zap.String("op", req.Op), zap.Error(err))
		return mustEncodeFailure(TagError, "failed to encode response: "+err.Error())
	}
	return resp
}

// mustEncodeFailure encodes a two-element array of text strings, which
// cannot fail.
func mustEncodeFailure(tag, reason string) []byte {
	b, err := EncodeFailure(tag, reason)
	if err != nil {
		panic(err)
	}
	return b
}
