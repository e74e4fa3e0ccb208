package session

import (
	"errors"
	"mini-lsp/message"
	"mini-lsp/protocol"
)

// recvLoop is the only reader of the stream. TCP is a byte stream, reads must be
// sequential to keep frame boundaries, so every frame goes through here.
func (s *Session) recvLoop() {
	defer close(s.recvDone)
	for {
		body, err := s.dec.Decode()
		if err != nil {
			s.shutdown(err)
			return
		}
		msg, err := message.Parse(body)
		if err != nil {
			// No way to find the next frame boundary reliably after a bad body
			s.shutdown(err)
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg *message.Message) {
	switch msg.Kind() {
	case message.KindResponse:
		if respChan, ok := s.take(msg.ID); ok {
			respChan <- msg
			return
		}
		s.deliver(msg)
	case message.KindRequest:
		if s.reqHandler != nil {
			s.serveRequest(msg)
			return
		}
		s.deliver(msg)
	default:
		s.deliver(msg)
	}
}

// take removes and returns the waiter for id. A response for an abandoned id is
// drained here and reported as untracked.
func (s *Session) take(id *message.ID) (chan *message.Message, bool) {
	if id == nil {
		return nil, false
	}
	n, ok := id.Int()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if respChan, ok := s.pending[n]; ok {
		delete(s.pending, n)
		return respChan, true
	}
	if _, late := s.abandoned[n]; late {
		delete(s.abandoned, n)
		s.logger.Debug("late response for abandoned call", "id", n)
	}
	return nil, false
}

func (s *Session) deliver(msg *message.Message) {
	if s.sink == nil {
		s.logger.Debug("dropping unrouted frame", "kind", msg.Kind().String(), "method", msg.Method)
		return
	}
	s.sink(msg)
}

// serveRequest answers a server-to-client request on its own goroutine, so a
// handler may itself call back into the session.
func (s *Session) serveRequest(req *message.Message) {
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		result, err := s.reqHandler(s.ctx, req)
		var rpcErr *message.Error
		switch {
		case err == nil:
		case errors.As(err, &rpcErr):
		default:
			rpcErr = message.NewError(message.CodeInternalError, "%v", err)
		}
		if err := s.Reply(*req.ID, result, rpcErr); err != nil {
			s.logger.Warn("reply to server request failed", "method", req.Method, "error", err)
		}
	}()
}

// shutdown records the terminal error once, wakes every pending caller and
// releases the stream. Closing the stream also unblocks recvLoop.
func (s *Session) shutdown(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	pending := s.pending
	s.pending = make(map[int64]chan *message.Message)
	s.abandoned = make(map[int64]struct{})
	s.mu.Unlock()

	switch {
	case errors.Is(err, ErrClosed):
		s.logger.Debug("session closed", "pending", len(pending))
	case errors.Is(err, protocol.ErrConnectionClosed) && len(pending) == 0:
		s.logger.Info("server closed the stream")
	default:
		s.logger.Error("session terminated", "error", err, "pending", len(pending))
	}

	for _, respChan := range pending {
		close(respChan)
	}
	s.cancel()
	if cerr := s.conn.Close(); cerr != nil {
		s.logger.Debug("close stream", "error", cerr)
	}
	close(s.done)
}
