package session

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/types"
)

// writeWait bounds how long a single frame write may take.
const writeWait = 10 * time.Second

// writePump drains the outbound queue onto the wire. With batching enabled
// it collects up to batchSize envelopes, or whatever arrived within
// batchInterval of the first one, and writes them as a single frame. Enqueue
// order is preserved. On close it makes a final best-effort flush, writes
// the close frame, and closes the transport, which unblocks the reader.
func (s *Session) writePump() {
	defer s.wg.Done()
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			s.flushRemaining()
			s.writeCloseFrame()
			return
		case env := <-s.out:
			batch := s.collectBatch(env)
			if err := s.writeBatch(batch); err != nil {
				logging.Warn(s.ctx, "Outbound write failed", zap.Error(err))
				s.Close(types.CloseReasonTransportError)
				return
			}
		}
	}
}

// collectBatch gathers envelopes behind first until the batch is full or
// batchInterval has elapsed since the first envelope was picked up.
func (s *Session) collectBatch(first protocol.Envelope) []protocol.Envelope {
	ws := s.deps.Cfg.WebSocket
	if !ws.EnableBatching || ws.BatchSize <= 1 {
		return []protocol.Envelope{first}
	}

	batch := make([]protocol.Envelope, 1, ws.BatchSize)
	batch[0] = first

	timer := time.NewTimer(ws.BatchInterval)
	defer timer.Stop()

	for len(batch) < ws.BatchSize {
		select {
		case env := <-s.out:
			batch = append(batch, env)
		case <-timer.C:
			return batch
		case <-s.done:
			return batch
		}
	}
	return batch
}

// writeBatch encodes the batch as one frame: a bare envelope object for a
// batch of one, a JSON array otherwise.
func (s *Session) writeBatch(batch []protocol.Envelope) error {
	var (
		data []byte
		err  error
	)
	if len(batch) == 1 {
		data, err = json.Marshal(batch[0])
	} else {
		data, err = json.Marshal(batch)
	}
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// flushRemaining drains whatever is already queued without blocking for
// more. Write failures end the flush early; the connection is going away
// anyway.
func (s *Session) flushRemaining() {
	for {
		select {
		case env := <-s.out:
			if err := s.writeBatch([]protocol.Envelope{env}); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) writeCloseFrame() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(s.CloseReason()))
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
}
