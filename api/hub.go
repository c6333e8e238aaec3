package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gorilla/websocket"
	"github.com/matt-g-everett/genstream/stream"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

const (
	viewerQueueSize = 8
	viewerWriteWait = 5 * time.Second
)

// Hub is a FrameSink that broadcasts encoded frames to WebSocket viewers.
// A viewer that falls behind is disconnected rather than slowing the sender.
type Hub struct {
	upgrader websocket.Upgrader

	locker  xsync.Mutex
	viewers map[*viewer]struct{}
}

var _ stream.FrameSink = (*Hub)(nil)

type viewer struct {
	addr string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an instance of a Hub.
func NewHub() *Hub {
	h := new(Hub)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	h.viewers = make(map[*viewer]struct{})
	return h
}

// NumViewers returns the number of connected viewers.
func (h *Hub) NumViewers(ctx context.Context) int {
	return xsync.DoR1(ctx, &h.locker, func() int {
		return len(h.viewers)
	})
}

// SendFrame implements stream.FrameSink.
func (h *Hub) SendFrame(ctx context.Context, f *stream.Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("unable to encode frame pts=%d: %w", f.PTS, err)
	}

	h.locker.Do(ctx, func() {
		for v := range h.viewers {
			select {
			case v.send <- b:
			default:
				logger.Warnf(ctx, "viewer %s is too slow, disconnecting", v.addr)
				h.removeLocked(v)
			}
		}
	})
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and streams frames to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf(ctx, "unable to upgrade the connection from %s: %v", r.RemoteAddr, err)
		return
	}

	v := &viewer{
		addr: conn.RemoteAddr().String(),
		conn: conn,
		send: make(chan []byte, viewerQueueSize),
	}
	h.locker.Do(ctx, func() {
		h.viewers[v] = struct{}{}
	})
	logger.Infof(ctx, "viewer %s connected", v.addr)

	ctx = context.WithoutCancel(ctx)
	observability.Go(ctx, func(ctx context.Context) { h.writeLoop(ctx, v) })
	observability.Go(ctx, func(ctx context.Context) { h.readLoop(ctx, v) })
}

func (h *Hub) writeLoop(ctx context.Context, v *viewer) {
	defer v.conn.Close()
	for b := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(viewerWriteWait))
		if err := v.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			logger.Debugf(ctx, "unable to write to viewer %s: %v", v.addr, err)
			h.remove(ctx, v)
			return
		}
	}
	v.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(viewerWriteWait),
	)
}

// readLoop only exists to notice the viewer going away.
func (h *Hub) readLoop(ctx context.Context, v *viewer) {
	for {
		if _, _, err := v.conn.NextReader(); err != nil {
			h.remove(ctx, v)
			return
		}
	}
}

// Close disconnects all viewers.
func (h *Hub) Close(ctx context.Context) {
	h.locker.Do(ctx, func() {
		for v := range h.viewers {
			h.removeLocked(v)
		}
	})
}

func (h *Hub) remove(ctx context.Context, v *viewer) {
	h.locker.Do(ctx, func() {
		h.removeLocked(v)
	})
}

func (h *Hub) removeLocked(v *viewer) {
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	close(v.send)
}
