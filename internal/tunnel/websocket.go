package tunnel

import (
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader performs the WebSocket handshake for the accept loop's upgrade
// handler (spec §4.7). Origin checking is left permissive: the tunnel's
// admission controls (path, token, destination) are the security boundary,
// not Origin, since clients here are tunneling agents rather than browsers.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
	Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		http.Error(w, respInvalidUpgrade+": "+reason.Error(), http.StatusBadRequest)
	},
}

// wsConn adapts a *websocket.Conn's message-oriented frames to the
// io.Reader/io.Writer streams the Splice Engine copies against (spec §4.5:
// "Split ws into (ws_rx, ws_tx)"). unmasked records the configured masking
// policy; gorilla/websocket already never masks frames written by a server
// per RFC 6455, so UnmaskedFrames is honored without further action — see
// DESIGN.md for the masking-flag decision.
type wsConn struct {
	conn     *websocket.Conn
	unmasked bool

	readMu  sync.Mutex
	cur     io.Reader
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn, unmasked bool) *wsConn {
	return &wsConn{conn: conn, unmasked: unmasked}
}

func (w *wsConn) Close() error { return w.conn.Close() }

// Reader returns an io.Reader over the connection's inbound message stream.
func (w *wsConn) Reader() io.Reader { return wsReader{w} }

// Writer returns an io.Writer that sends one binary WebSocket message per
// Write call.
func (w *wsConn) Writer() io.Writer { return wsWriter{w} }

type wsReader struct{ w *wsConn }

func (r wsReader) Read(p []byte) (int, error) {
	r.w.readMu.Lock()
	defer r.w.readMu.Unlock()
	for {
		if r.w.cur == nil {
			_, reader, err := r.w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			r.w.cur = reader
		}
		n, err := r.w.cur.Read(p)
		if err == io.EOF {
			r.w.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

type wsWriter struct{ w *wsConn }

func (w wsWriter) Write(p []byte) (int, error) {
	w.w.writeMu.Lock()
	defer w.w.writeMu.Unlock()
	if err := w.w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
