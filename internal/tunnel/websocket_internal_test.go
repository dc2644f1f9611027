package tunnel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWSConnReaderSpansMultipleMessages exercises wsReader across two
// consecutive messages, each read into a buffer of exactly its size,
// confirming it moves on to the next message instead of returning a
// spurious io.EOF to the Splice Engine between frames.
func TestWSConnReaderSpansMultipleMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte("ab"))
		conn.WriteMessage(websocket.BinaryMessage, []byte("cde"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	ws := newWSConn(clientConn, false)
	r := ws.Reader()

	buf := make([]byte, 2)
	n, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))

	buf2 := make([]byte, 3)
	n, err = io.ReadFull(r, buf2)
	require.NoError(t, err)
	assert.Equal(t, "cde", string(buf2[:n]))
}

func TestWSConnWriterSendsOneMessagePerWrite(t *testing.T) {
	received := make(chan []byte, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	ws := newWSConn(clientConn, false)
	w := ws.Writer()

	_, err = w.Write([]byte("first"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second"))
	require.NoError(t, err)

	assert.Equal(t, []byte("first"), <-received)
	assert.Equal(t, []byte("second"), <-received)
}
