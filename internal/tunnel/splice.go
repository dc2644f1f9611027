package tunnel

import "sync"

// Splice bidirectionally copies bytes between a negotiated WebSocket and a
// dispatched Tunnel's local stream until either side reaches EOF or errors
// (spec §4.5). The local_rx -> ws_tx direction runs in the caller's
// goroutine and is the copy the original design treats as authoritative for
// shutdown; the ws_rx -> local_tx direction runs in a spawned goroutine.
// Both are wired to the same
// sync.Once-guarded close so whichever direction ends first tears down both
// halves exactly once — the Go equivalent of the oneshot close-signal the
// asymmetric design calls for, since closing a shared net.Conn/websocket
// connection is what unblocks the other direction's blocked Read (spec §9).
func Splice(ws *wsConn, tun *Tunnel) {
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			ws.Close()
			tun.Write.Close()
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		CopyWithBuffer(tun.Write, ws.Reader())
		shutdown()
	}()

	CopyWithBuffer(ws.Writer(), tun.Read)
	shutdown()

	<-done
}
