package execbridge

import (
	"golang.org/x/net/websocket"
)

// WebsocketConn adapts a websocket connection to the session transport.
// Frames are opaque bytes; resize control rides in-band as JSON text frames.
type WebsocketConn struct {
	ws *websocket.Conn
}

// NewWebsocketConn wraps an accepted websocket connection.
func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{ws: ws}
}

func (c *WebsocketConn) ReadMessage() ([]byte, error) {
	var data []byte
	if err := websocket.Message.Receive(c.ws, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *WebsocketConn) WriteMessage(data []byte) error {
	return websocket.Message.Send(c.ws, data)
}

func (c *WebsocketConn) Close() error {
	return c.ws.Close()
}
