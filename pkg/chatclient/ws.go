package chatclient

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"scene_chat/pkg/protocol"
)

// wsDialer - дефолтный транспорт поверх gorilla/websocket
type wsDialer struct {
	token string
}

func (d *wsDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEnvelope() (*protocol.Envelope, error) {
	var env protocol.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *wsConn) WriteEnvelope(env *protocol.Envelope) error {
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
