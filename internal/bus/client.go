package bus

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/m2osw/ipload/internal/apperr"
)

// Client is a small bus peer used by anything that needs to send
// IPWALL_BLOCK/IPWALL_UNBLOCK/IPWALL_GET_STATUS to a running daemon
// rather than embedding a Hub.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a bus address (host:port, as produced by
// config.Config.BusAddress), presenting token as a pre-shared bus
// credential the way Hub.ServeHTTP expects it (see DESIGN.md's note on
// replacing the teacher's JWT bearer scheme with a shared bus token).
func Dial(address, token string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: "/ipwall"}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMessage, address, "failed to connect to bus", err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one message to the bus.
func (c *Client) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return apperr.Wrap(apperr.CodeMessage, msg.Command, "failed to encode message", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperr.Wrap(apperr.CodeMessage, msg.Command, "failed to send message", err)
	}
	return nil
}

// Receive blocks for the next message from the bus.
func (c *Client) Receive() (Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, apperr.Wrap(apperr.CodeMessage, "", "failed to read message", err)
	}
	return Decode(data)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
