package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Stream sends one participant's RTP packets to an ingest server.
type Stream struct {
	conn *websocket.Conn
}

// Dial opens a participant stream. base is the server's http or ws URL.
func Dial(ctx context.Context, base, sessionID, participant string) (*Stream, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/sessions/" + url.PathEscape(sessionID) + "/stream"
	u.RawQuery = url.Values{"participant": {participant}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: dial %s: %w", u, err)
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) Send(packet []byte) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, packet)
}

// Close ends the stream cleanly, which ends the participant's track.
func (s *Stream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
