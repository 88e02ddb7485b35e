package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response from portal")
	// ErrCancelled means the user dismissed the portal dialog.
	ErrCancelled = errors.New("portal request was cancelled")
)

// Portal response codes.
const (
	responseSuccess   uint32 = 0
	responseCancelled uint32 = 1
)

type pendingRequest struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	signals chan *dbus.Signal
	match   []dbus.MatchOption
}

// subscribe registers for the Response signal of a request before the call
// that creates it is made; subscribing afterwards can miss a fast reply.
func subscribe(conn *dbus.Conn, token string) (*pendingRequest, error) {
	path := requestPath(uniqueName(conn), token)
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseMember),
	}
	if err := conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("subscribe to portal response: %w", err)
	}
	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)
	return &pendingRequest{conn: conn, path: path, signals: signals, match: match}, nil
}

func (r *pendingRequest) close() {
	r.conn.RemoveSignal(r.signals)
	_ = r.conn.RemoveMatchSignal(r.match...)
}

// wait blocks until the portal answers, or ctx ends. On cancellation the
// request object is closed so the dialog goes away.
func (r *pendingRequest) wait(ctx context.Context) (map[string]dbus.Variant, error) {
	defer r.close()
	for {
		select {
		case <-ctx.Done():
			_ = r.conn.Object(objectName, r.path).Call(requestClose, 0).Err
			return nil, ctx.Err()
		case sig, ok := <-r.signals:
			if !ok {
				return nil, ErrUnexpectedResponse
			}
			if sig.Path != r.path || sig.Name != requestInterface+"."+responseMember {
				continue
			}
			return parseResponse(sig.Body)
		}
	}
}

func parseResponse(body []any) (map[string]dbus.Variant, error) {
	if len(body) != 2 {
		return nil, ErrUnexpectedResponse
	}
	status, ok := body[0].(uint32)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	switch status {
	case responseSuccess:
		return results, nil
	case responseCancelled:
		return nil, ErrCancelled
	default:
		return nil, fmt.Errorf("portal request ended with status %d", status)
	}
}
