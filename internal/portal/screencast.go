package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	screenCastInterface = callBaseName + ".ScreenCast"
	createSessionName   = screenCastInterface + ".CreateSession"
	selectSourcesName   = screenCastInterface + ".SelectSources"
	startName           = screenCastInterface + ".Start"
	openPipeWireRemote  = screenCastInterface + ".OpenPipeWireRemote"
)

const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2
	SourceTypeVirtual uint32 = 4
)

const (
	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2
	CursorModeMetadata uint32 = 4
)

var ErrNoStreams = errors.New("portal returned no streams")

// Stream is one PipeWire node granted by the portal.
type Stream struct {
	NodeID     uint32
	Position   [2]int32
	Size       [2]int32
	SourceType uint32
}

// SourceOptions are passed to SelectSources.
type SourceOptions struct {
	Types      uint32
	CursorMode uint32
	Multiple   bool
}

// Session is an open ScreenCast portal session. Close it when done.
type Session struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

// AvailableSourceTypes reports the portal's supported source type bitmask.
func AvailableSourceTypes() (uint32, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return 0, err
	}
	value, err := getProperty(conn, screenCastInterface, "AvailableSourceTypes")
	if err != nil {
		return 0, err
	}
	types, ok := value.(uint32)
	if !ok {
		return 0, fmt.Errorf("AvailableSourceTypes returned unexpected type %T", value)
	}
	return types, nil
}

// call issues a request-style portal method and waits for its Response.
func call(ctx context.Context, conn *dbus.Conn, method string, options map[string]dbus.Variant, args ...any) (map[string]dbus.Variant, error) {
	token := newToken()
	options["handle_token"] = variantString(token)

	pending, err := subscribe(conn, token)
	if err != nil {
		return nil, err
	}

	args = append(args, options)
	obj := conn.Object(objectName, objectPath)
	if c := obj.CallWithContext(ctx, method, 0, args...); c.Err != nil {
		pending.close()
		return nil, fmt.Errorf("%s: %w", method, c.Err)
	}
	return pending.wait(ctx)
}

// CreateSession opens a new ScreenCast session on the session bus.
func CreateSession(ctx context.Context) (*Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	results, err := call(ctx, conn, createSessionName, map[string]dbus.Variant{
		"session_handle_token": variantString(newToken()),
	})
	if err != nil {
		return nil, err
	}

	handle, ok := results["session_handle"].Value().(string)
	if !ok || handle == "" {
		return nil, ErrUnexpectedResponse
	}
	return &Session{conn: conn, path: dbus.ObjectPath(handle)}, nil
}

// SelectSources asks the user which surface to share.
func (s *Session) SelectSources(ctx context.Context, opts SourceOptions) error {
	options := map[string]dbus.Variant{}
	if opts.Types != 0 {
		options["types"] = variantUint32(opts.Types)
	}
	if opts.CursorMode != 0 {
		options["cursor_mode"] = variantUint32(opts.CursorMode)
	}
	if opts.Multiple {
		options["multiple"] = variantBool(true)
	}
	_, err := call(ctx, s.conn, selectSourcesName, options, s.path)
	return err
}

// Start begins the cast and returns the granted streams.
func (s *Session) Start(ctx context.Context, parentWindow string) ([]Stream, error) {
	results, err := call(ctx, s.conn, startName, map[string]dbus.Variant{}, s.path, parentWindow)
	if err != nil {
		return nil, err
	}
	raw, ok := results["streams"]
	if !ok {
		return nil, ErrNoStreams
	}
	streams := parseStreams(raw.Value())
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}
	return streams, nil
}

// OpenPipeWireRemote returns a file descriptor connected to the PipeWire
// daemon with access to the granted nodes. The caller owns the descriptor.
func (s *Session) OpenPipeWireRemote(ctx context.Context) (int, error) {
	obj := s.conn.Object(objectName, objectPath)
	c := obj.CallWithContext(ctx, openPipeWireRemote, 0, s.path, map[string]dbus.Variant{})
	if c.Err != nil {
		return -1, fmt.Errorf("%s: %w", openPipeWireRemote, c.Err)
	}
	var fd dbus.UnixFD
	if err := c.Store(&fd); err != nil {
		return -1, err
	}
	return int(fd), nil
}

// Close ends the session. The portal stops the stream when it closes.
func (s *Session) Close() error {
	if s == nil || s.path == "" {
		return nil
	}
	err := s.conn.Object(objectName, s.path).Call(sessionClose, 0).Err
	s.path = ""
	return err
}

// parseStreams decodes the a(ua{sv}) streams result. Entries that do not
// decode are skipped.
func parseStreams(value any) []Stream {
	var entries [][]any
	switch v := value.(type) {
	case [][]any:
		entries = v
	case []any:
		for _, e := range v {
			if fields, ok := e.([]any); ok {
				entries = append(entries, fields)
			}
		}
	default:
		return nil
	}

	streams := make([]Stream, 0, len(entries))
	for _, fields := range entries {
		if len(fields) < 2 {
			continue
		}
		nodeID, ok := fields[0].(uint32)
		if !ok {
			continue
		}
		stream := Stream{NodeID: nodeID}
		if props, ok := fields[1].(map[string]dbus.Variant); ok {
			stream.Position = pairOf(props["position"])
			stream.Size = pairOf(props["size"])
			if st, ok := props["source_type"].Value().(uint32); ok {
				stream.SourceType = st
			}
		}
		streams = append(streams, stream)
	}
	return streams
}

func pairOf(v dbus.Variant) [2]int32 {
	switch pair := v.Value().(type) {
	case []any:
		if len(pair) == 2 {
			a, okA := pair[0].(int32)
			b, okB := pair[1].(int32)
			if okA && okB {
				return [2]int32{a, b}
			}
		}
	case []int32:
		if len(pair) == 2 {
			return [2]int32{pair[0], pair[1]}
		}
	}
	return [2]int32{}
}
