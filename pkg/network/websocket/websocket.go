package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grapeassist/assist/pkg/logger"
)

const (
	maxMessageSize = 64 * 1024
	queueSize      = 64
	writeWait      = 10 * time.Second
)

// Standard close codes re-exported for the callers.
const (
	CloseNormalClosure     = websocket.CloseNormalClosure
	CloseGoingAway         = websocket.CloseGoingAway
	ClosePolicyViolation   = websocket.ClosePolicyViolation
	CloseMessageTooBig     = websocket.CloseMessageTooBig
	CloseTryAgainLater     = websocket.CloseTryAgainLater
	CloseAbnormalClosure   = websocket.CloseAbnormalClosure
	CloseInternalServerErr = websocket.CloseInternalServerErr
)

var ErrQueueOverflow = errors.New("send queue overflow")

type Options struct {
	MaxMessageSize int64
	WriteWait      time.Duration
	QueueSize      int
}

func (o *Options) withDefaults() {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = maxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = writeWait
	}
	if o.QueueSize <= 0 {
		o.QueueSize = queueSize
	}
}

type closeFrame struct {
	code   int
	reason string
}

// WS is a websocket connection with serialized reads and writes.
// All the writes go through a single writer goroutine, so the messages
// are delivered in the order of Write calls.
type WS struct {
	conn *websocket.Conn
	opts Options

	send  chan []byte
	pings chan struct{}
	quit  chan struct{}

	frame     *closeFrame
	closed    atomic.Bool
	closeOnce sync.Once

	writerDone chan struct{}
	done       chan struct{}

	// OnMessage is called from the reader goroutine for each text or binary message.
	OnMessage func(message []byte)
	// OnPong is called when the other side answers our ping.
	OnPong func()

	server bool
	log    *logger.Logger
}

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		CheckOrigin:     func(*http.Request) bool { return true },
	},
}

// NewUpgrader makes an upgrader that allows only the listed origins.
// No origins means any origin.
func NewUpgrader(origins []string) *Upgrader {
	u := DefaultUpgrader
	if len(origins) > 0 {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return &u
}

// IsUpgrade tells if the request asks for a websocket connection.
func IsUpgrade(r *http.Request) bool { return websocket.IsWebSocketUpgrade(r) }

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, opts Options, log *logger.Logger) (*WS, error) {
	conn, err := u.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, opts, log), nil
}

func NewClient(address url.URL, header http.Header, opts Options, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), header)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, opts, log), nil
}

func newSocket(conn *websocket.Conn, server bool, opts Options, log *logger.Logger) *WS {
	opts.withDefaults()
	if log == nil {
		log = logger.Default()
	}
	return &WS{
		conn:       conn,
		opts:       opts,
		send:       make(chan []byte, opts.QueueSize),
		pings:      make(chan struct{}, 1),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		server:     server,
		log:        log,
	}
}

// Serve pumps messages from the connection until it breaks or gets closed.
// Blocking, returns only when both reader and writer are finished.
func (ws *WS) Serve() {
	go ws.writer()
	ws.reader()
	ws.shutdown(nil)
	<-ws.writerDone
	_ = ws.conn.Close()
	close(ws.done)
}

// Listen runs Serve in the background.
func (ws *WS) Listen() <-chan struct{} {
	go ws.Serve()
	return ws.done
}

func (ws *WS) reader() {
	ws.conn.SetReadLimit(ws.opts.MaxMessageSize)
	ws.conn.SetPongHandler(func(string) error {
		if ws.OnPong != nil {
			ws.OnPong()
		}
		return nil
	})
	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) && !ws.closed.Load() {
				ws.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message)
		}
	}
}

func (ws *WS) writer() {
	defer close(ws.writerDone)
	for {
		select {
		case message := <-ws.send:
			if err := ws.write(websocket.TextMessage, message); err != nil {
				ws.Terminate()
				return
			}
		case <-ws.pings:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.opts.WriteWait)); err != nil {
				ws.Terminate()
				return
			}
		case <-ws.quit:
			ws.flush()
			if ws.frame != nil {
				msg := websocket.FormatCloseMessage(ws.frame.code, ws.frame.reason)
				_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ws.opts.WriteWait))
			}
			_ = ws.conn.Close()
			return
		}
	}
}

// flush writes out whatever was queued before the close.
func (ws *WS) flush() {
	for {
		select {
		case message := <-ws.send:
			if err := ws.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ws *WS) write(t int, message []byte) error {
	if err := ws.conn.SetWriteDeadline(time.Now().Add(ws.opts.WriteWait)); err != nil {
		return err
	}
	return ws.conn.WriteMessage(t, message)
}

// Write queues a message without blocking.
// A connection that can't keep up with its queue gets closed.
func (ws *WS) Write(data []byte) error {
	if ws.closed.Load() {
		return websocket.ErrCloseSent
	}
	select {
	case ws.send <- data:
		return nil
	default:
		ws.Close(websocket.CloseTryAgainLater, "send queue overflow")
		return ErrQueueOverflow
	}
}

// Ping queues a transport-level ping.
func (ws *WS) Ping() {
	if ws.closed.Load() {
		return
	}
	select {
	case ws.pings <- struct{}{}:
	default:
	}
}

// Close sends a close frame with the code and reason after
// all the queued messages and then closes the connection.
// It doesn't wait for the other side.
func (ws *WS) Close(code int, reason string) { ws.shutdown(&closeFrame{code: code, reason: reason}) }

// Terminate drops the connection right away.
func (ws *WS) Terminate() {
	ws.shutdown(nil)
	_ = ws.conn.Close()
}

func (ws *WS) shutdown(frame *closeFrame) {
	ws.closeOnce.Do(func() {
		ws.frame = frame
		ws.closed.Store(true)
		close(ws.quit)
	})
}

func (ws *WS) IsOpen() bool          { return !ws.closed.Load() }
func (ws *WS) IsServer() bool        { return ws.server }
func (ws *WS) Done() <-chan struct{} { return ws.done }
func (ws *WS) RemoteAddr() string    { return ws.conn.RemoteAddr().String() }
