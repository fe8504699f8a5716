// SPDX-License-Identifier: MIT

// Package signal implements the peerconnection rendezvous protocol: peers
// sign in over HTTP, poll /wait for queued messages and relay SDP blobs to
// each other through /message. The server never inspects the payloads it
// forwards.
package signal

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
)

const defaultWaitTimeout = 30 * time.Second

type queuedMessage struct {
	fromPeer int
	data     string
}

type peer struct {
	id     int
	name   string
	queue  []queuedMessage
	notify chan struct{}
}

// Server is the signaling rendezvous. The zero value is not usable; create
// one with NewServer.
type Server struct {
	mu     sync.Mutex
	peers  map[int]*peer
	nextID int

	waitTimeout time.Duration

	mux *http.ServeMux
	log logging.LeveledLogger
}

// ServerOption configures a Server.
type ServerOption func(*Server) error

// WaitTimeout bounds how long /wait blocks before answering with a roster
// notification.
func WaitTimeout(d time.Duration) ServerOption {
	return func(s *Server) error {
		s.waitTimeout = d

		return nil
	}
}

// ServerLoggerFactory sets the logger factory used for diagnostics.
func ServerLoggerFactory(loggerFactory logging.LoggerFactory) ServerOption {
	return func(s *Server) error {
		s.log = loggerFactory.NewLogger("signal_server")

		return nil
	}
}

// NewServer creates a rendezvous server.
func NewServer(opts ...ServerOption) (*Server, error) {
	srv := &Server{
		peers:       make(map[int]*peer),
		nextID:      1,
		waitTimeout: defaultWaitTimeout,
		log:         logging.NewDefaultLoggerFactory().NewLogger("signal_server"),
	}
	for _, opt := range opts {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleHome)
	mux.HandleFunc("/sign_in", srv.handleSignIn)
	mux.HandleFunc("/sign_out", srv.handleSignOut)
	mux.HandleFunc("/wait", srv.handleWait)
	mux.HandleFunc("/message", srv.handleMessage)
	srv.mux = mux

	return srv, nil
}

// ServeHTTP dispatches to the protocol endpoints with CORS headers applied.
func (s *Server) ServeHTTP(respWriter http.ResponseWriter, req *http.Request) {
	writeCORSHeaders(respWriter)
	if req.Method == http.MethodOptions {
		respWriter.WriteHeader(http.StatusOK)

		return
	}
	s.mux.ServeHTTP(respWriter, req)
}

func writeCORSHeaders(respWriter http.ResponseWriter) {
	header := respWriter.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Set("Access-Control-Max-Age", "86400")
}

// rosterLines renders the sign-in roster with the given peer first. Callers
// must hold s.mu.
func (s *Server) rosterLines(firstID int) []string {
	ids := make([]int, 0, len(s.peers))
	for id := range s.peers {
		if id != firstID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	lines := make([]string, 0, len(s.peers))
	if self, ok := s.peers[firstID]; ok {
		lines = append(lines, fmt.Sprintf("%s,%d,1", self.name, self.id))
	}
	for _, id := range ids {
		other := s.peers[id]
		lines = append(lines, fmt.Sprintf("%s,%d,1", other.name, other.id))
	}

	return lines
}

// broadcastRosterUpdate queues a roster entry for every peer except the one
// it is about. Roster updates are delivered from the receiving peer's own
// id, which is how clients tell them apart from relayed messages. Callers
// must hold s.mu.
func (s *Server) broadcastRosterUpdate(aboutID int, line string) {
	for id, other := range s.peers {
		if id == aboutID {
			continue
		}
		other.queue = append(other.queue, queuedMessage{fromPeer: id, data: line})
		select {
		case other.notify <- struct{}{}:
		default:
		}
	}
}

// handleSignIn registers a peer. The peer name is the raw query string, the
// way the original peerconnection_server clients send it.
func (s *Server) handleSignIn(respWriter http.ResponseWriter, req *http.Request) {
	name := req.URL.RawQuery
	if name == "" {
		name = "anonymous"
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.peers[id] = &peer{
		id:     id,
		name:   name,
		notify: make(chan struct{}, 1),
	}
	lines := s.rosterLines(id)
	s.broadcastRosterUpdate(id, fmt.Sprintf("%s,%d,1", name, id))
	s.mu.Unlock()

	s.log.Infof("peer signed in: %s with id %d", name, id)

	respWriter.Header().Set("Content-Type", "text/plain")
	respWriter.Header().Set("Pragma", strconv.Itoa(id))
	fmt.Fprint(respWriter, strings.Join(lines, "\n"))
}

// handleSignOut removes a peer; unknown ids are a no-op.
func (s *Server) handleSignOut(respWriter http.ResponseWriter, req *http.Request) {
	id := peerIDParam(req, "peer_id")

	s.mu.Lock()
	if leaving, ok := s.peers[id]; ok {
		delete(s.peers, id)
		s.broadcastRosterUpdate(id, fmt.Sprintf("%s,%d,0", leaving.name, leaving.id))
		s.log.Infof("peer %d signed out", id)
	}
	s.mu.Unlock()

	respWriter.Header().Set("Content-Type", "text/plain")
}

// handleWait delivers the oldest queued message for the peer, blocking up to
// the wait timeout. When nothing arrives it answers with a roster
// notification addressed from the peer's own id.
func (s *Server) handleWait(respWriter http.ResponseWriter, req *http.Request) {
	id := peerIDParam(req, "peer_id")

	s.mu.Lock()
	waiting, ok := s.peers[id]
	if !ok {
		s.mu.Unlock()
		http.Error(respWriter, "Peer not found", http.StatusNotFound)

		return
	}
	notify := waiting.notify
	s.mu.Unlock()

	deadline := time.NewTimer(s.waitTimeout)
	defer deadline.Stop()

	for {
		if msg, ok := s.popMessage(id); ok {
			respWriter.Header().Set("Content-Type", "text/plain")
			respWriter.Header().Set("Pragma", strconv.Itoa(msg.fromPeer))
			fmt.Fprint(respWriter, msg.data)

			return
		}

		select {
		case <-notify:
			// re-check the queue
		case <-deadline.C:
			s.writeRosterNotification(respWriter, id)

			return
		case <-req.Context().Done():
			return
		}
	}
}

func (s *Server) popMessage(id int) (queuedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiting, ok := s.peers[id]
	if !ok || len(waiting.queue) == 0 {
		return queuedMessage{}, false
	}
	msg := waiting.queue[0]
	waiting.queue = waiting.queue[1:]

	return msg, true
}

func (s *Server) writeRosterNotification(respWriter http.ResponseWriter, id int) {
	s.mu.Lock()
	lines := s.rosterLines(id)
	s.mu.Unlock()

	notification := ""
	if len(lines) > 0 {
		notification = lines[0]
	}

	respWriter.Header().Set("Content-Type", "text/plain")
	respWriter.Header().Set("Pragma", strconv.Itoa(id))
	fmt.Fprint(respWriter, notification)
}

// handleMessage queues a relay payload for the target peer.
func (s *Server) handleMessage(respWriter http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(respWriter, "Method not allowed", http.StatusMethodNotAllowed)

		return
	}

	from := peerIDParam(req, "peer_id")
	to := peerIDParam(req, "to")

	body := new(strings.Builder)
	if _, err := io.Copy(body, req.Body); err != nil {
		http.Error(respWriter, "Bad request", http.StatusBadRequest)

		return
	}

	s.mu.Lock()
	target, ok := s.peers[to]
	if !ok {
		s.mu.Unlock()
		http.Error(respWriter, "Target peer not found", http.StatusNotFound)

		return
	}
	target.queue = append(target.queue, queuedMessage{fromPeer: from, data: body.String()})
	select {
	case target.notify <- struct{}{}:
	default:
	}
	s.mu.Unlock()

	s.log.Debugf("message from peer %d to peer %d (%d bytes)", from, to, body.Len())

	respWriter.Header().Set("Content-Type", "text/plain")
}

func (s *Server) handleHome(respWriter http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" && req.URL.Path != "/server_test.html" {
		http.Error(respWriter, "Not found", http.StatusNotFound)

		return
	}
	respWriter.Header().Set("Content-Type", "text/html")
	fmt.Fprint(respWriter, testPageHTML)
}

func peerIDParam(req *http.Request, key string) int {
	id, err := strconv.Atoi(req.URL.Query().Get(key))
	if err != nil {
		return 0
	}

	return id
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head><title>PeerConnection server test page</title></head>
<body>
<p>Signaling server is running.</p>
<p>Endpoints: /sign_in?name, /sign_out?peer_id=N, /wait?peer_id=N,
POST /message?peer_id=N&amp;to=M</p>
</body>
</html>
`
