// SPDX-License-Identifier: MIT

// Package stats serves a live dashboard plotting bitrate samples over
// websockets.
package stats

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// Sample is a single measurement on a named series.
type Sample struct {
	Series    string  `json:"series"`
	Timestamp int64   `json:"timestamp"` // milliseconds since the server was created
	Value     float64 `json:"value"`
}

// Server broadcasts samples to connected dashboard clients.
type Server struct {
	upgrader *websocket.Upgrader
	start    time.Time

	mu          sync.Mutex
	subscribers map[chan Sample]struct{}

	log logging.LeveledLogger
}

// NewServer creates a statistics server. Samples recorded before any
// dashboard connects are dropped.
func NewServer() *Server {
	return &Server{
		upgrader:    &websocket.Upgrader{},
		start:       time.Now(),
		subscribers: make(map[chan Sample]struct{}),
		log:         logging.NewDefaultLoggerFactory().NewLogger("stats"),
	}
}

// Record broadcasts a measurement on the given series, stamped relative
// to the server's start time.
func (s *Server) Record(series string, value float64) {
	sample := Sample{
		Series:    series,
		Timestamp: time.Since(s.start).Milliseconds(),
		Value:     value,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		select {
		case sub <- sample:
		default:
			// Slow dashboard, drop the sample.
		}
	}
}

func (s *Server) subscribe() chan Sample {
	sub := make(chan Sample, 64)
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	return sub
}

func (s *Server) unsubscribe(sub chan Sample) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
}

// Handler returns the HTTP handler serving the dashboard page and its
// websocket feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.home)
	mux.HandleFunc("/feed", s.feed)

	return mux
}

// ListenAndServe serves the dashboard on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown: %v", err)
		}
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (s *Server) feed(respWriter http.ResponseWriter, req *http.Request) {
	wsConn, err := s.upgrader.Upgrade(respWriter, req, nil)
	if err != nil {
		s.log.Errorf("upgrade: %v", err)

		return
	}
	defer func() {
		if err = wsConn.Close(); err != nil {
			s.log.Errorf("failed to close websocket connection: %v", err)
		}
	}()

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	for {
		select {
		case sample := <-sub:
			if err = wsConn.WriteJSON(sample); err != nil {
				s.log.Errorf("WriteJSON: %v", err)

				return
			}
		case <-req.Context().Done():
			return
		}
	}
}

var homeTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Bitrate dashboard</title>
    <script src="https://cdn.plot.ly/plotly-latest.min.js"></script>
  </head>
  <body>
    <div id="graph"></div>
    <script>
      Plotly.newPlot('graph', [], {
        xaxis: {title: 'time (ms)'},
        yaxis: {title: 'bitrate (bps)'}
      });

      const traces = {};
      const socket = new WebSocket("{{.}}");
      socket.onmessage = function(event) {
        const sample = JSON.parse(event.data);
        if (!(sample.series in traces)) {
          traces[sample.series] = Object.keys(traces).length;
          Plotly.addTraces('graph', {
            name: sample.series,
            x: [],
            y: [],
            mode: 'lines',
            type: 'scatter'
          });
        }
        Plotly.extendTraces('graph', {
          x: [[sample.timestamp]],
          y: [[sample.value]]
        }, [traces[sample.series]]);
      }
    </script>
  </body>
</html>
`))

func (s *Server) home(respWriter http.ResponseWriter, req *http.Request) {
	if err := homeTemplate.Execute(respWriter, "ws://"+req.Host+"/feed"); err != nil {
		s.log.Errorf("failed to execute template: %v", err)
		http.Error(respWriter, "Internal server error", http.StatusInternalServerError)
	}
}
