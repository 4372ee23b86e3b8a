package station

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/frclink/dsctl/internal/observability"
	"github.com/frclink/dsctl/internal/protocol"
)

// Monitor is the read-only HTTP surface next to the UDP control plane.
// It never mutates server state; everything it serves comes from
// Snapshot or the status feed.
type Monitor struct {
	addr   string
	server *Server
	router *gin.Engine
	feed   *statusFeed

	httpServer *http.Server
}

func NewMonitor(addr string, server *Server, corsOrigins []string) *Monitor {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("station"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	m := &Monitor{
		addr:   addr,
		server: server,
		router: r,
		feed:   newStatusFeed(),
	}
	server.AttachStatusSink(m.feed.publish)
	m.registerRoutes()
	return m
}

func (m *Monitor) registerRoutes() {
	m.router.GET("/health", func(c *gin.Context) {
		snap := m.server.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"uptime":            time.Since(m.server.StartedAt()).String(),
			"robot_state":       snap.RobotState,
			"connected_clients": snap.ConnectedClients,
			"cpu_percent":       cpuPercent(),
			"memory_percent":    memoryPercent(),
		})
	})

	m.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.server.Snapshot().ToPayload())
	})

	m.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	m.router.GET("/ws", m.feed.serve)
}

// Start serves until ctx is cancelled, then drains connections.
func (m *Monitor) Start(ctx context.Context) error {
	m.httpServer = &http.Server{Addr: m.addr, Handler: m.router}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", m.addr).Msg("monitor: listening")
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.feed.closeAll()
	return m.httpServer.Shutdown(shutdownCtx)
}

func cpuPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func memoryPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

// statusFeed fans status reports out to websocket subscribers. publish
// is called with the server lock held, so it only enqueues; the pump
// goroutine does the actual writes. A subscriber that cannot keep up
// loses reports rather than stalling the control plane.
type statusFeed struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan protocol.StatusReport
}

func newStatusFeed() *statusFeed {
	return &statusFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan protocol.StatusReport),
	}
}

func (f *statusFeed) publish(report protocol.StatusReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.conns {
		select {
		case ch <- report:
		default: // slow subscriber, drop
		}
	}
}

func (f *statusFeed) serve(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("monitor: websocket upgrade failed")
		return
	}

	ch := make(chan protocol.StatusReport, 16)
	f.mu.Lock()
	f.conns[conn] = ch
	f.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("monitor: websocket subscribed")

	// reader exists only to notice the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(conn)
				return
			}
		}
	}()

	for report := range ch {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(report.ToPayload()); err != nil {
			f.drop(conn)
			return
		}
	}
}

func (f *statusFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	ch, ok := f.conns[conn]
	if ok {
		delete(f.conns, conn)
		close(ch)
	}
	f.mu.Unlock()
	_ = conn.Close()
}

func (f *statusFeed) closeAll() {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for conn := range f.conns {
		conns = append(conns, conn)
	}
	f.mu.Unlock()
	for _, conn := range conns {
		f.drop(conn)
	}
}
