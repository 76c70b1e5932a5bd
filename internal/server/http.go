package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatservice/internal/service"
	"chatservice/internal/websocket"
)

// Config HTTP 服务配置
type Config struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// HTTPServer HTTP 服务器：WebSocket 聊天入口加健康与指标端点
type HTTPServer struct {
	engine   *gin.Engine
	server   *http.Server
	hub      *websocket.Hub
	chat     *service.ChatService
	upgrader gorillaws.Upgrader
	logger   log.Logger
	log      *log.Helper
}

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(config *Config, hub *websocket.Hub, chat *service.ChatService, logger log.Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, origin := range config.AllowedOrigins {
		allowed[origin] = true
	}

	s := &HTTPServer{
		engine: engine,
		hub:    hub,
		chat:   chat,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// 无 Origin 头的多半是非浏览器客户端
				if origin == "" || allowed["*"] || allowed[origin] {
					return true
				}
				for o := range allowed {
					if strings.HasPrefix(o, "*.") && strings.HasSuffix(origin, o[1:]) {
						return true
					}
				}
				return false
			},
		},
		logger: logger,
		log:    log.NewHelper(log.With(logger, "module", "http-server")),
	}
	s.server = &http.Server{Addr: config.Addr, Handler: engine}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *HTTPServer) registerMiddleware() {
	s.engine.Use(RecoveryMiddleware(s.logger))
	s.engine.Use(CORSMiddleware())
	s.engine.Use(LoggingMiddleware(s.logger))
}

func (s *HTTPServer) registerRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws/chat/:room_id", s.handleWebSocket)
	s.engine.GET("/api/v1/online", s.onlineCount)
}

// Start 启动监听直到 Shutdown
func (s *HTTPServer) Start() error {
	s.log.Infof("http server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅停机
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":    "ok",
		"service":   "chat-service",
		"timestamp": time.Now().Unix(),
	})
}

func (s *HTTPServer) onlineCount(c *gin.Context) {
	c.JSON(200, gin.H{
		"code": 200,
		"data": gin.H{"online_clients": s.hub.ClientCount()},
	})
}

// handleWebSocket 升级连接并把会话挂进 Hub
func (s *HTTPServer) handleWebSocket(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id is required"})
		return
	}
	roomID := c.Param("room_id")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Errorf("websocket upgrade error: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), userID, roomID, conn, s.hub, s.logger)
	if err := s.chat.OnConnect(c.Request.Context(), client); err != nil {
		s.log.Errorf("session setup error: %v", err)
		conn.Close()
		return
	}
	s.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
