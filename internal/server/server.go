package server

import (
	"context"
	"net/http"
	"time"

	"QianKunJing/internal/utils"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	Addr    string
	handler http.Handler
	srv     *http.Server
	logger  *utils.Logger
}

func NewServer(addr string, reporter Reporter) *Server {
	return &Server{
		Addr:    addr,
		handler: NewRouter(NewHandler(reporter)),
		logger:  utils.NewLogger("server"),
	}
}

// Run 阻塞直到ctx取消或监听失败
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("HTTP服务正在关闭...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("关闭HTTP服务失败: %v", err)
		}
	}()

	s.logger.Info("HTTP服务监听 %s", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
