package idptest

import (
	"net/http"
	"net/http/httptest"
)

// Server runs a Provider on a local listener.
type Server struct {
	*Provider
	HTTP *httptest.Server
}

// NewServer starts a provider whose issuer is the listener's URL.
func NewServer(opts ...Option) (*Server, error) {
	httpServer := httptest.NewUnstartedServer(nil)

	provider, err := New("http://"+httpServer.Listener.Addr().String()+"/", opts...)
	if err != nil {
		httpServer.Close()
		return nil, err
	}

	httpServer.Config.Handler = provider.Handler()
	httpServer.Start()

	return &Server{Provider: provider, HTTP: httpServer}, nil
}

func (s *Server) Client() *http.Client {
	return s.HTTP.Client()
}

func (s *Server) Close() {
	s.HTTP.Close()
}
