package shared

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Server struct {
	Address  string
	Https    bool
	PortRoll bool
	Tls      struct {
		Address   string
		Domain    string
		HttpsCert string
		HttpsKey  string
	}
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

func (s *Server) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Address, "address", s.Address, "HTTP server address (host:port)")
	fs.BoolVar(&s.Https, "https", s.Https, "Serve through TLS")
}

func (s *Server) String() string {
	return fmt.Sprintf("server: %v, https: %v", s.Address, s.Https)
}
