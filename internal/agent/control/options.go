package control

import "github.com/okian/fieldguard/pkg/logger"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}
