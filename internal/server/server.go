package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/loykin/clogs/internal/config"
	clogstls "github.com/loykin/clogs/internal/tls"
)

// NewServer wraps h in an http.Server configured from cfg, including TLS when
// enabled. Start it with ListenAndServe.
func NewServer(cfg config.ServerConfig, h http.Handler) (*http.Server, error) {
	tlsCfg, err := clogstls.SetupTLS(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// ListenAndServe blocks serving srv and treats a graceful shutdown as success.
func ListenAndServe(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		// Certificates come from TLSConfig.GetCertificate.
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
