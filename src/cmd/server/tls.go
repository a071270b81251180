package main

import (
	"crypto/rand"
	"crypto/tls"
	"net"
	"time"

	"github.com/djaigoo/holesocks/src/mux"
	"github.com/djaigoo/holesocks/src/socks4"
	"github.com/djaigoo/logkit"
	"github.com/xtaci/smux"
)

func tlsServer(listener net.Listener, server *mux.Server) {
	crt, err := tls.X509KeyPair(crtContent, keyContent)
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	tlsConfig := &tls.Config{}
	tlsConfig.Certificates = []tls.Certificate{crt}
	tlsConfig.Time = time.Now
	tlsConfig.Rand = rand.Reader
	tlsConfig.MinVersion = tls.VersionTLS12
	l := tls.NewListener(listener, tlsConfig)
	err = server.Serve(l)
	if err != nil {
		logkit.Errorf("[tlsServer] %s", err.Error())
	}
}

// handle starts one SOCKS4 session on a tunnel stream.
func handle(stream *smux.Stream) {
	s := socks4.NewSession(registry.NextID(), stream, registry, sessionOpt)
	registry.Add(s)
	logkit.Infof("[handle] Receive Request From %s stream %d session %d", stream.RemoteAddr().String(), stream.ID(), s.ID())
	s.Start()
}
