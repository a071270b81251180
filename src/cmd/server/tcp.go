package main

import (
	"net"

	"github.com/djaigoo/holesocks/src/mux"
	"github.com/djaigoo/logkit"
)

// tcpServer serves the tunnel without TLS, for trusted networks only.
func tcpServer(listener net.Listener, server *mux.Server) {
	logkit.Warnf("[tcpServer] plain tunnel enabled")
	err := server.Serve(listener)
	if err != nil {
		logkit.Errorf("[tcpServer] %s", err.Error())
	}
}
