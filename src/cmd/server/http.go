package main

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/djaigoo/logkit"
)

func httpServer(listener net.Listener) {
	m := http.NewServeMux()
	m.HandleFunc(PathHello, hello)
	m.HandleFunc(PathCert, getCrtFile)
	m.HandleFunc(PathSessions, sessions)
	err := http.Serve(listener, m)
	if err != nil {
		logkit.Error(err.Error())
		return
	}
}

func hello(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("hello world"))
}

// getCrtFile hands out the public certificate so clients can pin it.
func getCrtFile(w http.ResponseWriter, r *http.Request) {
	logkit.Infof("[getCrtFile] get crt file %s", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(crtContent)
}

func sessions(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Num  int      `json:"num"`
		List []string `json:"list"`
	}
	list := registry.List()
	data, err := json.Marshal(&response{Num: len(list), List: list})
	if err != nil {
		logkit.Error(err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
