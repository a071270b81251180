package main

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"

	"github.com/djaigoo/holesocks/src/dao"
	"github.com/djaigoo/logkit"
)

func errReport(name string) {
	if err := recover(); err != nil {
		logkit.Errorf("%s panic %#v", name, err)
	}
}

func openPProf(m *http.ServeMux) {
	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// adminServer lists the sessions mirrored in redis, which covers every server sharing the prefix.
func adminServer(port int) {
	logkit.Infof("start admin server")
	m := http.NewServeMux()
	openPProf(m)
	m.HandleFunc("/connects", connects)
	err := http.ListenAndServe(":"+strconv.Itoa(port), m)
	if err != nil {
		logkit.Error(err.Error())
		return
	}
}

func connects(w http.ResponseWriter, r *http.Request) {
	defer errReport("connects")
	type response struct {
		Num  int64    `json:"num"`
		List []string `json:"list"`
	}
	num, err := dao.RedisDao.GetSessionNum()
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	list, err := dao.RedisDao.GetSessions()
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	sort.Strings(list)
	resp := &response{Num: num, List: list}
	data, err := json.Marshal(resp)
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	w.Write(data)
}
