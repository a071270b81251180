package main

import (
	"flag"
	"io/ioutil"
	"net"
	"strconv"
	"time"

	"github.com/djaigoo/holesocks/src/confs"
	"github.com/djaigoo/holesocks/src/dao"
	"github.com/djaigoo/holesocks/src/mux"
	"github.com/djaigoo/holesocks/src/resolver"
	"github.com/djaigoo/holesocks/src/socks4"
	"github.com/djaigoo/holesocks/src/util"
	"github.com/djaigoo/logkit"
	"github.com/soheilhy/cmux"
)

var (
	confpath   string
	crtContent []byte
	keyContent []byte

	registry   *dao.Registry
	sessionOpt *socks4.Options
)

func init() {
	flag.StringVar(&confpath, "conf", "./config.toml", "配置文件")
	flag.Parse()
}

func main() {
	conf, err := confs.ReadConfigFile(confpath)
	if err != nil {
		logkit.ConsoleLog(logkit.LevelDebug)
		logkit.Error(err.Error())
		logkit.Exit()
		return
	}
	logkit.SingleFileLog("", conf.LogDir, logkit.LevelDebug)
	defer logkit.Exit()

	crtContent, err = ioutil.ReadFile(conf.ServerCrtFile)
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	keyContent, err = ioutil.ReadFile(conf.ServerKeyFile)
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	logkit.Infof("[main] crt len %d, key len %d", len(crtContent), len(keyContent))

	if conf.Admin {
		rd := dao.NewRedisDao(conf.RedisAddr, conf.RedisPassword, conf.RedisPrefix)
		if err := rd.Reset(); err != nil {
			logkit.Errorf("[main] reset redis sessions error %s", err.Error())
		}
		dao.RedisDao = rd
		defer rd.Close()
	}
	registry = dao.NewRegistry(dao.RedisDao)
	sessionOpt = newSessionOptions(conf)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(conf.ServerPort))
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	server := mux.NewServer(mux.Config(conf.KeepAlive.Duration), handle)

	cm := cmux.New(listener)
	tlsListener := cm.Match(cmux.TLS())
	httpListener := cm.Match(cmux.HTTP1())
	if conf.AllowPlain {
		go tcpServer(cm.Match(cmux.Any()), server)
	}
	go tlsServer(tlsListener, server)
	go httpServer(httpListener)
	time.Sleep(100 * time.Millisecond)
	go cm.Serve()

	if conf.Admin {
		go adminServer(conf.AdminPort)
	}

	logkit.Infof("start sever on %d", conf.ServerPort)
	logkit.Infof("server quit with signal %v", util.Signal())

	_ = listener.Close()
	_ = server.Close()
	registry.StopAll()
}

func newSessionOptions(conf *confs.Conf) *socks4.Options {
	return &socks4.Options{
		Resolver:          resolver.New(conf.DNSServer, conf.DNSTimeout.Duration),
		Dialer:            &net.Dialer{KeepAlive: time.Minute},
		Binder:            &net.ListenConfig{Control: util.ReuseAddr},
		BufferSize:        conf.BufferSize,
		BindIP:            net.ParseIP(conf.BindIP),
		BindAcceptTimeout: conf.BindAcceptTimeout.Duration,
	}
}
