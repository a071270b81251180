package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/djaigoo/holesocks/src/confs"
	"github.com/djaigoo/holesocks/src/connect"
	"github.com/djaigoo/holesocks/src/mux"
	"github.com/djaigoo/holesocks/src/util"
	"github.com/djaigoo/httpclient"
	"github.com/djaigoo/logkit"
	"github.com/pkg/errors"
)

var (
	confpath   string
	listenPort int
	remoteAddr string
	debug      bool
	plain      bool
)

func init() {
	flag.StringVar(&confpath, "conf", "", "配置文件")
	flag.IntVar(&listenPort, "port", 1080, "本地监听地址")
	flag.StringVar(&remoteAddr, "addr", "", "远端服务器地址")
	flag.BoolVar(&debug, "debug", false, "是否打印调试日志")
	flag.BoolVar(&plain, "plain", false, "不使用tls连接服务器")
	flag.Parse()
}

func main() {
	defer logkit.Exit()
	var err error
	conf := confs.Default()
	if confpath != "" {
		conf, err = confs.ReadConfigFile(confpath)
		if err != nil {
			logkit.ConsoleLog(logkit.LevelDebug)
			logkit.Error(err.Error())
			return
		}
	}
	if listenPort != 0 {
		conf.LocalPort = listenPort
	}
	if remoteAddr != "" {
		i := strings.LastIndex(remoteAddr, ":")
		if i < 0 {
			logkit.ConsoleLog(logkit.LevelDebug)
			logkit.Errorf("[main] invalid addr %s", remoteAddr)
			return
		}
		conf.Server = remoteAddr[:i]
		conf.ServerPort, err = strconv.Atoi(remoteAddr[i+1:])
		if err != nil {
			logkit.ConsoleLog(logkit.LevelDebug)
			logkit.Errorf("[main] invalid addr %s", remoteAddr)
			return
		}
	}
	if debug {
		conf.Debug = true
	}

	level := logkit.LevelNon
	if conf.Debug {
		level = logkit.LevelDebug
	}
	logkit.ConsoleLog(level)
	logkit.Debugf("[main] print conf %#v", conf)

	addr := conf.ServerAddr()
	dial := func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if !plain {
		config, err := tlsConfig(conf)
		if err != nil {
			logkit.Error(err.Error())
			return
		}
		dial = func() (net.Conn, error) {
			return tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second, KeepAlive: time.Minute}, "tcp", addr, config)
		}
	}
	client := mux.NewClient(dial, mux.Config(conf.KeepAlive.Duration))
	defer client.Close()

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(conf.LocalPort))
	if err != nil {
		logkit.Error(err.Error())
		return
	}
	defer func() {
		err = listener.Close()
		if err != nil {
			logkit.Errorf("[main] Close listener error %s", err.Error())
			return
		}
		logkit.Infof("[main] Close listener success")
	}()
	go func() {
		logkit.Infof("[main] start listen %d", conf.LocalPort)
		for {
			conn, err := listener.Accept()
			if err != nil {
				logkit.Error(err.Error())
				return
			}
			go handle(conn, client, conf.BufferSize)
		}
	}()

	logkit.Infof("client quit with signal %v", util.Signal())
}

// tlsConfig trusts the local certificate file, or the certificate served by the tunnel server.
func tlsConfig(conf *confs.Conf) (*tls.Config, error) {
	var crtData []byte
	var err error
	if conf.LocalCrtFile != "" {
		crtData, err = ioutil.ReadFile(conf.LocalCrtFile)
	} else {
		crtData, err = getCert(conf.ServerAddr())
	}
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(crtData) {
		return nil, errors.New("no certificate found in server crt")
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: conf.Server,
		MinVersion: tls.VersionTLS12,
	}, nil
}

func getCert(addr string) ([]byte, error) {
	http.DefaultClient.Timeout = 5 * time.Second
	defer http.DefaultClient.CloseIdleConnections()
	data, err := httpclient.Get("http://" + addr + "/cert").Do().ToText()
	if err != nil {
		return nil, errors.Wrap(err, "get cert")
	}
	if len(data) == 0 {
		return nil, errors.Errorf("get cert resp len 0")
	}
	logkit.Infof("[getCert] get cert success")
	return []byte(data), nil
}

// handle carries one local connection through a tunnel stream, the SOCKS4 exchange runs end to end.
func handle(conn net.Conn, client *mux.Client, size int) {
	logkit.Infof("[handle] get new request %s", conn.RemoteAddr())
	stream, err := client.Open()
	if err != nil {
		logkit.Errorf("[handle] open stream for %s error %s", conn.RemoteAddr().String(), err.Error())
		_ = conn.Close()
		return
	}
	n1, n2, err := connect.Pipe(context.Background(), conn, stream, size)
	if err != nil {
		logkit.Errorf("[handle] Pipe %s stream %d error %s", conn.RemoteAddr().String(), stream.ID(), err.Error())
		return
	}
	logkit.Debugf("[handle] close conn %s stream %d, up %d byte, down %d byte", conn.RemoteAddr().String(), stream.ID(), n1, n2)
}
