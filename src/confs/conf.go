package confs

import (
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type Conf struct {
	LocalPort    int    `toml:"local_port"`
	LocalCrtFile string `toml:"local_crt_file"`

	Server        string `toml:"server"`
	ServerPort    int    `toml:"server_port"`
	ServerCrtFile string `toml:"server_crt_file"`
	ServerKeyFile string `toml:"server_key_file"`
	AllowPlain    bool   `toml:"allow_plain"`

	Admin         bool   `toml:"admin"`
	AdminPort     int    `toml:"admin_port"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisPrefix   string `toml:"redis_prefix"`

	DNSServer         string   `toml:"dns_server"`
	DNSTimeout        Duration `toml:"dns_timeout"`
	BindIP            string   `toml:"bind_ip"`
	BindAcceptTimeout Duration `toml:"bind_accept_timeout"`
	BufferSize        int      `toml:"buffer_size"`
	KeepAlive         Duration `toml:"keep_alive"`

	LogDir string `toml:"log_dir"`
	Debug  bool   `toml:"debug"`
}

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func Default() *Conf {
	return &Conf{
		LocalPort:  1080,
		ServerPort: 443,
		AdminPort:  8081,
		DNSTimeout: Duration{5 * time.Second},
		BufferSize: 50 * 1024,
		LogDir:     "log",
	}
}

func ReadConfigFile(path string) (*Conf, error) {
	c := Default()
	_, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return c, c.Check()
}

func ReadConfig(data string) (*Conf, error) {
	c := Default()
	_, err := toml.Decode(data, c)
	if err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return c, c.Check()
}

// Check validates values that would otherwise fail late.
func (c *Conf) Check() error {
	if c.BindIP != "" && net.ParseIP(c.BindIP) == nil {
		return errors.Errorf("invalid bind_ip %q", c.BindIP)
	}
	if c.BufferSize <= 0 {
		return errors.Errorf("invalid buffer_size %d", c.BufferSize)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return errors.Errorf("invalid server_port %d", c.ServerPort)
	}
	return nil
}

// ServerAddr returns host:port of the tunnel server.
func (c *Conf) ServerAddr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.ServerPort))
}
