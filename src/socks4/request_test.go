package socks4

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePlain(t *testing.T) {
	data := []byte{4, 1, 0, 80, 127, 0, 0, 1, 'r', 'o', 'o', 't', 0}
	d := &Decoder{}
	n, err := d.Feed(data)
	require.NoError(t, err)
	require.True(t, d.Done())
	assert.Equal(t, len(data), n)
	assert.Equal(t, len(data), d.Consumed())

	req := d.Request()
	require.NotNil(t, req)
	assert.Equal(t, uint8(Connect), req.Command)
	assert.Equal(t, uint16(80), req.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, req.IP)
	assert.Equal(t, []byte("root"), req.UserID)
	assert.False(t, req.Is4a())
	assert.Empty(t, req.Domain)
	assert.Equal(t, "127.0.0.1:80", req.GetHost())
}

func TestDecodeEmptyUserID(t *testing.T) {
	d := &Decoder{}
	n, err := d.Feed([]byte{4, 2, 0x1f, 0x90, 10, 0, 0, 1, 0})
	require.NoError(t, err)
	require.True(t, d.Done())
	assert.Equal(t, HeaderLen+1, n)
	assert.Equal(t, []byte{}, d.Request().UserID)
	assert.Equal(t, uint8(Bind), d.Request().Command)
	assert.Equal(t, uint16(8080), d.Request().Port)
}

func TestDecode4a(t *testing.T) {
	data := []byte{4, 1, 0, 80, 0, 0, 0, 1, 'r', 'o', 'o', 't', 0}
	data = append(data, "example.com"...)
	data = append(data, 0)

	d := &Decoder{}
	n, err := d.Feed(data)
	require.NoError(t, err)
	require.True(t, d.Done())
	assert.Equal(t, HeaderLen+len("root")+1+len("example.com")+1, n)
	assert.Equal(t, n, d.Consumed())

	req := d.Request()
	assert.True(t, req.Is4a())
	assert.Equal(t, "example.com", req.Domain)
	assert.Equal(t, []byte("root"), req.UserID)
	assert.Equal(t, "example.com", req.Host())
}

// The marker address makes the request incomplete after user_id: the decoder must wait for the domain.
func TestDecode4aWaitsForDomain(t *testing.T) {
	d := &Decoder{}
	n, err := d.Feed([]byte{0x04, 0x01, 0x00, 0x50, 0x00, 0x00, 0x00, 0x01, 'r', 'o', 'o', 't', 0x00})
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.False(t, d.Done())
	assert.Equal(t, stateReadDomain, d.state)
	assert.Nil(t, d.Request())

	n, err = d.Feed([]byte("example.org\x00"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.True(t, d.Done())
	assert.Equal(t, "example.org", d.Request().Domain)
	assert.Equal(t, 25, d.Consumed())
}

func TestDecodeMarkerBoundaries(t *testing.T) {
	cases := []struct {
		ip  [4]byte
		is4 bool
	}{
		{[4]byte{0, 0, 0, 0}, false},
		{[4]byte{0, 0, 0, 1}, true},
		{[4]byte{0, 0, 0, 255}, true},
		{[4]byte{0, 0, 1, 0}, false},
		{[4]byte{0, 1, 0, 1}, false},
		{[4]byte{1, 0, 0, 1}, false},
	}
	for _, c := range cases {
		req := &Request{Version: VER, Command: Connect, Port: 443, IP: c.ip, UserID: []byte("id")}
		if c.is4 {
			req.Domain = "host.test"
		}
		data := req.Marshal()

		d := &Decoder{}
		n, err := d.Feed(append(data, 0xAA, 0xBB))
		require.NoError(t, err)
		require.True(t, d.Done(), "ip %v", c.ip)
		assert.Equal(t, len(data), n, "ip %v", c.ip)
		assert.Equal(t, c.is4, d.Request().Is4a(), "ip %v", c.ip)
		if c.is4 {
			assert.Equal(t, "host.test", d.Request().Domain)
		} else {
			assert.Empty(t, d.Request().Domain)
		}
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	req := &Request{Version: VER, Command: Connect, Port: 8443, IP: [4]byte{0, 0, 0, 9}, UserID: []byte("alice"), Domain: "a.b.c"}
	data := req.Marshal()

	d := &Decoder{}
	for i, b := range data {
		require.False(t, d.Done(), "done early at %d", i)
		n, err := d.Feed([]byte{b})
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	require.True(t, d.Done())
	n, err := d.Feed([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, len(data), d.Consumed())
	assert.Equal(t, req.UserID, d.Request().UserID)
	assert.Equal(t, req.Domain, d.Request().Domain)
	assert.Equal(t, req.Port, d.Request().Port)
}

func TestDecodeVersion(t *testing.T) {
	d := &Decoder{}
	_, err := d.Feed([]byte{5, 1, 0, 80, 1, 2, 3, 4, 0})
	require.Error(t, err)
	assert.Equal(t, ErrVersion, errors.Cause(err))
	assert.False(t, d.Done())
}

func TestDecodeFieldTooLong(t *testing.T) {
	d := &Decoder{}
	_, err := d.Feed([]byte{4, 1, 0, 80, 1, 2, 3, 4})
	require.NoError(t, err)
	_, err = d.Feed(bytes.Repeat([]byte{'x'}, MaxFieldLen))
	require.NoError(t, err)
	_, err = d.Feed([]byte{'x'})
	require.Error(t, err)
	assert.Equal(t, ErrFieldLength, errors.Cause(err))

	d = &Decoder{}
	data := append([]byte{4, 1, 0, 80, 1, 2, 3, 4}, bytes.Repeat([]byte{'y'}, MaxFieldLen)...)
	_, err = d.Feed(append(data, 0))
	require.NoError(t, err)
	assert.True(t, d.Done())
}

func TestReadRequest(t *testing.T) {
	req := &Request{Version: VER, Command: Connect, Port: 80, IP: [4]byte{0, 0, 0, 1}, UserID: []byte("u"), Domain: "example.com"}
	data := req.Marshal()

	got, rest, n, err := ReadRequest(iotest.OneByteReader(bytes.NewReader(data)), make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Empty(t, rest)
	assert.Equal(t, "example.com", got.Domain)
}

func TestReadRequestKeepsPipelinedBytes(t *testing.T) {
	req := &Request{Version: VER, Command: Connect, Port: 80, IP: [4]byte{10, 0, 0, 1}, UserID: []byte("u")}
	payload := []byte("GET / HTTP/1.0\r\n\x00\r\n")
	data := append(req.Marshal(), payload...)

	buf := make([]byte, 1024)
	got, rest, n, err := ReadRequest(bytes.NewReader(data), buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderLen+2, n)
	assert.Equal(t, payload, rest)
	assert.Equal(t, []byte("u"), got.UserID)

	// rest must not alias the read buffer
	buf[n] = 'X'
	assert.Equal(t, payload, rest)
}

func TestReadRequestTruncated(t *testing.T) {
	data := []byte{4, 1, 0, 80, 0, 0, 0, 1, 'r', 'o', 'o', 't', 0, 'e', 'x'}
	for _, cut := range []int{0, 5, 8, 12, 13, len(data)} {
		_, _, n, err := ReadRequest(bytes.NewReader(data[:cut]), make([]byte, 4))
		require.Error(t, err, "cut %d", cut)
		assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err), "cut %d", cut)
		assert.Equal(t, cut, n, "cut %d", cut)
	}
}

func TestReadRequestReadError(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(bytes.NewReader([]byte{4, 1, 0}), iotest.ErrReader(boom))
	_, _, n, err := ReadRequest(r, make([]byte, 16))
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.Equal(t, 3, n)
}
