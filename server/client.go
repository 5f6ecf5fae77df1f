package server

import (
	"bufio"
	"net"
	"sync"
)

// Client sends statements to a server, one round trip at a time.
type Client struct {
	mutex sync.Mutex
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}, nil
}

// Execute returns the output of stmt; an error from the server is returned as a RemoteError.
func (c *Client) Execute(stmt string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	err := WriteData(c.w, []byte(stmt))
	if err != nil {
		return "", err
	}
	out, err := ReadFrame(c.r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
