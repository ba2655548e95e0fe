package remote

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const testPassword = "s3cr3t pass"

type handler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32

// testServer is a minimal SSH server executing commands with a handler
type testServer struct {
	addr    string
	signer  ssh.Signer
	ln      net.Listener
	cfg     *ssh.ServerConfig
	handler handler

	mu        sync.Mutex
	conns     []net.Conn
	sshConn   *ssh.ServerConn
	forwarded []string
	cancelled []string
	wg        sync.WaitGroup
}

// forwardRequest is the payload of tcpip-forward and cancel-tcpip-forward requests
type forwardRequest struct {
	Addr string
	Port uint32
}

func newTestSigner(t *testing.T) ssh.Signer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func newTestServer(t *testing.T, h handler) *testServer {
	s := &testServer{signer: newTestSigner(t), handler: h}
	s.cfg = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == DefaultUsername && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %s", c.User())
		},
	}
	s.cfg.AddHostKey(s.signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.ln = ln
	s.addr = ln.Addr().String()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, nc)
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(nc)
			}()
		}
	}()
	t.Cleanup(s.close)
	return s
}

func (s *testServer) config() Config {
	host, port, _ := net.SplitHostPort(s.addr)
	var p int
	_, _ = fmt.Sscanf(port, "%d", &p)
	return Config{Host: host, Port: p, Password: testPassword}
}

func (s *testServer) serve(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer conn.Close()
	s.mu.Lock()
	s.sshConn = conn
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.global(reqs)
	}()
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "sessions only")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.session(ch, requests)
		}()
	}
}

// global accepts port forwarding requests without listening: connections are opened by get
func (s *testServer) global(reqs <-chan *ssh.Request) {
	for req := range reqs {
		var fr forwardRequest
		switch req.Type {
		case "tcpip-forward", "cancel-tcpip-forward":
			if err := ssh.Unmarshal(req.Payload, &fr); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		addr := net.JoinHostPort(fr.Addr, fmt.Sprint(fr.Port))
		s.mu.Lock()
		if req.Type == "tcpip-forward" {
			s.forwarded = append(s.forwarded, addr)
		} else {
			s.cancelled = append(s.cancelled, addr)
		}
		s.mu.Unlock()
		_ = req.Reply(true, nil)
	}
}

// get sends an HTTP request to a port forwarded by the client, the way a process on the
// device would
func (s *testServer) get(t *testing.T, addr string, port uint32, p string) (int, string) {
	s.mu.Lock()
	conn := s.sshConn
	s.mu.Unlock()
	require.NotNil(t, conn)
	payload := ssh.Marshal(struct {
		Addr       string
		Port       uint32
		OriginAddr string
		OriginPort uint32
	}{addr, port, "127.0.0.1", 50412})
	ch, reqs, err := conn.OpenChannel("forwarded-tcpip", payload)
	require.NoError(t, err)
	go ssh.DiscardRequests(reqs)
	defer ch.Close()

	req, err := http.NewRequest(http.MethodGet, "http://localhost"+p, nil)
	require.NoError(t, err)
	req.Close = true
	require.NoError(t, req.Write(ch))
	resp, err := http.ReadResponse(bufio.NewReader(ch), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (s *testServer) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)
		status := s.handler(payload.Command, ch, ch, ch.Stderr())
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		_ = ch.Close()
		go ssh.DiscardRequests(requests)
		return
	}
}

func (s *testServer) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
