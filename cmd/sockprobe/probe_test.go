package main

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func setupEchoServer(t *testing.T) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	addr := listener.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
	})
	return addr.IP.String(), addr.Port
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newProbeCommand(strings.NewReader(stdin), &out)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestProbe_Echo(t *testing.T) {
	host, port := setupEchoServer(t)

	out, err := runCommand(t, "", "--host", host, "--port", strconv.Itoa(port),
		"--timeout", "2s", "--data", "ping", "--read", "4")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(out, "ping"))
}

func TestProbe_EchoHexFromStdin(t *testing.T) {
	host, port := setupEchoServer(t)

	out, err := runCommand(t, "\x01\x02", "--host", host, "--port", strconv.Itoa(port),
		"-d", "-", "-n", "2", "--hex")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(out, "0102\n"))
}

func TestProbe_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	_, err = runCommand(t, "", "--host", "127.0.0.1", "--port", strconv.Itoa(port), "--timeout", "1s")
	assert.Assert(t, err != nil)
	assert.Check(t, is.Contains(err.Error(), "NotOpen: could not connect to 127.0.0.1:"))
}

func TestProbe_RejectsArguments(t *testing.T) {
	_, err := runCommand(t, "", "extra")
	assert.Check(t, err != nil)
}
