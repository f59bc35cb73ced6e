package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	transporterrors "github.com/nczempin/sockettransport/errors"
	"github.com/nczempin/sockettransport/transport"
)

type probeOptions struct {
	host     string
	port     int
	unixPath string
	timeout  time.Duration
	data     string
	readN    int
	hex      bool
	uring    bool
	debug    bool
}

func newProbeCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:           "sockprobe [OPTIONS]",
		Short:         "Open a socket transport, send a payload and read a reply",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(opts, stdin, stdout)
		},
	}

	installFlags(cmd.Flags(), &opts)
	return cmd
}

func installFlags(flags *pflag.FlagSet, opts *probeOptions) {
	flags.StringVar(&opts.host, "host", transport.DefaultHost, "Remote host")
	flags.IntVar(&opts.port, "port", transport.DefaultPort, "Remote port")
	flags.StringVar(&opts.unixPath, "unix", "", "Unix socket path (overrides --host and --port)")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Time budget per operation, 0 blocks")
	flags.StringVarP(&opts.data, "data", "d", "", "Payload to send, - reads stdin")
	flags.IntVarP(&opts.readN, "read", "n", 0, "Number of bytes to read after sending")
	flags.BoolVar(&opts.hex, "hex", false, "Print the reply hex encoded")
	flags.BoolVar(&opts.uring, "uring", false, "Use io_uring for readiness waits")
	flags.BoolVarP(&opts.debug, "debug", "D", false, "Enable debug logging")
}

func runProbe(opts probeOptions, stdin io.Reader, stdout io.Writer) error {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if opts.debug {
		logger.SetOutput(logrus.StandardLogger().Out)
		logger.SetLevel(logrus.DebugLevel)
	}

	payload := []byte(opts.data)
	if opts.data == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return pkgerrors.Wrap(err, "reading payload from stdin")
		}
		payload = b
	}

	sockOpts := []transport.Option{
		transport.WithTimeout(opts.timeout),
		transport.WithLogger(logrus.NewEntry(logger)),
	}
	if opts.uring {
		poller, err := transport.NewURingPoller(8)
		if err != nil {
			return err
		}
		defer poller.Close()
		sockOpts = append(sockOpts, transport.WithPoller(poller))
	}

	var sock *transport.Socket
	if opts.unixPath != "" {
		sock = transport.NewUnixSocket(opts.unixPath, sockOpts...)
	} else {
		sock = transport.NewSocket(opts.host, opts.port, sockOpts...)
	}

	if err := sock.Open(); err != nil {
		return describe(err)
	}
	defer sock.Close()

	// Blocking writes may be short; loop until the payload is out
	for sent := 0; sent < len(payload); {
		n, err := sock.Write(payload[sent:])
		if err != nil {
			return describe(err)
		}
		sent += n
	}
	logger.WithField("bytes", len(payload)).Debug("payload sent")

	if opts.readN <= 0 {
		return nil
	}

	reply, err := sock.Read(opts.readN)
	if err != nil {
		return describe(err)
	}
	if opts.hex {
		_, err = fmt.Fprintln(stdout, hex.EncodeToString(reply))
	} else {
		_, err = stdout.Write(reply)
	}
	return err
}

// describe prefixes transport errors with their kind.
func describe(err error) error {
	if kind, ok := transporterrors.KindOf(err); ok {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}
