package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"antboard/host/mcu"
	"antboard/host/serial"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	Device  string
	Addr    string
	Baud    int
	Timeout time.Duration
	Verbose bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "antctl [command...]",
		Short: "Antenna-control board console",
		Long: `Talks to an antenna-control board over its USB serial port, or to a
simulated board served by antsim.

With arguments, sends them as one command line and prints the response.
Without arguments, reads command lines from stdin.

Example usage:
  antctl --device /dev/ttyACM0 setaz 0x00FFAA
  antctl --addr localhost:7070`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())
			if opts.Verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			board, err := connect(opts, logger)
			if err != nil {
				return err
			}
			defer board.Close()

			if len(args) > 0 {
				resp, err := board.Execute(strings.Join(args, " "), opts.Timeout)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp)
				if strings.HasPrefix(resp, "Error: ") {
					return fmt.Errorf("board rejected command")
				}
				return nil
			}
			return console(board, cmd.InOrStdin(), cmd.OutOrStdout(), opts.Timeout, logger)
		},
	}

	rootCmd.Flags().StringVarP(&opts.Device, "device", "d", "/dev/ttyACM0", "Serial device path")
	rootCmd.Flags().StringVarP(&opts.Addr, "addr", "a", "", "Connect to a simulated board at host:port instead of a serial device")
	rootCmd.Flags().IntVarP(&opts.Baud, "baud", "b", 115200, "Baud rate (ignored for USB CDC)")
	rootCmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 2*time.Second, "Response timeout")
	rootCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Show board log lines")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connect(opts options, logger *logrus.Logger) (*mcu.MCU, error) {
	board := mcu.NewMCU()
	board.SetLogHandler(func(line string) {
		logger.WithField("source", "board").Debug(line)
	})

	if opts.Addr != "" {
		port, err := serial.Dial(opts.Addr, opts.Timeout)
		if err != nil {
			return nil, err
		}
		board.Attach(port)
		logger.WithField("addr", opts.Addr).Debug("connected")
		return board, nil
	}

	cfg := serial.DefaultConfig(opts.Device)
	cfg.Baud = opts.Baud
	if err := board.ConnectWithConfig(cfg); err != nil {
		return nil, err
	}
	logger.WithField("device", opts.Device).Debug("connected")
	return board, nil
}

// console runs an interactive command loop until EOF or quit.
func console(board *mcu.MCU, in io.Reader, out io.Writer, timeout time.Duration, logger *logrus.Logger) error {
	fmt.Fprintln(out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		resp, err := board.Execute(line, timeout)
		if err != nil {
			logger.WithError(err).Error("command failed")
			if !board.IsConnected() {
				return err
			}
			continue
		}
		fmt.Fprintln(out, resp)
	}
	return scanner.Err()
}
