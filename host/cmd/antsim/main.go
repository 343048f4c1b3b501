package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"antboard/config"
	"antboard/core"
	"antboard/sim"
	"antboard/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	ConfigPath string
	CalPath    string
	Listen     string
	Verbose    bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "antsim",
		Short: "Simulated antenna-control board",
		Long: `Runs the board firmware against simulated hardware: the CPLD chain,
LED register, digital pot, rails, ADC and EEPROM.

Commands are read from stdin, or served over TCP with --listen so antctl
can connect with --addr.

Example usage:
  antsim --config board.yaml --calibration cal.json
  antsim --listen :7070`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Board configuration (YAML or JSON); defaults to the production board")
	rootCmd.Flags().StringVar(&opts.CalPath, "calibration", storage.DefaultCalibrationFile, "Calibration file")
	rootCmd.Flags().StringVarP(&opts.Listen, "listen", "l", "", "Serve commands on this TCP address instead of stdin")
	rootCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	logger := logrus.New()
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := config.DefaultBoardConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return err
		}
	}

	hw, err := sim.New(cfg)
	if err != nil {
		return err
	}
	board, err := core.NewBoard(cfg, hw.Hardware(logger, storage.NewFileStore(opts.CalPath)))
	if err != nil {
		return err
	}
	if err := board.Init(); err != nil {
		return err
	}
	board.Start(ctx)
	defer board.Stop()

	logger.WithFields(logrus.Fields{
		"bit_order":   cfg.CPLD.BitOrder,
		"calibration": opts.CalPath,
	}).Info("simulated board ready")

	var released sync.Once
	exec := func(line string) string {
		resp := board.Execute(line)
		if board.IsShutdown() {
			released.Do(func() { logger.Info("power released") })
		}
		return resp
	}

	if opts.Listen != "" {
		ln, err := net.Listen("tcp", opts.Listen)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("serving")
		return sim.Serve(ctx, ln, exec, logger)
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			break
		}
		if resp := exec(line); resp != "" {
			fmt.Fprintln(out, resp)
		}
		if board.IsShutdown() {
			break
		}
	}
	return scanner.Err()
}
