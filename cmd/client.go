package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/luma/dgramfs/client"
	"github.com/luma/dgramfs/internal/env"
)

var (
	clientAddr     string
	clientPort     int
	freshness      time.Duration
	timeout        time.Duration
	maxAttempts    int
	clientDropRate float64
)

func init() {
	flags := ClientCmd.PersistentFlags()

	flags.StringVar(&clientAddr, "addr", "127.0.0.1", "The server host")
	flags.IntVarP(&clientPort, "port", "p", 2222, "The server port")
	flags.DurationVar(&freshness, "freshness", client.DefaultFreshness, "How long cached reads are served without asking the server")
	flags.DurationVar(&timeout, "timeout", client.DefaultTimeout, "How long to wait for a reply before resending")
	flags.IntVar(&maxAttempts, "max-attempts", client.DefaultMaxAttempts, "How many times to send each request before giving up, 0 retries until interrupted")
	flags.Float64Var(&clientDropRate, "drop-rate", 0, "Probability of dropping each outgoing datagram")
}

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Start an interactive dgramfs client",
	Long: `Start an interactive dgramfs client

Usage
	dgramfs client --addr 127.0.0.1 --port 2222 --freshness 10s

Flags override the DGRAMFS_* environment variables.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		// The menu owns stdout, so logs only show warnings by default
		level := conf.LogLevel
		if os.Getenv("DGRAMFS_LOG_LEVEL") == "" {
			level = "warn"
		}

		log, err := env.MakeLogger(level)
		if err != nil {
			return err
		}

		defer log.Sync() //nolint:errcheck

		flags := cmd.Flags()
		if !flags.Changed("freshness") {
			freshness = conf.Freshness
		}

		if !flags.Changed("timeout") {
			timeout = conf.Timeout
		}

		if !flags.Changed("max-attempts") {
			maxAttempts = conf.MaxAttempts
		}

		if !flags.Changed("drop-rate") {
			clientDropRate = conf.DropRate
		}

		conn := client.New(client.Options{
			Timeout:     timeout,
			MaxAttempts: maxAttempts,
			Freshness:   freshness,
			DropRate:    clientDropRate,
			Log:         log.Named("client"),
		})

		if err := conn.Connect(ctx, net.JoinHostPort(clientAddr, strconv.Itoa(clientPort))); err != nil {
			return err
		}

		defer conn.Disconnect() //nolint:errcheck

		m := &menu{
			conn:        conn,
			in:          bufio.NewScanner(cmd.InOrStdin()),
			out:         cmd.OutOrStdout(),
			interactive: term.IsTerminal(int(os.Stdin.Fd())),
		}

		return m.run(ctx)
	},
}

var errExit = errors.New("exit")

type menu struct {
	conn        *client.Conn
	in          *bufio.Scanner
	out         io.Writer
	interactive bool
}

func (m *menu) run(ctx context.Context) error {
	for ctx.Err() == nil {
		m.printf("\n1. Read file\n2. Insert into file\n3. Monitor file\n4. Get file info\n5. Append to file\n0. Exit\n")

		choice, err := m.ask("Choice: ")
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		err = m.handle(ctx, strings.TrimSpace(choice))
		switch {
		case errors.Is(err, errExit), errors.Is(err, io.EOF):
			return nil

		case err != nil:
			// Bad input and server errors are shown and the menu goes on
			fmt.Fprintln(m.out, "Error:", err)
		}
	}

	return nil
}

func (m *menu) handle(ctx context.Context, choice string) error {
	switch choice {
	case "1":
		name, offset, err := m.askFileAndOffset()
		if err != nil {
			return err
		}

		length, err := m.askInt("Number of bytes: ")
		if err != nil {
			return err
		}

		result, err := m.conn.Read(ctx, name, offset, length)
		if err != nil {
			return err
		}

		m.printResult(result)

	case "2":
		name, offset, err := m.askFileAndOffset()
		if err != nil {
			return err
		}

		content, err := m.ask("Content: ")
		if err != nil {
			return err
		}

		msg, err := m.conn.Insert(ctx, name, offset, content)
		if err != nil {
			return err
		}

		fmt.Fprintln(m.out, msg)

	case "3":
		name, err := m.ask("Filename: ")
		if err != nil {
			return err
		}

		seconds, err := m.askInt("Monitor for how many seconds: ")
		if err != nil {
			return err
		}

		return m.monitor(ctx, name, time.Duration(seconds)*time.Second)

	case "4":
		name, err := m.ask("Filename: ")
		if err != nil {
			return err
		}

		result, err := m.conn.GetInfo(ctx, name)
		if err != nil {
			return err
		}

		m.printResult(result)

	case "5":
		name, err := m.ask("Filename: ")
		if err != nil {
			return err
		}

		content, err := m.ask("Content: ")
		if err != nil {
			return err
		}

		msg, err := m.conn.Append(ctx, name, content)
		if err != nil {
			return err
		}

		fmt.Fprintln(m.out, msg)

	case "0":
		return errExit

	default:
		return fmt.Errorf("unknown choice %q", choice)
	}

	return nil
}

func (m *menu) monitor(ctx context.Context, name string, interval time.Duration) error {
	updates, err := m.conn.Monitor(ctx, name, interval)
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Monitoring %s for %s\n", name, interval)

	for update := range updates {
		fmt.Fprintf(m.out, "[%s] %s changed: %s\n",
			update.LastModified.Format(time.RFC3339), update.Name, update.Content)
	}

	fmt.Fprintln(m.out, "Monitoring finished")
	return nil
}

func (m *menu) printResult(result client.Result) {
	if result.Cached {
		fmt.Fprintln(m.out, "(cached)", result.Value)
		return
	}

	fmt.Fprintln(m.out, result.Value)
}

func (m *menu) askFileAndOffset() (string, int, error) {
	name, err := m.ask("Filename: ")
	if err != nil {
		return "", 0, err
	}

	offset, err := m.askInt("Offset: ")
	if err != nil {
		return "", 0, err
	}

	return name, offset, nil
}

func (m *menu) askInt(prompt string) (int, error) {
	s, err := m.ask(prompt)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}

	return n, nil
}

// ask prompts and returns the next line of input, or io.EOF once input ends.
func (m *menu) ask(prompt string) (string, error) {
	m.printf("%s", prompt)

	if !m.in.Scan() {
		if err := m.in.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return m.in.Text(), nil
}

// printf only writes prompts when a person is at the terminal.
func (m *menu) printf(format string, args ...interface{}) {
	if m.interactive {
		fmt.Fprintf(m.out, format, args...)
	}
}
