package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/logger"
)

func main() {
	addr := flag.String("addr", config.DefaultTCPAddr, "chat relay address")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <display-name>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log, err := logger.New(os.Stderr, *logLevel, logger.FormatText)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *addr, flag.Arg(0))
	if err != nil {
		log.Error("failed to connect", logger.Error(err))
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("Connected to %s\n", c.RemoteAddr())

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	go readLoop(c, log)

	if err := writeLoop(ctx, c, os.Stdin); err != nil {
		log.Error("send failed", logger.Error(err))
		os.Exit(1)
	}
}

func readLoop(c *client.Client, log *slog.Logger) {
	for {
		payload, err := c.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("receive stopped", logger.Error(err))
			}
			fmt.Println("connection closed")
			os.Exit(0)
		}
		fmt.Printf("received message: %s\n", payload)
	}
}

func writeLoop(ctx context.Context, c *client.Client, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if err := c.Send(text); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return sc.Err()
}
