package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luma/velocystream/client"
	"github.com/luma/velocystream/internal/env"
	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/vpack"
)

var (
	// The server to send the request to
	serverAddr string

	// tcp or unix
	requestNetwork string

	// The JSON-ish body, sent as one payload
	body string

	timeout time.Duration
)

func init() {
	flags := RequestCmd.Flags()

	flags.StringVarP(&serverAddr, "server", "s", "127.0.0.1:7363", "The server address, or socket path with --network unix")
	flags.StringVar(&requestNetwork, "network", "tcp", "tcp or unix")
	flags.StringVarP(&body, "data", "d", "", "A string payload to send with the request")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the response")
}

var RequestCmd = &cobra.Command{
	Use:   "request METHOD PATH",
	Short: "Send one request and print the response",
	Long: `Send one request and print the response

Usage
	vst request GET /_api/version
	vst request PUT /_api/document/greeting -d hello
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestType, err := protocol.ParseRequestType(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conf, err := env.LoadConfig(ctx, configFile)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		version, err := conf.ProtocolVersion()
		if err != nil {
			return err
		}

		conn := client.New(log.Named("client"),
			client.VersionOption(version),
			client.MaxChunkBytesOption(conf.MaxChunkBytes),
			client.LimitsOption(conf.Limits()))

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := conn.Connect(ctx, requestNetwork, serverAddr); err != nil {
			return err
		}
		defer conn.Close()

		req := protocol.NewRequest(requestType, args[1])
		if body != "" {
			req.Payloads = append(req.Payloads, vpack.MustMarshal(body))
		}

		resp, err := conn.Do(ctx, req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d\n", resp.ResponseCode)
		for k, v := range resp.Meta {
			fmt.Fprintf(out, "%s: %s\n", k, v)
		}
		for _, p := range resp.Payloads {
			fmt.Fprintln(out, p.String())
		}

		return resp.ErrorOrNil()
	},
}
