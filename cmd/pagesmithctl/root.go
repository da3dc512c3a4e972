package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/throw-if-null/pagesmith/internal/api"
)

type clientOptions struct {
	server  string
	timeout time.Duration
}

func defaultServer() string {
	if v := os.Getenv("PAGESMITH_URL"); v != "" {
		return v
	}
	return "http://" + net.JoinHostPort(api.DefaultHost, strconv.Itoa(api.DefaultPort))
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}
	root := &cobra.Command{
		Use:           "pagesmithctl",
		Short:         "Client for the pagesmith generation service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer(), "pagesmith base URL (env PAGESMITH_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "request timeout")

	root.AddCommand(newSubmitCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	root.AddCommand(newRunsCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func (o *clientOptions) client() *http.Client {
	return &http.Client{Timeout: o.timeout}
}

func (o *clientOptions) url(path string) string {
	return strings.TrimRight(o.server, "/") + path
}

// printResponse copies the body to out and turns HTTP failures into errors
// after the body has been shown.
func printResponse(out io.Writer, resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, strings.TrimRight(string(body), "\n"))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
