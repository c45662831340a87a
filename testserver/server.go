// Command testserver runs the SockJS endpoints the client is tested against.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/igm/sockjs-go.v2/sockjs"
)

type testHandler struct {
	prefix  string
	handler http.Handler
}

func newSockjsHandler(prefix string, options sockjs.Options, fn func(sockjs.Session)) *testHandler {
	return &testHandler{prefix, sockjs.NewHandler(prefix, options, fn)}
}

type testHandlers []*testHandler

func main() {
	var addr string
	cmd := &cobra.Command{
		Use:          "testserver",
		Short:        "SockJS echo, close and fallback endpoints",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			logger.Info("listening", "addr", addr)
			return http.ListenAndServe(addr, newTestHandlers(logger))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "Listen address")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newTestHandlers(logger *slog.Logger) testHandlers {
	echoOptions := sockjs.DefaultOptions
	echoOptions.ResponseLimit = 4096

	disabledWebsocketOptions := sockjs.DefaultOptions
	disabledWebsocketOptions.Websocket = false

	cookieNeededOptions := sockjs.DefaultOptions
	cookieNeededOptions.JSessionID = sockjs.DefaultJSessionID

	echo := echoHandler(logger)
	return testHandlers{
		newSockjsHandler("/echo", echoOptions, echo),
		newSockjsHandler("/cookie_needed_echo", cookieNeededOptions, echo),
		newSockjsHandler("/close", sockjs.DefaultOptions, closeHandler),
		newSockjsHandler("/disabled_websocket_echo", disabledWebsocketOptions, echo),
	}
}

func (t testHandlers) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	for _, handler := range t {
		if strings.HasPrefix(req.URL.Path, handler.prefix+"/") {
			handler.handler.ServeHTTP(rw, req)
			return
		}
	}
	http.NotFound(rw, req)
}

func echoHandler(logger *slog.Logger) func(sockjs.Session) {
	return func(session sockjs.Session) {
		logger.Info("session opened", "id", session.ID())
		for {
			msg, err := session.Recv()
			if err != nil {
				break
			}
			if err := session.Send(msg); err != nil {
				break
			}
		}
		logger.Info("session closed", "id", session.ID())
	}
}

func closeHandler(session sockjs.Session) {
	session.Close(3000, "Go away!")
}
