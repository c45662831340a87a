/*
Package sockjs provides a SockJS client. Following transports are implemented,
tried in this order unless the Registry says otherwise:

  - websocket
  - xhr-streaming
  - eventsource
  - xhr-polling
  - jsonp-polling

For the protocol see: https://github.com/sockjs/sockjs-protocol

A Session negotiates one transport, waits for the open frame and then
delivers messages in order until the server closes the session, the
transport fails, the server stops sending heartbeats or Disconnect is called.
Sessions are never resumed, Client.Reconnect starts a new one.

Example:

	client, err := sockjs.NewClient("http://localhost:8081/echo",
		sockjs.WithLogger(slog.Default()),
		sockjs.WithHeartbeatTimeout(time.Minute),
	)
	if err != nil {
		log.Fatal(err)
	}
	client.OnMessage(func(msg string) { log.Println("received", msg) })
	client.OnDisconnected(func(code int, reason string) { log.Println("closed", code, reason) })
	if err := client.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	client.Send(ctx, "hello")
	client.Disconnect(ctx)
*/
package sockjs
