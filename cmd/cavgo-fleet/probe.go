package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/config"
	"github.com/Genocadio/cavgocompany-sub001/internal/subscription"
	"github.com/google/subcommands"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

type probeCmd struct {
	logger   zerolog.Logger
	settings *config.Settings

	timeoutSec int
}

func (*probeCmd) Name() string     { return "probe" }
func (*probeCmd) Synopsis() string { return "check the subscription endpoint handshake" }
func (*probeCmd) Usage() string {
	return `probe [-timeout <seconds>]:
	dials the graphql-ws endpoint, sends connection_init with the configured
	token and waits for connection_ack.
  `
}

func (p *probeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.timeoutSec, "timeout", 10, "seconds to wait for connection_ack")
}

func (p *probeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	endpoint, err := subscription.EndpointFromHTTP(p.settings.GraphQLEndpoint)
	if err != nil {
		p.logger.Error().Err(err).Msg("cannot derive subscription endpoint")
		return subcommands.ExitFailure
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Duration(p.timeoutSec) * time.Second,
		Subprotocols:     []string{subscription.ProtocolName},
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		p.logger.Error().Err(err).Str("endpoint", endpoint).Msg("websocket dial failed")
		return subcommands.ExitFailure
	}
	defer conn.Close()

	init := map[string]any{
		"type": "connection_init",
		"payload": map[string]any{
			"headers": map[string]string{"authorization": "Bearer " + p.settings.APIToken},
		},
	}
	payload, _ := json.Marshal(init)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.logger.Error().Err(err).Msg("failed to send connection_init")
		return subcommands.ExitFailure
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Duration(p.timeoutSec) * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			p.logger.Error().Err(err).Msg("no connection_ack received")
			return subcommands.ExitFailure
		}
		if gjson.GetBytes(raw, "type").String() == "connection_ack" {
			fmt.Printf("handshake ok against %s \n", endpoint)
			return subcommands.ExitSuccess
		}
	}
}
