package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/clients/gameapi"
	"github.com/mcdev12/deduction/go/internal/config"
	"github.com/mcdev12/deduction/go/internal/session"
	"github.com/mcdev12/deduction/go/internal/session/inspect"
	"github.com/mcdev12/deduction/go/internal/session/mirror"
)

type Services struct {
	Client  *session.Client
	Mirror  *mirror.Publisher // nil when disabled
	Inspect *inspect.Handler
}

func setupServices(cfg config.Config) (*Services, error) {
	// Host API → session client → optional mirror sink → inspection handler
	connCfg, err := connectionConfig(cfg)
	if err != nil {
		return nil, err
	}

	api := gameapi.NewGameApiClient(cfg.Host.BaseURL, cfg.Host.RequestTimeout)

	var sinks []session.EventSink
	var publisher *mirror.Publisher
	if cfg.Mirror.Enabled {
		publisher, err = mirror.NewPublisher(mirrorConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to start event mirror: %w", err)
		}
		sinks = append(sinks, publisher)
		log.Info().
			Str("nats_url", cfg.Mirror.URL).
			Str("stream", cfg.Mirror.StreamName).
			Msg("event mirror enabled")
	}

	client := session.NewClient(api, session.Options{
		Connection: connCfg,
		Sinks:      sinks,
	})

	var handler *inspect.Handler
	if publisher != nil {
		handler = inspect.NewHandler(client, publisher)
	} else {
		handler = inspect.NewHandler(client, nil)
	}

	return &Services{
		Client:  client,
		Mirror:  publisher,
		Inspect: handler,
	}, nil
}
