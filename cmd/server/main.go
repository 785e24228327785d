package main

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/registry"
	"github.com/glowmedia/streamgate/internal/rtc"
	"github.com/glowmedia/streamgate/internal/session"
	"github.com/glowmedia/streamgate/internal/signal"
	"github.com/glowmedia/streamgate/internal/store"
	"github.com/glowmedia/streamgate/internal/transcode"
	"github.com/glowmedia/streamgate/internal/ws"
)

func main() {
	app := &cli.App{
		Name:        "streamgate",
		Usage:       "Media relay gateway",
		Description: "Relays WebRTC sessions and bridges them into HLS via an external transcoder",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':8080' (default value) for listen on 0.0.0.0:8080",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the YAML config file",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: conf.Redis.Addr,
		DB:   conf.Redis.DB,
	})
	bus := signal.RedisPubSub(rdb)

	var history transcode.History = store.NullHistory{}
	if conf.Database.DSN != "" {
		db, err := store.Open(conf.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		history = store.NewJobsRepository(db)
	}

	mediaEngine := rtc.NewEngine(conf)
	defer mediaEngine.Close()

	resources := registry.New()

	orchestrator := transcode.NewOrchestrator(transcode.Options{
		Config:   conf.Transcode,
		Engine:   mediaEngine,
		Registry: resources,
		Runner:   transcode.NewExecRunner(conf.Transcode.FFmpegPath),
		History:  history,
	})
	defer orchestrator.Close()

	manager := session.NewManager(session.Options{
		Config:    conf,
		Engine:    mediaEngine,
		Registry:  resources,
		Publisher: bus,
		Bridge:    orchestrator,
	})

	router, err := signal.NewRouter(bus)
	if err != nil {
		return err
	}
	manager.Register(router)

	<-router.Start()
	defer func() { <-router.Stop() }()

	app := ws.New(ws.AppOptions{
		Env:        core.Environment(c.String("env")),
		Address:    c.String("address"),
		HLSDir:     conf.Transcode.OutputDir,
		Publisher:  bus,
		Subscriber: bus,
	})

	return app.Start()
}
