// Package main: custodial wallet service.
//
// The service issues and manages custodial wallets on one active EVM network,
// submits asset transfers and verifies inbound transfers against on-chain
// receipts. See cmd/conf.json for a sample configuration.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/custodia-tech/walletd/lib/assets"
	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/chain/evm"
	"github.com/custodia-tech/walletd/lib/config"
	"github.com/custodia-tech/walletd/lib/msg"
	"github.com/custodia-tech/walletd/lib/msg/amqp"
	"github.com/custodia-tech/walletd/lib/store"
	"github.com/custodia-tech/walletd/lib/store/db"
	"github.com/custodia-tech/walletd/rest"
	"github.com/custodia-tech/walletd/tx"
	"github.com/custodia-tech/walletd/wallet"
)

const brokerRetryWait = 10 * time.Second

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	debug := flag.Bool("d", false, "flag to enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := log.With().Str("app", "walletd").Logger()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load configuration")
	}

	logger.Info().Str("dbtype", conf.DBType).Str("network", conf.CurrentNetwork).Msg("configuration loaded")

	// load the asset registry
	reg, err := assets.New(conf)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load asset registry")
	}

	// connect to database
	var dbConn store.DB

	if dbConn, err = db.New(conf.DBType, conf.DBConn, conf.Pool); err != nil {
		logger.Fatal().Err(err).Msg("cannot connect to database")
	}

	logger.Info().Str("dbtype", conf.DBType).Msg("connected to database")

	// load all chain clients
	chains, err := chain.Init(conf.Networks, conf.HDSeed, evm.Dial)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load chain clients")
	}

	logger.Info().Int("networks", len(chains)).Msg("chain clients loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			logger.Info().Msg("serving metrics API")

			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())

			if err := http.ListenAndServe(":9100", h); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(brokerRetryWait) // wait for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				logger.Fatal().Err(err).Msg("cannot connect to message broker")
			}
		}

		if err = mb.Setup(nil); err != nil {
			logger.Fatal().Err(err).Msg("cannot set up message broker")
		}
	case "":
		logger.Warn().Msg("no message broker configured, transfer events will not be published")
	default:
		logger.Fatal().Str("mbtype", conf.MbType).Msg("unknown message broker type")
	}

	// assemble the services
	ws := wallet.New(dbConn, chains, reg, logger)
	engine := tx.New(dbConn, chains, reg, mb, logger)
	api := rest.New(conf.DBType, dbConn, mb, ws, engine, reg, logger)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		logger.Info().Msg("shutdown signal received")
		// do last actions and wait for all write operations to end
		api.Stop()
		chain.End(chains)
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	logger.Info().Msg(api.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
