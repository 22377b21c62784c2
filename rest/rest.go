// Package rest implements the RESTful API boundary of the wallet service. It
// maps the engine's typed domain errors to transport codes and never carries
// business logic of its own.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/custodia-tech/walletd/lib/assets"
	"github.com/custodia-tech/walletd/lib/msg"
	"github.com/custodia-tech/walletd/lib/store"
	"github.com/custodia-tech/walletd/lib/store/db"
	"github.com/custodia-tech/walletd/tx"
	"github.com/custodia-tech/walletd/wallet"
)

const timeout = 15

// Server holds the service dependencies behind the RESTful API.
type Server struct {
	dbtype  string
	db      store.DB
	mb      msg.MsgBroker
	wallets *wallet.Service
	engine  *tx.Engine
	reg     *assets.Registry
	log     zerolog.Logger
	s       *http.Server  // http server
	ss      *http.Server  // https server
	sc      chan struct{} // server channel used for graceful shutdowns
}

// New returns a pointer to a new API server.
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, ws *wallet.Service, eng *tx.Engine, reg *assets.Registry, log zerolog.Logger) *Server {
	return &Server{
		dbtype:  dbtype,
		db:      dbConn,
		mb:      mb,
		wallets: ws,
		engine:  eng,
		reg:     reg,
		log:     log.With().Str("svc", "rest").Logger(),
	}
}

// router builds the API definition.
func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler)
	r.HandleFunc("/networks", s.networksHandler).Methods("GET")                     // get configured networks
	r.HandleFunc("/assets", s.assetsHandler).Methods("GET")                         // get configured assets
	r.HandleFunc("/wallet", s.createWalletsHandler).Methods("POST")                 // provision a batch of wallets
	r.HandleFunc("/wallet", s.listWalletsHandler).Methods("GET")                    // list wallets
	r.HandleFunc("/wallet/{address}/balance", s.walletBalanceHandler).Methods("GET") // get wallet balance
	r.HandleFunc("/wallet/{address}", s.getWalletHandler).Methods("GET")            // get one wallet
	r.HandleFunc("/wallet/{address}", s.deleteWalletHandler).Methods("DELETE")      // deactivate a wallet
	r.HandleFunc("/tx", s.createTxHandler).Methods("POST")                          // create an outbound transfer
	r.HandleFunc("/tx", s.listTxHandler).Methods("GET")                             // list transactions
	r.HandleFunc("/tx/validate", s.validateTxHandler).Methods("POST")               // verify an inbound transfer
	r.HandleFunc("/tx/hash/{hash}", s.txByHashHandler).Methods("GET")               // get transaction by chain hash
	r.HandleFunc("/tx/wallet/{address}", s.txByWalletHandler).Methods("GET")        // list transactions of a wallet
	r.HandleFunc("/tx/{id}", s.txByIDHandler).Methods("GET")                        // get transaction by ledger id
	r.HandleFunc("/health", s.healthHandler).Methods("GET")                         // storage liveness and pool stats

	return r
}

// Init sets up and starts the http/https server to service the RESTful API.
// If sslPort, sslCert and sslKey are informed, it will start an https (TLS)
// server on the specified endpoint. Init blocks until Stop is called.
func (s *Server) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	r := s.router()
	http.Handle("/", r)

	// setup shutdown channel
	s.sc = make(chan struct{})

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = s.s.ListenAndServe()
		}()

		s.log.Info().Str("addr", endpoint+":"+port).Msg("listening to API http requests")
	}

	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = s.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		s.log.Info().Str("addr", endpoint+":"+sslPort).Msg("listening to API https requests")
	}

	// wait for servers to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}

// Stop shuts down the http servers implementing the RESTful API and closes
// gracefully the connections to the message broker and database.
func (s *Server) Stop() {
	if s.s != nil {
		if err := s.s.Shutdown(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("error in http server shutdown")
		}
	}

	if s.ss != nil {
		if err := s.ss.Shutdown(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("error in https server shutdown")
		}
	}

	close(s.sc) // indicate shutdowns have finished

	if s.mb != nil {
		if err := s.mb.Close(); err != nil {
			s.log.Error().Err(err).Msg("error closing message broker")
		}
	}

	if s.db != nil {
		err := db.Close(s.dbtype, s.db)
		s.log.Info().Str("dbtype", s.dbtype).Err(err).Msg("disconnecting database")
	}
}
