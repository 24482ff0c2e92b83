// Package main: wallet service.
package main

import (
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tarancss/hd"

	"github.com/tarancss/vcw/lib/chain"
	"github.com/tarancss/vcw/lib/config"
	"github.com/tarancss/vcw/lib/msg"
	"github.com/tarancss/vcw/lib/msg/amqp"
	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/store/db"
	"github.com/tarancss/vcw/lib/token"
	"github.com/tarancss/vcw/wallet"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	if err = conf.Validate(); err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
		panic(err)
	}

	log.Printf("Connecting to database:%+v\n", conf.DBConn)

	// load blockchain client
	bc, err := chain.Init(conf.Chain)
	if err != nil {
		panic(err)
	}

	log.Print("Blockchain client loaded")

	// load token contract, either the configured address or the one in the truffle artifact
	contract := conf.Contract
	if contract == "" {
		if contract, err = token.LoadArtifact(conf.Artifact); err != nil {
			panic(err)
		}
	}

	tok, err := token.New(contract)
	if err != nil {
		panic(err)
	}

	log.Printf("Token contract at %s", tok.Address())

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}

		defer func() {
			errClose := mb.Close()
			log.Printf("Closing messageBroker: %e", errClose)
		}()
	default:
		log.Printf("Unknown message broker type: %s, transaction events will not be published\n", conf.MbType)
	}

	// load HD wallet
	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		panic(err)
	}

	// create wallet service
	w := wallet.New(dbConn, mb, bc, tok, hdw, conf)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		w.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Printf("Wallet: %s\n", w.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
