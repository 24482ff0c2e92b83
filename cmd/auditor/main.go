// package main: auditor service
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarancss/vcw/auditor"
	"github.com/tarancss/vcw/lib/chain"
	"github.com/tarancss/vcw/lib/config"
	"github.com/tarancss/vcw/lib/msg"
	"github.com/tarancss/vcw/lib/msg/amqp"
	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/store/db"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	flag.Parse()

	// extract configuration
	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}
	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB
	log.Printf("Connecting to database:%+v\n", conf.DBConn)
	if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
		panic(err)
	}

	// load blockchain client
	var bc chain.Chain
	if bc, err = chain.Init(conf.Chain); err != nil {
		panic(err)
	}
	log.Print("Blockchain client loaded")

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
	default:
		log.Panicf("Unknown message broker type: %s, the auditor cannot consume transaction events", conf.MbType)
	}

	// create auditor service
	a := auditor.New(dbConn, mb, bc, time.Duration(conf.ReceiptWait)*time.Second)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// closing the broker closes the event channel, letting the audit routine drain and return
		err := mb.Close()
		log.Printf("Closing messageBroker: %e", err)
		chain.End(bc)
		_ = db.Close(conf.DBType, dbConn)
	}()

	// launch the audit routine and wait for its return
	done, err := a.Audit()
	if err != nil {
		panic(err)
	}
	log.Printf("Audit: %s\n", <-done)
}
