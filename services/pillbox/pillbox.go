package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/pillbox-tech/pillbox/broker"
	"github.com/pillbox-tech/pillbox/core"
	"github.com/pillbox-tech/pillbox/core/csql"
	"github.com/pillbox-tech/pillbox/core/logger"
	"github.com/pillbox-tech/pillbox/events"
	"github.com/pillbox-tech/pillbox/schedule"
	"github.com/pillbox-tech/pillbox/telemetry"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres            string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword    string `env:"POSTGRES_PASSWORD,default=" description:"password to the Postgres DB"`
	Schema              string `env:"SCHEMA,default=pillbox" description:"the database schema"`
	Port                string `env:"PORT,default=3000" description:"the HTTP listen port"`
	MaxOpenConns        int    `env:"MAX_OPEN_CONNS,default=10" description:"bound for the database connection pool"`
	TransactionalIngest bool   `env:"TRANSACTIONAL_INGEST,default=false" description:"wrap each sensor report in a single transaction"`
	KafkaBrokers        string `env:"KAFKA_BROKERS,default=" description:"comma separated Kafka brokers for ingestion events"`
	KafkaTopic          string `env:"KAFKA_TOPIC,default=pillbox_events" description:"Kafka topic for ingestion events"`
	MQTTCACertFile      string `env:"MQTT_CA_CERT_FILE,default=" description:"CA certificate for the MQTT bridge"`
	MQTTCertFile        string `env:"MQTT_CERT_FILE,default=" description:"server certificate for the MQTT bridge"`
	MQTTKeyFile         string `env:"MQTT_KEY_FILE,default=" description:"server key for the MQTT bridge"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logger.InitLogger(logrus.InfoLevel)

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.Schema).
		WithMaxOpenConns(service.MaxOpenConns)
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)
	handleCORS(router)
	handleCompression(router)
	handleHealth(router)

	var notifier core.Notifier
	if len(service.KafkaBrokers) > 0 {
		kafkaNotifier := events.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	telemetryStore := telemetry.NewPostgresStore(db, service.TransactionalIngest)
	telemetry.NewAPI(&telemetry.Builder{
		Store:    telemetryStore,
		Router:   router,
		Notifier: notifier,
	})

	schedule.NewAPI(&schedule.Builder{
		Store:  schedule.NewPostgresStore(db),
		Router: router,
	})

	srv := &http.Server{
		Addr:         ":" + service.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if len(service.MQTTCertFile) > 0 {
		mqttBroker := broker.NewBroker(&broker.Builder{
			Ingestor:   telemetryStore,
			CACertFile: service.MQTTCACertFile,
			CertFile:   service.MQTTCertFile,
			KeyFile:    service.MQTTKeyFile,
		})
		logger.Default().Infoln("listen on port :" + service.Port)
		go srv.ListenAndServe()
		mqttBroker.Run()
		return
	}

	logger.Default().Infoln("listen on port :" + service.Port)
	srv.ListenAndServe()
}

func handleHealth(router *mux.Router) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Status string    `json:"status"`
			Time   time.Time `json:"time"`
		}{Status: "ok", Time: time.Now().UTC()})
	}).Methods(http.MethodOptions, http.MethodGet)
}

func handleCORS(router *mux.Router) {
	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Set CORS headers for all requests
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
	router.Use(corsMiddleware)
}

func handleCompression(router *mux.Router) {
	compressionMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.CompressHandler(h).ServeHTTP(w, r)
		})
	}
	router.Use(compressionMiddleware)
}
