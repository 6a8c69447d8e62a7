// Package broker is the MQTT ingestion bridge for boxes in the field.
//
// Boxes authenticate with TLS client certificates whose common name is the
// box id, and publish device reports to pillbox/{box_id}/telemetry. Reports
// take the exact same validation and persistence path as HTTP ingestion.
package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/pillbox-tech/pillbox/core/logger"
	"github.com/pillbox-tech/pillbox/telemetry"
)

// Ingestor stores parsed device reports. telemetry.Store satisfies this.
type Ingestor interface {
	IngestReport(ctx context.Context, report telemetry.DeviceReport) error
}

// Broker is the MQTT broker boxes report to.
type Broker struct {
	p *plugin
}

// Builder is a builder helper for the Broker
type Builder struct {
	// Ingestor receives every valid device report. This is mandatory.
	Ingestor Ingestor
	// Address is the TLS listen address. The default is ":8883".
	Address string
	// CACertFile is the file path to the X.509 certificate of the certificate authority.
	// This is mandatory.
	CACertFile string
	// CertFile is the file path to the X.509 certificate file. This is mandatory.
	CertFile string
	// KeyFile is the file path to the X.509 private key file. This is mandatory.
	KeyFile string
}

// plugin is the plugin for GMQTT
type plugin struct {
	tlsln       net.Listener
	boxIdsRwmux sync.RWMutex
	boxIds      map[net.Conn]string
	service     gmqtt.Server
	ingestor    Ingestor
}

// NewBroker returns a new broker. The broker will not
// actually run until you call Run()
func NewBroker(bb *Builder) *Broker {

	if bb.Ingestor == nil {
		panic("Ingestor is missing")
	}
	if len(bb.CACertFile) == 0 {
		panic("ca-cert file missing")
	}
	if len(bb.CertFile) == 0 {
		panic("cert file missing")
	}
	if len(bb.KeyFile) == 0 {
		panic("key file missing")
	}

	address := bb.Address
	if len(address) == 0 {
		address = ":8883"
	}

	crt, err := tls.LoadX509KeyPair(bb.CertFile, bb.KeyFile)
	if err != nil {
		panic(err)
	}

	caCert, _ := os.ReadFile(bb.CACertFile)
	caCertPool := x509.NewCertPool()
	ok := caCertPool.AppendCertsFromPEM(caCert)
	logger.Default().Debugln("broker: certs OK =", ok)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{crt},
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
	tlsln, err := tls.Listen("tcp", address, tlsConfig)
	if err != nil {
		panic(err)
	}

	return &Broker{
		p: &plugin{
			tlsln:    tlsln,
			boxIds:   make(map[net.Conn]string),
			ingestor: bb.Ingestor,
		},
	}
}

// Run is blocking and runs the server. It listens on syscall.SIGTERM for
// a graceful shutdown.
func (b *Broker) Run() {

	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.tlsln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()

	fmt.Println("started...")
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	s.Stop(context.Background())
	fmt.Println("stopped")
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	logger.Default().Debugln("broker: load pillbox bridge")
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "pillbox bridge" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func (p *plugin) boxIDFromConnection(conn net.Conn) string {
	p.boxIdsRwmux.RLock()
	defer p.boxIdsRwmux.RUnlock()
	return p.boxIds[conn]
}

// OnAcceptWrapper authorizes boxes via TLS certificates. The certificate
// common name is the box id.
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		tlsConn, ok := conn.(*tls.Conn)
		if ok {
			err := tlsConn.Handshake()
			if err != nil {
				return false
			}
			state := tlsConn.ConnectionState()
			cert := state.VerifiedChains[0][0]
			boxID := cert.Subject.CommonName
			if len(boxID) == 0 {
				logger.Default().Infoln("broker: certificate without box id rejected")
				return false
			}

			p.boxIdsRwmux.Lock()
			defer p.boxIdsRwmux.Unlock()
			p.boxIds[conn] = boxID
			logger.Default().Infoln("broker: accept", boxID)
		}
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces that the MQTT client ID matches the certificate common name
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		boxID := p.boxIDFromConnection(client.Connection())
		if client.OptionsReader().ClientID() != boxID {
			logger.Default().Infoln("broker: connect denied,", client.OptionsReader().ClientID(), "not authorized")
			return packets.CodeNotAuthorized
		}
		logger.Default().Infoln("broker: connect", boxID)
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper intercepts telemetry messages
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		boxID := client.OptionsReader().ClientID()
		topic := msg.Topic()
		if topic != "pillbox/"+boxID+"/telemetry" {
			logger.Default().Infoln("broker: message on", topic, "denied")
			return false
		}

		report, err := telemetry.ParseReport(msg.Payload())
		if err != nil {
			logger.Default().Errorln("broker:", err.Error())
			return false
		}
		if report.BoxID != boxID {
			logger.Default().Infoln("broker: report box id", report.BoxID, "does not match", boxID)
			return false
		}

		if err := p.ingestor.IngestReport(ctx, report); err != nil {
			logger.Default().Errorln("broker: ingest failed:", err.Error())
			return false
		}

		return arrived(ctx, client, msg)
	}
}

// OnSubscribeWrapper enforces topic policy: a box may only subscribe
// beneath its own prefix.
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		boxID := client.OptionsReader().ClientID()
		if !strings.HasPrefix(topic.Name, "pillbox/"+boxID+"/") {
			logger.Default().Infoln("broker: subscribe", boxID, topic.Name, "denied!")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}
