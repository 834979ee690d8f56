package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/sirupsen/logrus"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/config"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/grbl"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/program"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/serial"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/wsport"
)

var errNotConnected = errors.New("not connected")

// controller ties one connection, one runner and the event push
// channel together. The UI only ever talks to it.
type controller struct {
	cfg config.Config
	log *logrus.Logger
	sse *sse.Server

	mx     sync.Mutex
	client *grbl.Client
	runner *program.Runner
	prog   *program.Program
}

func newController(cfg config.Config, logger *logrus.Logger) *controller {
	return &controller{
		cfg: cfg,
		log: logger,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}
}

func (ct *controller) connect(port string) error {
	ct.mx.Lock()
	defer ct.mx.Unlock()
	if ct.client != nil {
		return errors.New("already connected")
	}

	var rw io.ReadWriteCloser
	var err error
	if strings.HasPrefix(port, "ws://") || strings.HasPrefix(port, "wss://") {
		rw, err = wsport.Dial(port, ct.cfg.Serial.BridgePortName, ct.cfg.Serial.Baud)
	} else {
		rw, err = serial.Open(port, ct.cfg.Serial.Baud)
	}
	if err != nil {
		return err
	}

	client, err := grbl.Connect(rw, grbl.Options{
		BufferSize:     ct.cfg.Engine.BufferSize,
		PollInterval:   ct.cfg.Engine.PollInterval.Std(),
		CommandTimeout: ct.cfg.Engine.CommandTimeout.Std(),
		HomingTimeout:  ct.cfg.Engine.HomingTimeout.Std(),
		DetectGrace:    ct.cfg.Engine.DetectGrace.Std(),
		Logger:         ct.log,
	})
	if err != nil {
		return err
	}

	runner := program.NewRunner(client, ct.log)
	runner.OnProgress(func(p program.Progress) {
		ct.push("/events/state", progressMessage{Progress: p})
	})

	ct.client = client
	ct.runner = runner
	go ct.forwardEvents(client)

	ct.log.WithField("port", port).Info("connected")
	return nil
}

func (ct *controller) disconnect() error {
	ct.mx.Lock()
	client := ct.client
	ct.client = nil
	ct.runner = nil
	ct.prog = nil
	ct.mx.Unlock()

	if client == nil {
		return errNotConnected
	}
	return client.Close()
}

// engine returns the live client, or errNotConnected.
func (ct *controller) engine() (*grbl.Client, error) {
	ct.mx.Lock()
	defer ct.mx.Unlock()
	if ct.client == nil {
		return nil, errNotConnected
	}
	return ct.client, nil
}

func (ct *controller) run() (*program.Runner, error) {
	ct.mx.Lock()
	defer ct.mx.Unlock()
	if ct.runner == nil {
		return nil, errNotConnected
	}
	return ct.runner, nil
}

type stateMessage struct {
	State grbl.Snapshot `json:"state"`
}

type consoleMessage struct {
	Dir  string `json:"dir"` // "tx" or "rx"
	Line string `json:"line"`
}

type progressMessage struct {
	Progress program.Progress `json:"progress"`
}

func (ct *controller) push(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		ct.log.WithError(err).Error("marshal event")
		return
	}
	ct.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
}

// forwardEvents turns engine events into SSE messages until the
// connection dies, then reflects the disconnect to subscribers.
func (ct *controller) forwardEvents(client *grbl.Client) {
	events := client.Events()
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case grbl.EventState:
				ct.push("/events/state", stateMessage{State: ev.State})
			case grbl.EventSent:
				ct.push("/events/console", consoleMessage{Dir: "tx", Line: ev.Line})
			case grbl.EventRecv:
				ct.push("/events/console", consoleMessage{Dir: "rx", Line: ev.Line})
			}
		case <-client.Done():
			ct.mx.Lock()
			if ct.client == client {
				ct.client = nil
				ct.runner = nil
				ct.prog = nil
			}
			ct.mx.Unlock()
			ct.push("/events/state", stateMessage{State: client.State()})
			ct.log.Info("connection closed")
			return
		}
	}
}
