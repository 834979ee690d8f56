// Package wsport connects to a serial-port-JSON-server style bridge
// over a websocket and exposes the remote serial port as an
// io.ReadWriteCloser, so the protocol engine does not care whether the
// controller is on a local device node or across the network.
package wsport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// DataFrame is a chunk of serial data relayed by the bridge.
type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

// Port is a remote serial port.
type Port struct {
	name string

	ws *websocket.Conn

	wMx sync.Mutex

	readBuf []byte
	frames  chan []byte

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Dial opens the named port on the bridge at url.
func Dial(url, name string, baud int) (*Port, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsport: dial %s: %w", url, err)
	}

	p := &Port{
		name:    name,
		ws:      ws,
		frames:  make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}

	err = ws.WriteMessage(websocket.TextMessage, []byte("open "+name+" "+strconv.Itoa(baud)))
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("wsport: open %s: %w", name, err)
	}

	go p.readLoop()

	return p, nil
}

func (p *Port) readLoop() {
	defer close(p.frames)
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// command echo, ignore
			continue
		}
		var frame DataFrame
		if err = json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Port != p.name || frame.Data == "" {
			continue
		}
		select {
		case p.frames <- []byte(frame.Data):
		case <-p.closeCh:
			return
		}
	}
}

func (p *Port) Read(buf []byte) (int, error) {
	if len(p.readBuf) == 0 {
		select {
		case <-p.closeCh:
			return 0, io.EOF
		case frame, ok := <-p.frames:
			if !ok {
				return 0, io.EOF
			}
			p.readBuf = frame
		}
	}

	n := copy(buf, p.readBuf)
	p.readBuf = p.readBuf[n:]
	return n, nil
}

func (p *Port) Write(buf []byte) (int, error) {
	select {
	case <-p.closeCh:
		return 0, errors.New("wsport: port closed")
	default:
	}

	p.wMx.Lock()
	defer p.wMx.Unlock()
	err := p.ws.WriteMessage(websocket.TextMessage, []byte("send "+p.name+" "+string(buf)))
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.wMx.Lock()
		p.ws.WriteMessage(websocket.TextMessage, []byte("close "+p.name))
		p.wMx.Unlock()
		err = p.ws.Close()
	})
	return err
}
