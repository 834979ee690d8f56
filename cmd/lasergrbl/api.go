package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/grbl"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/program"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/raster"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/serial"
)

type api struct {
	http.Handler
	ct *controller
}

func newAPI(ct *controller) *api {
	a := &api{ct: ct}

	r := mux.NewRouter()
	r.HandleFunc("/api/ports", a.ports).Methods("GET")
	r.HandleFunc("/api/connect", a.connect).Methods("POST")
	r.HandleFunc("/api/disconnect", a.disconnect).Methods("POST")
	r.HandleFunc("/api/state", a.state).Methods("GET")

	r.HandleFunc("/api/send", a.send).Methods("POST")
	r.HandleFunc("/api/jog", a.jog).Methods("POST")
	r.HandleFunc("/api/home", a.home).Methods("POST")
	r.HandleFunc("/api/origin", a.origin).Methods("POST")
	r.HandleFunc("/api/unlock", a.unlock).Methods("POST")
	r.HandleFunc("/api/reset", a.reset).Methods("POST")
	r.HandleFunc("/api/laser", a.laser).Methods("POST")
	r.HandleFunc("/api/feed", a.feed).Methods("POST")

	r.HandleFunc("/api/program", a.loadProgram).Methods("POST")
	r.HandleFunc("/api/program", a.progress).Methods("GET")
	r.HandleFunc("/api/program/start", a.start).Methods("POST")
	r.HandleFunc("/api/program/pause", a.pause).Methods("POST")
	r.HandleFunc("/api/program/resume", a.resume).Methods("POST")
	r.HandleFunc("/api/program/abort", a.abort).Methods("POST")

	r.HandleFunc("/api/generate", a.generate).Methods("POST")

	r.PathPrefix("/events/").Handler(ct.sse)

	a.Handler = r
	return a
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNotConnected):
		code = http.StatusConflict
	case errors.Is(err, serial.ErrPortUnavailable), errors.Is(err, grbl.ErrNoDeviceResponse):
		code = http.StatusBadGateway
	case errors.Is(err, raster.ErrInvalidDimensions), errors.Is(err, raster.ErrEmptyImage):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func (a *api) ports(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, serial.ListPorts())
}

func (a *api) connect(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Port string `json:"port"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Port == "" {
		http.Error(w, "port required", http.StatusBadRequest)
		return
	}
	if err := a.ct.connect(body.Port); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, a.mustState())
}

func (a *api) disconnect(w http.ResponseWriter, req *http.Request) {
	if err := a.ct.disconnect(); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) mustState() grbl.Snapshot {
	client, err := a.ct.engine()
	if err != nil {
		return grbl.Snapshot{Status: grbl.StatusDisconnected}
	}
	return client.State()
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, a.mustState())
}

// withEngine runs fn against the live connection, mapping the result
// to the HTTP response. Device errors arrive as resolution outcomes,
// never panics.
func (a *api) withEngine(w http.ResponseWriter, req *http.Request, fn func(ctx context.Context, c *grbl.Client) error) {
	client, err := a.ct.engine()
	if err != nil {
		fail(w, err)
		return
	}
	if err := fn(req.Context(), client); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) send(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Line string `json:"line"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Line == "" {
		http.Error(w, "line required", http.StatusBadRequest)
		return
	}
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.Send(ctx, body.Line)
	})
}

func (a *api) jog(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Axis  string  `json:"axis"`
		Delta float64 `json:"delta"`
		Feed  float64 `json:"feed"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || len(body.Axis) != 1 {
		http.Error(w, "axis, delta and feed required", http.StatusBadRequest)
		return
	}
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.Jog(ctx, body.Axis[0], body.Delta, body.Feed)
	})
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.Home(ctx)
	})
}

func (a *api) origin(w http.ResponseWriter, req *http.Request) {
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.SetOrigin(ctx)
	})
}

func (a *api) unlock(w http.ResponseWriter, req *http.Request) {
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.Unlock(ctx)
	})
}

func (a *api) reset(w http.ResponseWriter, req *http.Request) {
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.SoftReset()
	})
}

func (a *api) laser(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Power int `json:"power"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "power required", http.StatusBadRequest)
		return
	}
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.SetLaserPower(ctx, body.Power)
	})
}

func (a *api) feed(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Feed float64 `json:"feed"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Feed <= 0 {
		http.Error(w, "feed required", http.StatusBadRequest)
		return
	}
	a.withEngine(w, req, func(ctx context.Context, c *grbl.Client) error {
		return c.SetFeedRate(ctx, body.Feed)
	})
}

type programInfo struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

func (a *api) loadProgram(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := program.Load(string(data))
	if p.Len() == 0 {
		http.Error(w, "no g-code found", http.StatusBadRequest)
		return
	}

	a.ct.mx.Lock()
	a.ct.prog = p
	a.ct.mx.Unlock()

	writeJSON(w, programInfo{ID: p.ID.String(), Lines: p.Lines})
}

func (a *api) progress(w http.ResponseWriter, req *http.Request) {
	runner, err := a.ct.run()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, runner.Progress())
}

func (a *api) start(w http.ResponseWriter, req *http.Request) {
	runner, err := a.ct.run()
	if err != nil {
		fail(w, err)
		return
	}

	a.ct.mx.Lock()
	p := a.ct.prog
	a.ct.mx.Unlock()
	if p == nil {
		http.Error(w, "no program loaded", http.StatusConflict)
		return
	}

	if err := runner.Start(p); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) runnerOp(w http.ResponseWriter, fn func(r *program.Runner) error) {
	runner, err := a.ct.run()
	if err != nil {
		fail(w, err)
		return
	}
	if err := fn(runner); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) pause(w http.ResponseWriter, req *http.Request) {
	a.runnerOp(w, func(r *program.Runner) error { return r.Pause() })
}

func (a *api) resume(w http.ResponseWriter, req *http.Request) {
	a.runnerOp(w, func(r *program.Runner) error { return r.Resume() })
}

func (a *api) abort(w http.ResponseWriter, req *http.Request) {
	a.runnerOp(w, func(r *program.Runner) error { return r.Abort() })
}

type generateRequest struct {
	// Grid is row-major intensity samples, 0 black to 255 white. A
	// plain number grid keeps the endpoint usable from any client;
	// []byte would demand base64.
	Grid              [][]int `json:"grid"`
	WidthMM           float64 `json:"widthMm"`
	HeightMM          float64 `json:"heightMm"`
	ResolutionPxPerMM int     `json:"resolutionPxPerMm"`
	Threshold         *int    `json:"threshold"`
	FeedRate          float64 `json:"feedRate"`
	LaserPowerMax     int     `json:"laserPowerMax"`
	Gamma             float64 `json:"gamma"`
	FixedPower        int     `json:"fixedPower"`
}

func (a *api) generate(w http.ResponseWriter, req *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img, err := gridImage(body.Grid)
	if err != nil {
		fail(w, err)
		return
	}

	defaults := a.ct.cfg.Toolpath
	opts := raster.Options{
		ResolutionPxPerMM: defaults.ResolutionPxPerMM,
		Threshold:         uint8(defaults.Threshold),
		WidthMM:           body.WidthMM,
		HeightMM:          body.HeightMM,
		FeedRate:          defaults.FeedRate,
		LaserPowerMax:     defaults.LaserPowerMax,
		ZigZag:            defaults.ZigZag,
		ReturnHome:        defaults.ReturnHome,
	}
	if body.ResolutionPxPerMM != 0 {
		opts.ResolutionPxPerMM = body.ResolutionPxPerMM
	}
	if body.Threshold != nil {
		opts.Threshold = uint8(*body.Threshold)
	}
	if body.FeedRate != 0 {
		opts.FeedRate = body.FeedRate
	}
	if body.LaserPowerMax != 0 {
		opts.LaserPowerMax = body.LaserPowerMax
	}
	switch {
	case body.FixedPower != 0:
		opts.Power = raster.FixedPower(body.FixedPower)
	case body.Gamma != 0:
		opts.Power = raster.GammaPower(body.Gamma)
	}

	p, err := raster.Generate(img, opts)
	if err != nil {
		fail(w, err)
		return
	}

	a.ct.mx.Lock()
	a.ct.prog = p
	a.ct.mx.Unlock()

	writeJSON(w, programInfo{ID: p.ID.String(), Lines: p.Lines})
}

func gridImage(grid [][]int) (*raster.Image, error) {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, raster.ErrEmptyImage
	}
	img := raster.NewImage(len(grid[0]), len(grid))
	for y, row := range grid {
		if len(row) != img.W {
			return nil, raster.ErrEmptyImage
		}
		for x, v := range row {
			if v < 0 || v > 255 {
				return nil, raster.ErrEmptyImage
			}
			img.Set(x, y, uint8(v))
		}
	}
	return img, nil
}
