package main

import (
	"flag"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/config"
)

func main() {
	cfgPath := flag.String("config", "", "Path to a YAML config file.")
	port := flag.String("port", "", "Serial port path, or ws:// URL of a serial bridge. Overrides config.")
	addr := flag.String("addr", "", "Address to bind the HTTP server to. Overrides config.")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error). Overrides config.")
	flag.Parse()

	log := logrus.New()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	lvl, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.WithError(err).Fatal("parse log level")
	}
	log.SetLevel(lvl)

	ct := newController(cfg, log)
	if cfg.Serial.Port != "" {
		if err = ct.connect(cfg.Serial.Port); err != nil {
			log.WithError(err).WithField("port", cfg.Serial.Port).Warn("initial connect failed")
		}
	}

	api := newAPI(ct)

	log.WithField("addr", cfg.HTTP.Addr).Info("listening")
	err = http.ListenAndServe(cfg.HTTP.Addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"remote": req.RemoteAddr,
		}).Debug("request")
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.WithError(err).Fatal("serve")
	}
}
