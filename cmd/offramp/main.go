package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offramp/internal/offramp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("OFFRAMP_CONFIG", "/offramp.yaml"), "path to offramp.yaml")
	flag.Parse()

	cfg, err := offramp.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	svc, err := offramp.NewService(cfg)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}
	defer svc.Close()

	installCtx, cancelInstall := context.WithTimeout(context.Background(), 2*time.Minute)
	svc.Install(installCtx)
	cancelInstall()
	if err := svc.Activate(); err != nil {
		log.Fatalf("activate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxySrv, err := serve(cfg.Server.Port, svc.Handler(), "proxy", stop)
	if err != nil {
		log.Fatalf("%v", err)
	}
	controlSrv, err := serve(cfg.Server.ControlPort, svc.ControlHandler(), "control", stop)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("offramp up, origin=%s", cfg.Server.Origin)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = proxySrv.Shutdown(shutdownCtx)
	_ = controlSrv.Shutdown(shutdownCtx)
}

func serve(port int, h http.Handler, name string, stop func()) (*http.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("%s listening on %s", name, addr)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("%s server error: %v", name, err)
			stop()
		}
	}()
	return srv, nil
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
