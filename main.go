package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/tidalstreamer/mkvremux/internal/remux"
	"github.com/tidalstreamer/mkvremux/internal/remux/httpapi"
	"github.com/tidalstreamer/mkvremux/internal/remux/manager"
)

const VERSION = "0.1.0"

func main() {
	c := &remux.Config{
		Version: VERSION,
		Bind:    ":47788",
	}

	for _, arg := range os.Args[1:] {
		if arg == "-version" {
			fmt.Print("mkvremux " + VERSION)
			return
		}
		c.FromFile(arg) // config file
	}

	c.FromEnv(os.Getenv("MKVREMUX_ENV_FILE"))
	c.AutoDetect()

	reg := manager.New(c)
	defer reg.Close()

	h := httpapi.New(c, reg)
	logged := handlers.CombinedLoggingHandler(os.Stdout, h)
	recovered := handlers.RecoveryHandler()(logged)

	srv := &http.Server{
		Addr:    c.Bind,
		Handler: recovered,
	}

	go func() {
		log.Printf("mkvremux listening on %s", c.Bind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
