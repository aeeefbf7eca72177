package main

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/config"
	"chatd/db"
	"chatd/server"
)

const controlSocketPath = "/tmp/chatd.sock"

func main() {
	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	srvConfig := &server.ServerConfig{
		Port:         cfg.Port,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	srv, err := server.New(database, srvConfig)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	// Control socket for management commands
	go startControlSocket(srv)

	// WebSocket gateway and metrics share the HTTP listener
	go startHTTP(srv, cfg.HTTPPort)

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)
	}()

	log.Fatal(srv.Start())
}

func startHTTP(srv *server.Server, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + strconv.Itoa(port)
	log.Printf("HTTP gateway listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("HTTP gateway stopped: %v", err)
	}
}

func startControlSocket(srv *server.Server) {
	// Remove stale socket file from a previous run
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Printf("Control socket listening on %s", controlSocketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Printf("Shutdown requested via control socket")
		srv.Shutdown()

		os.Remove(controlSocketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
