package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cachemir/ringkv/internal/server"
	"github.com/cachemir/ringkv/pkg/config"
)

func main() {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting ringkv server with config: %+v", cfg)

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	go func() {
		if err := srv.Serve(); err != nil {
			log.Printf("Server stopped accepting: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-quitFromConsole():
	}
	log.Println("Shutting down server...")

	if err := srv.Shutdown(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	log.Println("Server stopped")
}

// quitFromConsole closes the returned channel once "0" is read from stdin.
// A closed or detached stdin leaves the server to be stopped by signal.
func quitFromConsole() <-chan struct{} {
	quit := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Println("Enter 0 to quit server:")
			if !scanner.Scan() {
				return
			}
			if strings.TrimSpace(scanner.Text()) == "0" {
				close(quit)
				return
			}
		}
	}()
	return quit
}
