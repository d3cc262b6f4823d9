package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cachemir/ringkv/pkg/client"
	"github.com/cachemir/ringkv/pkg/config"
)

func main() {
	cfg, err := config.LoadClientConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}
	if len(cfg.Ports) == 0 {
		fmt.Println("You must enter server pool ports as command line arguments")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("Client attempting to connect to %d servers on %s\n\n", len(cfg.Ports), cfg.Host)

	c := client.NewWithConfig(cfg)
	defer c.Close()

	stats := c.Stats()
	fmt.Printf("Ring order: %v (%v of %v servers reachable)\n", c.Ports(), stats["alive"], stats["nodes"])

	run(c, bufio.NewScanner(os.Stdin))
}

func run(c *client.Client, in *bufio.Scanner) {
	fmt.Println("========================")
	fmt.Println("Started ringkv client")
	fmt.Println("========================")

	prompt := func(label string) (string, bool) {
		fmt.Print(label)
		if !in.Scan() {
			return "", false
		}
		return strings.TrimSpace(in.Text()), true
	}

	for {
		fmt.Println("\nAvailable operations:")
		fmt.Println("\t1. Get")
		fmt.Println("\t2. Put")
		fmt.Println("\t3. Quit")

		op, ok := prompt("Choose an operation: ")
		if !ok {
			return
		}

		switch op {
		case "1":
			key, ok := prompt("Enter the key to fetch: ")
			if !ok {
				return
			}
			if value, found := c.Get(key); found {
				fmt.Printf("\tReceived value: %s\n", value)
			} else {
				fmt.Println("\tValue not found")
			}

		case "2":
			key, ok := prompt("Enter the key to put: ")
			if !ok {
				return
			}
			value, ok := prompt("Enter the value to associate with key: ")
			if !ok {
				return
			}
			if c.Put(key, value) {
				fmt.Printf("\tPut successful for key: %s\n", key)
			} else {
				fmt.Println("\tServer did not respond")
			}

		case "3":
			fmt.Println("\n================")
			fmt.Println("Closing client")
			fmt.Println("================")
			return
		}
	}
}
