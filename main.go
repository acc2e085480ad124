package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-agentlink/agentlink/internal/bootstrap"
	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "server":
		runServer()
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("Device-linking and agent trust server")
	fmt.Println("\nCommands:")
	fmt.Println("  server    Start the server")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}

func runServer() {
	cfg := config.Load()
	if err := bootstrap.Run(cfg); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
}
