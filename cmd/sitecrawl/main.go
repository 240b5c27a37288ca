package main

import (
	"fmt"
	"os"
)

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]

	switch subcommand {
	case "crawl":
		os.Exit(runCrawl(os.Args[2:]))
	case "sites":
		os.Exit(runSites(os.Args[2:]))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("sitecrawl - Configuration-driven article archiver")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sitecrawl <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  crawl      Crawl configured sites and archive their articles")
	fmt.Println("  sites      List configured sites")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  SITECRAWL_CONFIG  Path to the site configuration document (default: site_configs.yml)")
	fmt.Println("  SITECRAWL_OUTPUT  Directory for per-site archive files (default: articles)")
}
