// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"

	playground "github.com/noi-techpark/go-playground"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	sourcePath := flag.String("source", "", "Path to a source file overriding the seeded code")
	eventsFlag := flag.Bool("events", false, "Enable widget event output (JSON per event)")
	validateFlag := flag.Bool("validate", false, "Only validate configuration without running")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required")
		flag.Usage()
		os.Exit(1)
	}

	// Create widget core (this also validates)
	widget, validationErrs, err := playground.NewPlayground(*configPath)

	// Check validation errors first (these have detailed messages)
	if len(validationErrs) > 0 {
		fmt.Fprintln(os.Stderr, "Configuration validation failed:")
		for _, e := range validationErrs {
			fmt.Fprintf(os.Stderr, "  - %s: %s\n", e.Location, e.Message)
		}
		os.Exit(1)
	}

	// Then check for other errors (file not found, parse errors, etc.)
	if err != nil {
		log.Fatalf("Failed to create playground: %v", err)
	}

	if *validateFlag {
		fmt.Println("Configuration is valid")
		return
	}

	var wg sync.WaitGroup
	var eventChan chan playground.WidgetEvent
	if *eventsFlag {
		eventChan = widget.EnableEvents()
		wg.Add(1)

		// Output widget events as JSON
		go func() {
			defer wg.Done()
			for event := range eventChan {
				jsonData, err := json.Marshal(event)
				if err != nil {
					log.Printf("Failed to marshal event: %v", err)
					continue
				}
				fmt.Println(string(jsonData))
			}
		}()
	}

	ctx := context.Background()

	doc := playground.NewMemoryDocument(widget.Config.ReadOnly)
	if err := widget.AttachDocument(ctx, doc); err != nil {
		log.Fatalf("Failed to attach document: %v", err)
	}

	// An explicit source file acts as an external push over the seed.
	if *sourcePath != "" {
		source, err := os.ReadFile(*sourcePath)
		if err != nil {
			log.Fatalf("Failed to read source file: %v", err)
		}
		widget.Push(string(source))
	}

	_, runErr := widget.Run(ctx)

	if *eventsFlag {
		widget.CloseEvents()
		wg.Wait()
	}

	if runErr != nil {
		if failure := widget.Failure(); failure != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %s\n", failure.Message)
		}
		os.Exit(1)
	}

	result := widget.Result()
	fmt.Printf("Run completed in %dms\n", result.DurationMs)
	for _, entry := range widget.Entries() {
		fmt.Printf("[%s] %s\n", entry.Severity, entry.Text)
	}
}
