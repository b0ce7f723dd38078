// Command test-hm10 is a manual round-trip check of the HM-10 serial link.
// It connects to a lamp, sends TEST and prints every line the lamp sends
// back until the acknowledgment arrives.
//
// Usage:
//
//	go run ./cmd/test-hm10 --address AA:BB:CC:DD:EE:FF [--cmd PRINT]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gion86/SmartLamp/internal/ble"
	"github.com/gion86/SmartLamp/internal/ble/protocol"
)

func main() {
	address := flag.String("address", "", "lamp address (MAC, or CoreBluetooth UUID on macOS)")
	text := flag.String("cmd", "TEST", "command to send")
	timeout := flag.Duration("timeout", 10*time.Second, "connect timeout")
	flag.Parse()

	if *address == "" {
		fmt.Println("Error: --address is required (run: smartlamp scan)")
		os.Exit(2)
	}
	cmd, err := protocol.Raw(*text)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(2)
	}

	client := ble.NewClient(ble.NewTinyGoAdapter(), ble.DefaultClientOptions())
	defer client.Close()
	if err := client.Initialize(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	client.RegisterListener(func(e ble.Event) {
		fmt.Printf("[%s] %-22s %q\n", e.Time.Format("15:04:05.000"), e.Type, e.Line+e.Command)
	})

	fmt.Printf("Connecting to %s...\n", *address)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := client.Connect(ctx, *address); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Sending %q\n", cmd)
	start := time.Now()
	if err := client.Send(context.Background(), cmd); err != nil {
		fmt.Printf("Error: status %d (%s): %v\n", ble.StatusOf(err), ble.StatusOf(err), err)
		return
	}

	fmt.Printf("\nDone! Round trip %s\n", time.Since(start).Round(time.Millisecond))
}
