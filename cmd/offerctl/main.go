// offerctl is the control CLI for offerwatchd.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"offerwatchd/internal/config"
	"offerwatchd/internal/event"
	"offerwatchd/internal/ipc"
	"offerwatchd/internal/state"
)

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "daemon socket path (overrides config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "status":
		cmdStatus()
	case "stats":
		cmdStats()
	case "accept":
		cmdDecide("accept")
	case "reject":
		cmdDecide("reject")
	case "dismiss":
		cmdDismiss()
	case "watch":
		cmdWatch()
	case "replay":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: offerctl replay <events.jsonl>")
			os.Exit(1)
		}
		cmdReplay(flag.Arg(1))
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `offerctl - Control utility for offerwatchd

Usage: offerctl [options] <command> [args]

Commands:
  status           Show current overlay state and pipeline metrics
  stats            Show today's earnings and decision counters
  accept           Record an accept decision for the pending offer
  reject           Record a reject decision for the pending offer
  dismiss          Clear the overlay back to idle
  watch            Stream overlay render signals until interrupted
  replay <file>    Submit captured events from a JSON-lines file
  help             Show this help message

Options:
  -config <path>   Path to config file
  -socket <path>   Daemon socket path (overrides config)`)
}

func dial() *ipc.Client {
	path := *socketPath
	if path == "" {
		cfg := config.Default()
		if *configPath != "" {
			loaded, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}
			cfg = loaded
		} else {
			cfg.ApplyEnvOverrides()
		}
		path = cfg.IPC.SocketPath
	}
	client, err := ipc.Dial(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to daemon: %v\n", err)
		os.Exit(1)
	}
	return client
}

func cmdStatus() {
	client := dial()
	defer client.Close()

	var res ipc.StatusResult
	if err := client.Call(ipc.MethodStatus, nil, &res); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== offerwatchd Status ===")
	fmt.Println()
	printOverlay(res.Overlay)
	fmt.Println()

	fmt.Println("Metrics:")
	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-45s %d\n", name, res.Metrics[name])
	}
}

func printOverlay(ov state.Overlay) {
	fmt.Printf("Overlay: %s (seq %d)\n", ov.Phase, ov.Seq)
	if ov.Order == nil {
		return
	}
	fmt.Printf("  Fare:     %s\n", ov.Order.Fare.String())
	fmt.Printf("  Pickup:   %s (%d m away)\n", ov.Order.Pickup, ov.Order.PickupDistanceMeters)
	fmt.Printf("  Dropoff:  %s (%d m trip)\n", ov.Order.Dropoff, ov.Order.DistanceMeters)
	if ov.Order.ETAMinutes > 0 {
		fmt.Printf("  ETA:      %d min\n", ov.Order.ETAMinutes)
	}
	fmt.Printf("  Expires:  %s\n", ov.Order.ExpiresAt.Format("15:04:05"))
	if ov.Recommendation != nil {
		fmt.Printf("  Advice:   %s (%s)\n", ov.Recommendation.Verdict, ov.Recommendation.Reason)
	}
	if ov.Decision != nil {
		fmt.Printf("  Decision: %s at %s\n", ov.Decision.Verdict, ov.Decision.At.Format("15:04:05"))
	}
}

func cmdStats() {
	client := dial()
	defer client.Close()

	var res ipc.StatsResult
	if err := client.Call(ipc.MethodStats, nil, &res); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Today ===")
	fmt.Printf("Considered: %d\n", res.Today.Considered)
	fmt.Printf("Accepted:   %d\n", res.Today.Accepted)
	fmt.Printf("Rejected:   %d\n", res.Today.Rejected)
	fmt.Printf("Net:        %.0f\n", res.Today.TotalNet)
	fmt.Printf("Fares:      %.0f\n", res.Today.TotalFare)
	fmt.Println()
	fmt.Println(res.Progress)
}

func cmdDecide(verdict string) {
	client := dial()
	defer client.Close()

	err := client.Call(ipc.MethodDecide, ipc.DecideParams{Verdict: verdict}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recorded: %s\n", verdict)
}

func cmdDismiss() {
	client := dial()
	defer client.Close()

	if err := client.Call(ipc.MethodDismiss, nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Overlay cleared")
}

func cmdWatch() {
	client := dial()
	defer client.Close()

	fmt.Println("Watching overlay signals (Ctrl-C to stop)...")
	err := client.Subscribe(func(ov state.Overlay) {
		data, _ := json.Marshal(ov)
		fmt.Println(string(data))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cmdReplay submits captured events, one JSON object per line, in file
// order. Malformed lines are reported and skipped.
func cmdReplay(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	client := dial()
	defer client.Close()

	var submitted, skipped int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw event.Raw
		if err := json.Unmarshal(line, &raw); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			skipped++
			continue
		}
		if err := client.Call(ipc.MethodSubmit, raw, nil); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			skipped++
			continue
		}
		submitted++
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Submitted %d events (%d skipped)\n", submitted, skipped)
}
