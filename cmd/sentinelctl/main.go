// sentinelctl is the control CLI for sentineld. It talks to the daemon
// over the unix control socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/ipc"
)

// Version is stamped by the build.
var Version = "0.3.0-dev"

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "control socket path (overrides config)")
	noColor    = flag.Bool("no-color", false, "disable colored output")
)

func main() {
	flag.Parse()

	if *noColor || os.Getenv("NO_COLOR") != "" {
		c = palette{}
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "status":
		cmdStatus()
	case "bind":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: sentinelctl bind <session-token>")
			os.Exit(1)
		}
		cmdBind(flag.Arg(1))
	case "clear":
		cmdClear()
	case "start":
		cmdStart()
	case "stop":
		cmdStop()
	case "trust":
		cmdTrust()
	case "actions":
		limit := 20
		if flag.NArg() >= 2 {
			n, err := strconv.Atoi(flag.Arg(1))
			if err != nil || n <= 0 {
				fmt.Fprintln(os.Stderr, "Usage: sentinelctl actions [count]")
				os.Exit(1)
			}
			limit = n
		}
		cmdActions(limit)
	case "ping":
		cmdPing()
	case "shutdown":
		cmdShutdown()
	case "version":
		fmt.Printf("sentinelctl %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `sentinelctl - Control utility for sentineld

Usage: sentinelctl [options] <command> [args]

Commands:
  status           Show daemon and session state
  bind <token>     Bind an authenticated session token
  clear            Clear the bound session
  start            Start behavioral collection
  stop             Stop collection and flush buffered events
  trust            Show the current trust assessment
  actions [count]  List recent security actions (default 20)
  ping             Check that the daemon is reachable
  shutdown         Ask the daemon to exit
  version          Print version

Options:
  -config <path>   Path to config file
  -socket <path>   Control socket path (overrides config)
  -no-color        Disable colored output`)
}

// =====================================================================
// Output helpers
// =====================================================================

type palette struct {
	Reset  string
	Bold   string
	Dim    string
	Red    string
	Green  string
	Yellow string
	Cyan   string
}

var c = palette{
	Reset:  "\033[0m",
	Bold:   "\033[1m",
	Dim:    "\033[2m",
	Red:    "\033[31m",
	Green:  "\033[32m",
	Yellow: "\033[33m",
	Cyan:   "\033[36m",
}

func printSection(title string) {
	fmt.Printf("\n%s%s%s\n", c.Bold, title, c.Reset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%sError:%s %s\n", c.Red, c.Reset, msg)
}

func fail(format string, args ...any) {
	printError(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// =====================================================================
// Connection
// =====================================================================

func connect() *ipc.Client {
	path := *socketPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fail("load config: %v", err)
		}
		path = cfg.IPC.SocketPath
	}

	client := ipc.NewClient(ipc.DefaultClientConfig(path))
	if err := client.Connect(); err != nil {
		printError(fmt.Sprintf("cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: start the daemon with: sentineld\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	return client
}

// =====================================================================
// Commands
// =====================================================================

func cmdStatus() {
	client := connect()
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		fail("get status: %v", err)
	}

	printSection("DAEMON")
	fmt.Printf("  %sVersion%s    %s%s%s\n", c.Dim, c.Reset, c.Cyan, status.Version, c.Reset)
	fmt.Printf("  %sStarted%s    %s\n", c.Dim, c.Reset, status.StartedAt.Format(time.RFC3339))
	fmt.Printf("  %sUptime%s     %s\n", c.Dim, c.Reset, status.Uptime)

	printSection("SESSION")
	if status.SessionBound {
		fmt.Printf("  %sStatus%s     %s%sBOUND%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
		fmt.Printf("  %sSince%s      %s\n", c.Dim, c.Reset, status.SessionBoundAt.Format(time.RFC3339))
	} else {
		fmt.Printf("  %sStatus%s     %s%sNOT BOUND%s\n", c.Dim, c.Reset, c.Bold, c.Yellow, c.Reset)
	}
	if status.Restricted {
		fmt.Printf("  %sAccess%s     %s%sRESTRICTED%s\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
	}

	printSection("COLLECTION")
	if status.Collecting {
		fmt.Printf("  %sCapture%s    %s%sRUNNING%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
	} else {
		fmt.Printf("  %sCapture%s    STOPPED\n", c.Dim, c.Reset)
	}
	fmt.Printf("  %sBuffered%s   %d keystrokes, %d pointer samples\n",
		c.Dim, c.Reset, status.BufferedKeys, status.BufferedMoves)
	if status.LiveConnected {
		fmt.Printf("  %sLive%s       %sCONNECTED%s\n", c.Dim, c.Reset, c.Green, c.Reset)
	} else {
		fmt.Printf("  %sLive%s       disconnected\n", c.Dim, c.Reset)
	}

	if status.Trust != nil {
		printTrust(status.Trust)
	}
	fmt.Println()
}

func printTrust(t *ipc.Trust) {
	printSection("TRUST")
	color := c.Green
	switch t.Level {
	case "critical", "low":
		color = c.Red
	case "medium":
		color = c.Yellow
	}
	fmt.Printf("  %sScore%s      %s%.2f%s\n", c.Dim, c.Reset, color, t.Score, c.Reset)
	fmt.Printf("  %sLevel%s      %s%s%s%s\n", c.Dim, c.Reset, c.Bold, color, t.Level, c.Reset)
	fmt.Printf("  %sTrend%s      %s\n", c.Dim, c.Reset, t.Trend)
	fmt.Printf("  %sUpdated%s    %s\n", c.Dim, c.Reset, t.CapturedAt.Format(time.RFC3339))
	fmt.Printf("  %sHistory%s    %d snapshots\n", c.Dim, c.Reset, t.History)
}

func cmdBind(token string) {
	client := connect()
	defer client.Close()

	if err := client.BindSession(token); err != nil {
		fail("bind session: %v", err)
	}
	fmt.Printf("%sSession bound.%s\n", c.Green, c.Reset)
}

func cmdClear() {
	client := connect()
	defer client.Close()

	if err := client.ClearSession(); err != nil {
		fail("clear session: %v", err)
	}
	fmt.Println("Session cleared.")
}

func cmdStart() {
	client := connect()
	defer client.Close()

	if err := client.StartCollection(); err != nil {
		fail("start collection: %v", err)
	}
	fmt.Printf("%sCollection started.%s\n", c.Green, c.Reset)
}

func cmdStop() {
	client := connect()
	defer client.Close()

	if err := client.StopCollection(); err != nil {
		fail("stop collection: %v", err)
	}
	fmt.Println("Collection stopped, buffers flushed.")
}

func cmdTrust() {
	client := connect()
	defer client.Close()

	t, err := client.Trust()
	if err != nil {
		fail("get trust: %v", err)
	}
	printTrust(t)
	fmt.Println()
}

func cmdActions(limit int) {
	client := connect()
	defer client.Close()

	actions, err := client.RecentActions(limit)
	if err != nil {
		fail("list actions: %v", err)
	}
	if len(actions) == 0 {
		fmt.Println("No security actions recorded.")
		return
	}

	printSection("SECURITY ACTIONS")
	for _, a := range actions {
		fmt.Printf("  %s%s%s  %s%-20s%s score=%.2f",
			c.Dim, a.At.Format("2006-01-02 15:04:05"), c.Reset,
			c.Bold, a.Action, c.Reset, a.Score)
		if a.Reason != "" {
			fmt.Printf("  %s%s%s", c.Dim, a.Reason, c.Reset)
		}
		fmt.Println()
	}
	fmt.Println()
}

func cmdPing() {
	client := connect()
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fail("ping: %v", err)
	}
	fmt.Printf("%sDaemon is up%s (%s)\n", c.Green, c.Reset, time.Since(start).Round(time.Microsecond))
}

func cmdShutdown() {
	client := connect()
	defer client.Close()

	if err := client.Shutdown(); err != nil {
		fail("shutdown: %v", err)
	}
	fmt.Println("Shutdown requested.")
}
