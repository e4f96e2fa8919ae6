// Command simtempcli drives a running simtempd: one-shot attribute reads
// and writes over the HTTP endpoint, live monitoring over the sample
// socket, and an automated threshold alert test.
package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"codeberg.org/mutker/simtempd/internal/config"
	"codeberg.org/mutker/simtempd/internal/devnode"
	"codeberg.org/mutker/simtempd/internal/sensor"
)

const (
	attrTimeout      = 5 * time.Second
	alertWaitLimit   = 5 * time.Second
	maxSamplesToScan = 20

	testPeriodMS    = 200
	testThresholdMC = 30000
	testMode        = "ramp"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("simtempcli", pflag.ExitOnError)
	socket := flags.String("socket", config.DefaultSocket, "sample socket path of the running daemon")
	httpAddr := flags.String("http", config.DefaultHTTPAddr, "attribute endpoint of the running daemon (host:port)")
	setPeriod := flags.Int("set-period", 0, "set sampling period in milliseconds")
	setThreshold := flags.Int("set-threshold", 0, "set alert threshold in milli-Celsius")
	setMode := flags.String("set-mode", "", "set simulation mode (normal|noisy|ramp)")
	readStats := flags.Bool("read-stats", false, "read the device statistics")
	test := flags.Bool("test", false, "run the automated threshold alert test")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 1
	}

	attrs := &attrClient{addr: *httpAddr, client: http.Client{Timeout: attrTimeout}}

	acted := false
	if flags.Changed("set-period") {
		if err := attrs.write("sampling_ms", strconv.Itoa(*setPeriod)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Set sampling period to %d ms\n", *setPeriod)
		acted = true
	}
	if flags.Changed("set-threshold") {
		if err := attrs.write("threshold_mC", strconv.Itoa(*setThreshold)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Set threshold to %d mC\n", *setThreshold)
		acted = true
	}
	if flags.Changed("set-mode") {
		if err := attrs.write("mode", *setMode); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Set mode to '%s'\n", *setMode)
		acted = true
	}
	if *readStats {
		stats, err := attrs.read("stats")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Device Stats: %s\n", stats)
		acted = true
	}

	if *test {
		return runTest(attrs, *socket)
	}
	if !acted {
		return runMonitor(*socket)
	}

	return 0
}

// runMonitor prints every sample the device produces until interrupted.
func runMonitor(socketPath string) int {
	client, err := devnode.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	var stopped atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		stopped.Store(true)
		// Closing the connection unblocks the pending read.
		client.Close()
	}()

	fmt.Printf("Monitoring %s... Press Ctrl+C to exit.\n", socketPath)
	fmt.Println(strings.Repeat("-", 40))

	for {
		s, err := client.Read(false)
		if err != nil {
			if stopped.Load() {
				fmt.Println("\nMonitoring stopped.")
				return 0
			}
			fmt.Fprintf(os.Stderr, "Device I/O error: %v\n", err)
			return 1
		}
		fmt.Println(formatSample(s))
	}
}

func formatSample(s sensor.Sample) string {
	ts := time.Unix(0, int64(s.TimestampNS)).UTC().Format("2006-01-02T15:04:05.000Z07:00")
	line := fmt.Sprintf("%s | Temp: %6.3f°C", ts, float64(s.TempMC)/1000.0)
	if s.Flags&sensor.FlagThresholdCrossed != 0 {
		line += " | *** ALERT ***"
	}

	return line
}

// runTest configures a predictable ramp and verifies that a threshold
// alert surfaces on the sample socket before the deadline.
func runTest(attrs *attrClient, socketPath string) int {
	fmt.Println("--- Running Test Mode ---")

	fmt.Printf("Configuring device: period=%dms, threshold=%.1f°C, mode=%s\n",
		testPeriodMS, float64(testThresholdMC)/1000.0, testMode)
	for _, set := range []struct{ attr, value string }{
		{"sampling_ms", strconv.Itoa(testPeriodMS)},
		{"threshold_mC", strconv.Itoa(testThresholdMC)},
		{"mode", testMode},
	} {
		if err := attrs.write(set.attr, set.value); err != nil {
			fmt.Fprintf(os.Stderr, "TEST FAILED: %v\n", err)
			return 1
		}
	}

	client, err := devnode.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "TEST FAILED: %v\n", err)
		return 1
	}
	defer client.Close()

	fmt.Println("Waiting for threshold alert...")

	// The ramp starts near its floor, so crossing 30°C takes a handful of
	// 200ms samples. Scan whatever is queued, then wait for the device to
	// produce more; the scan keeps the buffer drained so each wait blocks
	// until something new arrives.
	deadline := time.Now().Add(alertWaitLimit)
	for {
		trigger, found, err := scanBacklog(client)
		if err != nil {
			fmt.Fprintf(os.Stderr, "TEST FAILED: %v\n", err)
			return 1
		}
		if found {
			fmt.Printf("Threshold alert received. Trigger found in sample (Temp: %.1f°C, Flags: %#x).\n",
				float64(trigger.TempMC)/1000.0, uint32(trigger.Flags))
			fmt.Println("TEST PASSED")
			return 0
		}

		remaining := time.Until(deadline)
		if remaining < time.Millisecond {
			fmt.Fprintln(os.Stderr, "TEST FAILED: Timed out waiting for threshold alert.")
			return 1
		}
		ready, err := client.Wait(remaining)
		if err != nil {
			fmt.Fprintf(os.Stderr, "TEST FAILED: %v\n", err)
			return 1
		}
		if ready == 0 {
			fmt.Fprintln(os.Stderr, "TEST FAILED: Timed out waiting for threshold alert.")
			return 1
		}
	}
}

// scanBacklog drains queued records, reporting the first one carrying the
// threshold flag.
func scanBacklog(client *devnode.Client) (sensor.Sample, bool, error) {
	for i := 0; i < maxSamplesToScan; i++ {
		s, err := client.Read(true)
		if errors.Is(err, sensor.ErrWouldBlock) || errors.Is(err, sensor.ErrBufferEmpty) {
			return sensor.Sample{}, false, nil
		}
		if err != nil {
			return sensor.Sample{}, false, err
		}
		if s.Flags&sensor.FlagThresholdCrossed != 0 {
			return s, true, nil
		}
	}

	return sensor.Sample{}, false, nil
}

// attrClient reads and writes device attributes over the daemon's HTTP
// endpoint.
type attrClient struct {
	addr   string
	client http.Client
}

func (a *attrClient) url(attr string) string {
	return fmt.Sprintf("http://%s/attrs/%s", a.addr, attr)
}

func (a *attrClient) write(attr, value string) error {
	req, err := http.NewRequest(http.MethodPut, a.url(attr), strings.NewReader(value))
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("writing %s: %w", attr, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("writing %s: %s", attr, strings.TrimSpace(string(body)))
	}

	return nil
}

func (a *attrClient) read(attr string) (string, error) {
	resp, err := a.client.Get(a.url(attr))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", attr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", attr, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reading %s: %s", attr, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}
