// Command rangefinder measures distance with an ultrasonic ranging module and
// publishes fresh readings to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/gpio"
	"github.com/sweeney/rangefinder/internal/logic"
	"github.com/sweeney/rangefinder/internal/mqtt"
	"github.com/sweeney/rangefinder/internal/status"
	"github.com/sweeney/rangefinder/internal/ultrasonic"
	"github.com/sweeney/rangefinder/internal/web"
)

type options struct {
	chip          string
	triggerPin    int
	echoPin       int
	tick          physic.Frequency
	speed         physic.Speed
	triggerWidth  time.Duration
	poll          time.Duration
	overrun       string
	broker        string
	heartbeat     time.Duration
	httpAddr      string
	wsBroker      string
	printDistance bool
}

func main() {
	opts := options{tick: physic.MegaHertz}

	flag.StringVar(&opts.chip, "chip", gpio.DefaultChip, "GPIO chip")
	flag.IntVar(&opts.triggerPin, "trigger", gpio.DefaultTriggerPin, "BCM pin number for the trigger output")
	flag.IntVar(&opts.echoPin, "echo", gpio.DefaultEchoPin, "BCM pin number for the echo input")
	flag.Var(&opts.tick, "tick", "Capture counter frequency")
	flag.Var(&opts.speed, "speed", "Speed of sound, e.g. 343m/s (unset keeps the 58.8 ticks/cm datasheet scale at 1MHz)")
	flag.DurationVar(&opts.triggerWidth, "trigger-width", ultrasonic.MinTriggerWidth, "Trigger pulse width (at least 10µs)")
	flag.DurationVar(&opts.poll, "poll", 100*time.Millisecond, "Measurement interval")
	flag.StringVar(&opts.overrun, "overrun", "hold", `Edges after a complete cycle: "hold" ignores them until the next read, "stall" counts them like the legacy firmware and stalls until the 8-bit count wraps`)
	flag.StringVar(&opts.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&opts.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.StringVar(&opts.wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	flag.BoolVar(&opts.printDistance, "print-distance", false, "Print one distance reading and exit")

	flag.Parse()

	opts.wsBroker = resolveWSBroker(opts.wsBroker, opts.broker)
	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(opts options) error {
	policy, err := parseOverrun(opts.overrun)
	if err != nil {
		return err
	}
	clk := clock.New()

	cfg := ultrasonic.Config{
		Tick:         opts.tick,
		TriggerWidth: opts.triggerWidth,
		Overrun:      policy,
	}
	if opts.speed != 0 {
		cfg.Scale = ultrasonic.ScaleFor(opts.tick, opts.speed)
	}

	// Initialize GPIO
	sensor, err := ultrasonic.New(
		gpio.NewRealCapture(opts.chip, opts.echoPin),
		gpio.NewRealOutput(opts.chip, opts.triggerPin),
		gpio.BusyDelay{},
		cfg, clk)
	if err != nil {
		return fmt.Errorf("sensor config: %w", err)
	}
	if err := sensor.Init(); err != nil {
		sensor.Close()
		return fmt.Errorf("init sensor: %w", err)
	}
	defer func() {
		if err := sensor.Close(); err != nil {
			log.Printf("gpio close: %v", err)
		}
	}()

	// Print distance mode
	if opts.printDistance {
		return printDistance(os.Stdout, sensor, clk, opts.poll)
	}

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(opts.broker)
	defer publisher.Close()

	cfg = sensor.Config()
	tracker := status.NewTracker(clk, status.Config{
		Chip:         opts.chip,
		TriggerPin:   opts.triggerPin,
		EchoPin:      opts.echoPin,
		Tick:         cfg.Tick,
		Scale:        cfg.Scale,
		TriggerWidth: cfg.TriggerWidth,
		Overrun:      cfg.Overrun,
		PollMs:       opts.poll.Milliseconds(),
		HeartbeatMs:  opts.heartbeat.Milliseconds(),
		Broker:       opts.broker,
		HTTPPort:     opts.httpAddr,
		WSBroker:     opts.wsBroker,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Start HTTP status server
	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, tracker)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
		log.Printf("http status server listening on %s", opts.httpAddr)
	}

	log.Printf("started: tick=%s scale=%.3f ticks/cm trigger=%v poll=%v overrun=%s broker=%s heartbeat=%v",
		cfg.Tick, cfg.Scale.TicksPerCentimetre(), cfg.TriggerWidth, opts.poll, cfg.Overrun, opts.broker, opts.heartbeat)

	g.Go(func() error {
		defer cancel()

		ticker := clk.Ticker(opts.poll)
		defer ticker.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		return runLoop(ctx, sensor, publisher, publisher, tracker, opts.heartbeat, clk.Now, ticker.C, sigCh)
	})

	return g.Wait()
}

// rangeSensor is the part of ultrasonic.Sensor the loop needs.
type rangeSensor interface {
	Measure() logic.Reading
	Cycle() logic.Cycle
	Counts() logic.Counts
}

func runLoop(ctx context.Context, sensor rangeSensor, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(heartbeat, now())
	first := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     mqtt.EventShutdown,
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, mqtt.EventShutdown, signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			reading := sensor.Measure()

			if reading.Fresh {
				if first {
					log.Printf("first reading: %d cm (%d echo ticks)", reading.Distance, reading.EchoTicks)
					first = false
				}
				if err := publisher.Publish(reading); err != nil {
					log.Printf("publish error: %v", err)
				}
			}

			// Update status tracker for HTTP consumers
			if tracker != nil {
				tracker.Update(reading, sensor.Cycle().Phase(), sensor.Counts())
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}

			if hbData := hb.Check(t); hbData != nil {
				counts := sensor.Counts()
				log.Printf("heartbeat: uptime=%v distance=%dcm cycles=%d reads=%d ignored=%d trigger_errors=%d",
					hbData.Uptime, reading.Distance, counts.Cycles, counts.Reads, counts.Ignored, counts.TriggerErrors)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     mqtt.EventHeartbeat,
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, mqtt.EventHeartbeat, "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// printDistance reads until a cycle completes, or gives up after a few polls
// without an echo.
func printDistance(w io.Writer, sensor rangeSensor, clk clock.Clock, poll time.Duration) error {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		r := sensor.Measure()
		if r.Fresh {
			fmt.Fprintf(w, "Distance: %d cm (%s, %d echo ticks)\n", r.Distance, status.Centimetres(r.Distance), r.EchoTicks)
			return nil
		}
		clk.Sleep(poll)
	}
	return fmt.Errorf("no echo after %d triggers", attempts)
}

func parseOverrun(s string) (logic.OverrunPolicy, error) {
	switch s {
	case "hold":
		return logic.OverrunHold, nil
	case "stall":
		return logic.OverrunStall, nil
	}
	return 0, fmt.Errorf("invalid -overrun %q (want hold or stall)", s)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
