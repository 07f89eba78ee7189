// Package syssettingctl parses command flags and runs a settings session
// against the simulated bridge.
package syssettingctl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/shaban/syssetting"
	"github.com/shaban/syssetting/bridge"
	"github.com/shaban/syssetting/bridge/poll"
	"github.com/shaban/syssetting/bridge/simulated"
	"github.com/shaban/syssetting/midicontrol"
)

// Config holds command configuration.
type Config struct {
	Session syssetting.Config

	JSON         bool          `env:"SYSSETTINGCTL_JSON" envDefault:"false"`
	Poll         bool          `env:"SYSSETTINGCTL_POLL" envDefault:"false"`
	PollInterval time.Duration `env:"SYSSETTINGCTL_POLL_INTERVAL" envDefault:"250ms"`
	MIDIPort     string        `env:"SYSSETTINGCTL_MIDI_PORT"`
	MIDIChannel  int           `env:"SYSSETTINGCTL_MIDI_CHANNEL" envDefault:"-1"`
	StateFile    string        `env:"SYSSETTINGCTL_STATE_FILE"`
	AutoGrant    bool          `env:"SYSSETTINGCTL_AUTO_GRANT" envDefault:"true"`
	// Demo makes the simulated device change on its own at this interval.
	Demo time.Duration `env:"SYSSETTINGCTL_DEMO" envDefault:"0s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	policy := string(cfg.Session.WritePolicy)
	fs.StringVar(&policy, "policy", policy, "level write policy: check-then-write or optimistic")
	fs.BoolVar(&cfg.Session.SyncAllListeners, "sync-all", cfg.Session.SyncAllListeners, "let every listener update the snapshot")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "print changes as JSON lines")
	fs.BoolVar(&cfg.Poll, "poll", cfg.Poll, "detect changes by polling instead of bridge listeners")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "fastest polling interval")
	fs.StringVar(&cfg.MIDIPort, "midi-port", cfg.MIDIPort, "MIDI input port to use as a control surface")
	fs.IntVar(&cfg.MIDIChannel, "midi-channel", cfg.MIDIChannel, "MIDI channel to accept (-1 = any)")
	fs.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "restore session state from and save it to this file")
	fs.BoolVar(&cfg.AutoGrant, "auto-grant", cfg.AutoGrant, "accept the simulated permission dialog")
	fs.DurationVar(&cfg.Demo, "demo", cfg.Demo, "change simulated settings at this interval (0 = off)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Session.WritePolicy = syssetting.WritePolicy(policy)
	if err := cfg.Session.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Demo < 0 {
		return Config{}, fmt.Errorf("-demo must be >= 0")
	}
	return cfg, nil
}

// Run starts a session and prints every snapshot change to out until ctx
// ends. The session state is saved on the way out when a state file is set.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	dev := simulated.New(simulated.WithAutoGrant(cfg.AutoGrant))

	var b bridge.Bridge = dev
	if cfg.Poll {
		p, err := poll.New(dev,
			poll.WithIntervals(cfg.PollInterval, 8*cfg.PollInterval),
			poll.WithErrorHandler(func(err error) { log.Printf("poll: %v", err) }),
		)
		if err != nil {
			return fmt.Errorf("create poller: %w", err)
		}
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		defer p.Stop()
		b = p
	}

	c, err := syssetting.New(b, cfg.Session)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("close controller: %v", err)
		}
	}()

	// Kept until Close, which flushes queued changes to the printer.
	pr := &printer{out: out, json: cfg.JSON}
	c.OnChange(pr.print)

	if _, err := c.CheckPermission(ctx); err != nil {
		log.Printf("check permission: %v", err)
	}
	// The grant flow may have completed synchronously.
	if _, err := c.CheckPermission(ctx); err != nil {
		log.Printf("check permission: %v", err)
	}
	if err := c.RefreshAll(ctx); err != nil {
		log.Printf("refresh: %v", err)
	}
	if cfg.StateFile != "" {
		if err := restore(ctx, c, cfg.StateFile); err != nil {
			log.Printf("restore %s: %v", cfg.StateFile, err)
		}
	}
	if err := c.StartListening(); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}

	if cfg.MIDIPort != "" {
		s, err := midicontrol.New(c, midicontrol.WithChannel(cfg.MIDIChannel))
		if err != nil {
			return fmt.Errorf("create MIDI surface: %w", err)
		}
		if err := s.Listen(cfg.MIDIPort); err != nil {
			return fmt.Errorf("%w (available: %v)", err, midicontrol.InputPorts())
		}
		defer s.Close()
	}

	if cfg.Demo > 0 {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			demo(ctx, dev, cfg.Demo)
		}()
		defer wg.Wait()
	}

	<-ctx.Done()

	if cfg.StateFile != "" {
		if err := c.SaveToFile(cfg.StateFile); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		log.Printf("saved session state to %s", cfg.StateFile)
	}
	return nil
}

func restore(ctx context.Context, c *syssetting.Controller, path string) error {
	st, err := syssetting.LoadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.ApplyState(ctx, st)
}

// demo changes the simulated device out-of-band, the way a user would from
// the system settings UI.
func demo(ctx context.Context, dev *simulated.Device, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	kinds := []bridge.Kind{bridge.KindWifi, bridge.KindBluetooth, bridge.KindLocation, bridge.KindAirplane}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Intn(2) == 0 {
				dev.PushVolume(float64(rand.Intn(101)) / 100)
				continue
			}
			kind := kinds[rand.Intn(len(kinds))]
			dev.Push(kind, !dev.Enabled(kind))
		}
	}
}

type printer struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

type changeLine struct {
	Field  string           `json:"field"`
	Source string           `json:"source"`
	Old    syssetting.Value `json:"old"`
	New    syssetting.Value `json:"new"`
	At     time.Time        `json:"at"`
}

func (p *printer) print(ch syssetting.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		encoded, err := json.Marshal(changeLine{
			Field:  ch.Field,
			Source: ch.Source.String(),
			Old:    ch.Old,
			New:    ch.New,
			At:     ch.At,
		})
		if err != nil {
			log.Printf("encode change: %v", err)
			return
		}
		fmt.Fprintln(p.out, string(encoded))
		return
	}
	fmt.Fprintf(p.out, "%s %-14s %7s -> %-7s (%s)\n",
		ch.At.Format("15:04:05.000"), ch.Field, ch.Old, ch.New, ch.Source)
}
