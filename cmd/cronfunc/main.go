package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"cronfunc/internal/config"
	"cronfunc/internal/host"
	logx "cronfunc/pkg/logx"
)

// globals is bound into every command; config is filled in after parsing.
type globals struct {
	config string
	boot   config.Bootstrap
	out    io.Writer
}

func (g *globals) configPath() string {
	if g.config != "" {
		return g.config
	}
	return g.boot.ConfigPath
}

type serveCmd struct {
	StopTimeout time.Duration `help:"Upper bound for graceful shutdown." default:"10s"`
}

func (c *serveCmd) Run(g *globals) error {
	app, err := host.New(g.configPath(), g.boot)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := app.Start(context.Background()); err != nil {
		_ = app.Stop(context.Background(), host.StopFatalError)
		return err
	}

	reason := host.StopUnknown
	select {
	case s := <-sigs:
		reason = host.StopSIGINT
		if s == syscall.SIGTERM {
			reason = host.StopSIGTERM
		}
	case <-app.Done():
		reason = host.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.StopTimeout)
	defer cancel()
	_ = app.Stop(ctx, reason)
	return app.Err()
}

type invokeCmd struct {
	Function string `arg:"" help:"Function to run once, now."`
}

func (c *invokeCmd) Run(g *globals) error {
	app, err := host.New(g.configPath(), g.boot)
	if err != nil {
		return err
	}
	defer app.Stop(context.Background(), host.StopInvokeDone)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return app.Invoke(ctx, c.Function)
}

type scheduleCmd struct {
	Count int `short:"n" help:"Fire times to show per function." default:"5"`
}

func (c *scheduleCmd) Run(g *globals) error {
	app, err := host.New(g.configPath(), g.boot, host.WithLogger(logx.Nop()))
	if err != nil {
		return err
	}
	defer app.Stop(context.Background(), host.StopInvokeDone)

	previews, err := app.Preview(time.Now(), c.Count)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tSCHEDULE\tNEXT")
	for _, p := range previews {
		next := make([]string, 0, len(p.Next))
		for _, t := range p.Next {
			next = append(next, t.Format(time.RFC3339))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Schedule, strings.Join(next, " "))
	}
	return tw.Flush()
}

type historyCmd struct {
	Function string `short:"f" help:"Only show this function."`
	Limit    int    `short:"n" help:"Records to show." default:"20"`
}

func (c *historyCmd) Run(g *globals) error {
	app, err := host.New(g.configPath(), g.boot, host.WithLogger(logx.Nop()))
	if err != nil {
		return err
	}
	defer app.Stop(context.Background(), host.StopInvokeDone)

	runs, err := app.History(context.Background(), c.Function, c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFUNCTION\tSTATUS\tDURATION\tATTEMPTS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.At.Local().Format(time.RFC3339), r.Function, r.Status, r.Duration, r.Attempts, r.Error)
	}
	return tw.Flush()
}

type cli struct {
	Config string `short:"c" help:"Host config file (JSON or YAML). Defaults to $$CRONFUNC_CONFIG." type:"path"`

	Serve    serveCmd    `cmd:"" default:"1" help:"Run the configured timer functions until SIGINT/SIGTERM."`
	Invoke   invokeCmd   `cmd:"" help:"Run one function immediately and exit."`
	Schedule scheduleCmd `cmd:"" help:"Show upcoming fire times."`
	History  historyCmd  `cmd:"" help:"Show recorded invocations (requires storage)."`
}

func main() {
	var c cli
	g := &globals{boot: config.FromEnviron(os.Environ()), out: os.Stdout}
	kctx := kong.Parse(&c,
		kong.Name("cronfunc"),
		kong.Description("Timer-triggered functions backed by an app configuration service."),
		kong.UsageOnError(),
		kong.Bind(g),
	)
	g.config = c.Config
	kctx.FatalIfErrorf(kctx.Run())
}
