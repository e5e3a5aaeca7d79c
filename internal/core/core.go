// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/livefmp4/internal/conf"
	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/metrics"
	"github.com/bluenviron/livefmp4/internal/segmenter"
	"github.com/bluenviron/livefmp4/internal/servers/delivery"
	"github.com/bluenviron/livefmp4/internal/store"
	"github.com/bluenviron/livefmp4/internal/tssource"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"livefmp4.yml",
	"/usr/local/etc/livefmp4.yml",
	"/usr/etc/livefmp4.yml",
	"/etc/livefmp4/livefmp4.yml",
}

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" optional:""`
}

type sourceResult struct {
	err error
}

// Core is an instance of livefmp4.
type Core struct {
	ctx          context.Context
	ctxCancel    func()
	confPath     string
	conf         *conf.Conf
	logger       *logger.Logger
	metrics      *metrics.Metrics
	store        *store.Store
	presentation *segmenter.Presentation
	delivery     *delivery.Server
	input        io.ReadCloser

	// out
	sourceDone chan sourceResult
	done       chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("livefmp4 "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is livefmp4.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		sourceDone: make(chan sourceResult, 1),
		done:       make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources()
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources()
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) run() {
	defer close(p.done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	sourceDone := p.sourceDone

outer:
	for {
		select {
		case res := <-sourceDone:
			sourceDone = nil
			p.onSourceDone(res)

			// manifests stay available until the process is stopped
			if p.delivery == nil {
				break outer
			}

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	if sourceDone != nil {
		p.input.Close()
		p.onSourceDone(<-sourceDone)
	}

	p.closeResources()
}

func (p *Core) createResources() error {
	p.logger = &logger.Logger{
		Level:        logger.Level(p.conf.LogLevel),
		Destinations: []logger.Destination(p.conf.LogDestinations),
		Structured:   p.conf.LogStructured,
		File:         p.conf.LogFile,
	}
	err := p.logger.Initialize()
	if err != nil {
		p.logger = nil
		return err
	}

	p.Log(logger.Info, "livefmp4 %s", version)

	if p.confPath != "" {
		p.Log(logger.Info, "configuration loaded from %s", p.confPath)
	} else {
		p.Log(logger.Warn, "configuration file not found (looked in %v), using default settings",
			defaultConfPaths)
	}

	// gin is used by the HTTP servers.
	gin.SetMode(gin.ReleaseMode)

	if p.conf.Metrics {
		p.metrics = &metrics.Metrics{
			Address:      p.conf.MetricsAddress,
			AllowOrigins: p.conf.DeliveryAllowOrigins,
			ReadTimeout:  time.Duration(p.conf.ReadTimeout),
			WriteTimeout: time.Duration(p.conf.WriteTimeout),
			Parent:       p,
		}
		err = p.metrics.Initialize()
		if err != nil {
			p.metrics = nil
			return err
		}
	}

	p.store = &store.Store{
		Retention: p.conf.StoreRetention,
		Parent:    p,
	}
	err = p.store.Initialize()
	if err != nil {
		p.store = nil
		return err
	}

	var sink segmenter.Sink = p.store
	if p.metrics != nil {
		sink = p.metrics.WrapSink(sink)
	}

	p.presentation = &segmenter.Presentation{
		Mode:                segmenter.Mode(p.conf.Mode),
		Name:                p.conf.Name,
		RetentionWindow:     p.conf.RetentionWindow,
		TargetDuration:      time.Duration(p.conf.TargetDuration),
		MinFragmentDuration: time.Duration(p.conf.MinFragmentDuration),
		SegmentMaxSize:      int(p.conf.SegmentMaxSize),
		SegmentGrowStep:     int(p.conf.SegmentGrowStep),
		Sink:                sink,
		Parent:              p,
	}
	err = p.presentation.Initialize()
	if err != nil {
		p.presentation = nil
		return err
	}

	if p.metrics != nil {
		p.metrics.SetPresentation(p.presentation)
	}

	if p.conf.Delivery {
		p.delivery = &delivery.Server{
			Address:      p.conf.DeliveryAddress,
			AllowOrigins: p.conf.DeliveryAllowOrigins,
			ReadTimeout:  time.Duration(p.conf.ReadTimeout),
			WriteTimeout: time.Duration(p.conf.WriteTimeout),
			Presentation: p.presentation,
			Store:        p.store,
			Parent:       p,
		}
		err = p.delivery.Initialize()
		if err != nil {
			p.delivery = nil
			return err
		}
	}

	p.input, err = openInput(p.conf.Source)
	if err != nil {
		return err
	}

	go p.runSource()

	return nil
}

func (p *Core) closeResources() {
	if p.delivery != nil {
		p.delivery.Close()
		p.delivery = nil
	}

	if p.input != nil {
		p.input.Close()
		p.input = nil
	}

	if p.store != nil {
		p.store.Close()
		p.store = nil
	}

	if p.metrics != nil {
		p.metrics.Close()
		p.metrics = nil
	}

	if p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func openInput(source string) (io.ReadCloser, error) {
	if source == "-" {
		return os.Stdin, nil
	}
	return os.Open(source)
}

// runSource feeds the presentation and closes it once the input ends.
// Input and Close of the presentation are called by this routine only.
func (p *Core) runSource() {
	s := &tssource.Source{
		R:            p.input,
		Presentation: p.presentation,
		Parent:       p,
	}
	if p.metrics != nil {
		s.OnInputError = p.metrics.OnInputError
	}

	err := s.Initialize()
	if err == nil {
		err = s.Run(p.ctx)
		s.Close()
	}

	closeErr := p.presentation.Close()
	if err == nil {
		err = closeErr
	}

	p.sourceDone <- sourceResult{err: err}
}

func (p *Core) onSourceDone(res sourceResult) {
	switch {
	case res.err == nil:
		p.Log(logger.Info, "presentation '%s' closed", p.conf.Name)

	case p.ctx.Err() != nil:
		p.Log(logger.Info, "presentation '%s' closed (interrupted)", p.conf.Name)

	default:
		p.Log(logger.Error, "source: %v", res.err)
	}
}
