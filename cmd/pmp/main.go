package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FalcoGer/pmp/internal/command"
	"github.com/FalcoGer/pmp/internal/hook"
	"github.com/FalcoGer/pmp/internal/netutil"
	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/ratelimit"
	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/FalcoGer/pmp/internal/store"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pmp: %v\n", err)
		return 2
	}
	obs.EnableDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("store.open", obs.Fields{"err": err.Error()})
		return 1
	}
	defer st.Close()
	if rs, ok := st.(*store.Redis); ok {
		go rs.StartMaintenance(ctx)
	}

	sock := netutil.SocketOptions{SockBuf: cfg.SockBuf}
	opts := relay.Options{
		AcceptTimeout:  cfg.AcceptTimeout,
		PollInterval:   cfg.PollInterval,
		ConnectTimeout: cfg.ConnectTimeout,
		FlushGrace:     cfg.FlushGrace,
		Store:          st,
		Listen:         sock.Listen,
		Dial:           sock.Dial,
	}
	if cfg.AcceptRate > 0 || cfg.GlobalAcceptRate > 0 {
		opts.Limiter = ratelimit.NewAcceptLimiter(cfg.GlobalAcceptRate, cfg.AcceptRate, cfg.AcceptBurst)
	}

	reg := relay.NewRegistry(opts)
	nameWidth := 0
	for _, m := range cfg.Mappings {
		if _, err := reg.Add(m); err != nil {
			fmt.Fprintf(os.Stderr, "pmp: %v\n", err)
			return 2
		}
		nameWidth = max(nameWidth, len(m.Name))
	}

	var d *command.Dispatcher
	con, err := newConsole(os.Stdin, os.Stdout, func() []string { return d.Commands() })
	if err != nil {
		obs.Error("console.open", obs.Fields{"err": err.Error()})
		return 1
	}
	defer con.restore()
	if con.interactive && term.IsTerminal(int(os.Stderr.Fd())) {
		// Raw mode needs the terminal to translate line endings.
		obs.SetOutput(con.out)
	}
	d = command.New(reg, con.out)

	notify := func(next relay.Hook) relay.Hook {
		n := hook.NewNotify(con.out, next)
		n.NameWidth = nameWidth
		return n
	}
	if cfg.RulesFile != "" {
		w, err := hook.NewWatcher(cfg.RulesFile, reg, notify)
		if err != nil {
			obs.Error("hook.rules", obs.Fields{"path": cfg.RulesFile, "err": err.Error()})
			return 1
		}
		defer w.Close()
		go w.Run(ctx)
	} else {
		reg.SetHook(notify(nil))
	}

	if err := reg.BindAll(); err != nil {
		con.restore()
		fmt.Fprintf(os.Stderr, "pmp: %v\n", err)
		_ = reg.Close()
		return 1
	}

	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		metrics = startMetricsServer(cfg.MetricsAddr, reg, st)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- reg.Serve(ctx) }()

	st.SetReady(true)
	obs.Info("pmp.ready", obs.Fields{"sessions": len(cfg.Mappings), "metrics": cfg.MetricsAddr, "rules": cfg.RulesFile})
	_ = d.Execute("lsproxy")

	go readCommands(ctx, cancel, con, d)

	<-ctx.Done()
	obs.Info("pmp.shutdown.signal", obs.Fields{})
	st.SetClosing(true)
	if err := reg.Close(); err != nil {
		obs.Error("pmp.shutdown.close", obs.Fields{"err": err.Error()})
	}
	if err := <-served; err != nil {
		obs.Error("pmp.serve", obs.Fields{"err": err.Error()})
	}
	if metrics != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metrics.Shutdown(sctx)
		scancel()
	}
	obs.Info("pmp.shutdown.complete", obs.Fields{})
	return 0
}

// readCommands runs console lines until quit. End of piped input leaves the
// relays running until a signal arrives.
func readCommands(ctx context.Context, quit context.CancelFunc, con *console, d *command.Dispatcher) {
	for ctx.Err() == nil {
		line, err := con.readLine()
		if err != nil {
			if con.interactive || !errors.Is(err, io.EOF) {
				quit()
			}
			return
		}
		err = d.Execute(line)
		if errors.Is(err, command.ErrQuit) {
			quit()
			return
		}
		if err != nil {
			fmt.Fprintln(con.out, command.Message(err))
		}
	}
}
