package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/realm"
	"github.com/loykin/realm/pkg/client"
	"github.com/loykin/realm/pkg/template"
)

type command struct {
	out io.Writer
}

func (c *command) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c.out, format, a...)
}

// Start runs processes and the proxy until SIGINT or SIGTERM.
func (c *command) Start(ctx context.Context, f StartFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return realm.Run(ctx, realm.RunOptions{
		ConfigPath: f.ConfigPath,
		Watch:      f.Watch,
		ProxyOnly:  f.ProxyOnly,
	})
}

// Routes prints the route table in display order.
func (c *command) Routes(path string) error {
	cfg, err := realm.LoadConfig(path)
	if err != nil {
		return err
	}
	m := realm.New()
	defer m.Close()
	if err := m.LoadProcesses(cfg.Specs()); err != nil {
		return err
	}
	entries := m.RouteTable().Sorted()
	if len(entries) == 0 {
		c.printf("no routes configured\n")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATTERN\tPROCESS\tUPSTREAM")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t127.0.0.1:%d\n", e.Pattern, e.Process, e.Port)
	}
	return tw.Flush()
}

// Check validates the config file.
func (c *command) Check(path string) error {
	cfg, err := realm.LoadConfig(path)
	if err != nil {
		return err
	}
	c.printf("%s is valid: %d processes, proxy on %s\n", path, len(cfg.Processes), cfg.ProxyAddr())
	return nil
}

// Init writes a starter config built from process templates.
func (c *command) Init(f InitFlags) error {
	cfg := realm.DefaultConfig()
	if f.ProxyPort != 0 {
		cfg.ProxyPort = f.ProxyPort
	}
	gen := template.NewGenerator()
	for _, t := range f.With {
		tpl, err := gen.Generate(template.TemplateType(strings.TrimSpace(t)), "")
		if err != nil {
			return err
		}
		if _, dup := cfg.Processes[tpl.Name]; dup {
			return fmt.Errorf("duplicate template %s", tpl.Name)
		}
		cfg.Processes[tpl.Name] = realm.ProcessConfig{
			Command:          tpl.Command,
			Port:             tpl.Port,
			Routes:           tpl.Routes,
			WorkingDirectory: tpl.WorkDir,
			Env:              tpl.Env,
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := realm.InitConfig(f.ConfigPath, cfg, f.Force); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", f.ConfigPath)
		}
		return err
	}
	c.printf("Config written: %s\n", f.ConfigPath)
	c.printf("Edit the commands, then run: realm start\n")
	return nil
}

// Ps lists the processes of a running realm.
func (c *command) Ps(ctx context.Context, f APIFlags) error {
	api, err := newAPIClient(f)
	if err != nil {
		return err
	}
	sts, err := api.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tPORT\tUPTIME\tCPU\tMEM")
	for _, st := range sts {
		state, uptime, pid := "stopped", "-", "-"
		if st.Running {
			state = "running"
			pid = fmt.Sprint(st.PID)
			uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
		} else if st.ExitErr != "" {
			state = "exited (" + st.ExitErr + ")"
		}
		port := "-"
		if st.Port != 0 {
			port = fmt.Sprint(st.Port)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			st.Name, state, pid, port, uptime, st.CPUPercent, formatBytes(st.MemoryRSS))
	}
	return tw.Flush()
}

// Restart restarts one process of a running realm.
func (c *command) Restart(ctx context.Context, f APIFlags, name string) error {
	api, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if err := api.Restart(ctx, name); err != nil {
		return err
	}
	c.printf("restarted %s\n", name)
	return nil
}

// Stop stops one process, or all of them when name is empty.
func (c *command) Stop(ctx context.Context, f APIFlags, name string) error {
	api, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if name != "" {
		if err := api.Stop(ctx, name); err != nil {
			return err
		}
		c.printf("stopped %s\n", name)
		return nil
	}
	res, err := api.StopAll(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, r := range res {
		if r.OK {
			c.printf("stopped %s\n", r.Name)
			continue
		}
		failed++
		c.printf("failed to stop %s: %s\n", r.Name, r.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d processes failed to stop", failed, len(res))
	}
	return nil
}

// History prints recent lifecycle events.
func (c *command) History(ctx context.Context, f HistoryFlags) error {
	api, err := newAPIClient(f.APIFlags)
	if err != nil {
		return err
	}
	events, err := api.History(ctx, f.Name, f.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tNAME\tPID\tERROR")
	for _, e := range events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Record.Name, e.Record.PID, e.Record.ExitErr)
	}
	return tw.Flush()
}

// newAPIClient resolves the admin API URL from the flag or the config.
func newAPIClient(f APIFlags) (*client.Client, error) {
	url := f.APIUrl
	if url == "" {
		cfg, err := realm.LoadConfig(f.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("no --api-url given and config unreadable: %w", err)
		}
		if cfg.Admin.Listen == "" {
			return nil, errors.New("admin API is disabled; set admin.listen in the config or pass --api-url")
		}
		url = adminURL(cfg.Admin.Listen, cfg.Admin.BasePath)
	}
	return client.New(client.Config{BaseURL: url, Timeout: f.APITimeout}), nil
}

func adminURL(listen, basePath string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + basePath
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + strings.TrimRight(basePath, "/")
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n == 0 {
		return "-"
	}
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
