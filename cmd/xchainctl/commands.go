package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loykin/xchainctl"
	"github.com/loykin/xchainctl/internal/fleet"
	"github.com/loykin/xchainctl/pkg/client"
)

// DebugDirEnv names the directory holding per-node debug logs.
const DebugDirEnv = "XCHAIN_CONFIG_DIR"

type command struct {
	s *session
}

// List prints the live fleet, chains first.
func (c *command) List(ctx context.Context, w io.Writer, f ListFlags) error {
	infos, err := c.servers(ctx, f.Kind)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(w, infos)
		return nil
	}
	return renderFleet(w, infos, f.Kind)
}

func (c *command) servers(ctx context.Context, kind string) ([]client.ServerInfo, error) {
	if c.s.remote() {
		return c.s.api.ListServers(ctx, kind)
	}
	var kinds []xchainctl.Kind
	if kind != "" {
		k, err := xchainctl.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	fl, err := c.s.local()
	if err != nil {
		return nil, err
	}
	entries, err := fl.ListServers(ctx, kinds...)
	if err != nil {
		return nil, err
	}
	out := make([]client.ServerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, infoFromRecord(e.Record, e.State.String()))
	}
	return out, nil
}

// Print writes a node's captured output, or its debug log, verbatim.
func (c *command) Print(ctx context.Context, w io.Writer, f PrintFlags) error {
	var (
		text string
		err  error
	)
	switch {
	case f.DebugLog:
		text, err = readDebugLog(f.Name, f.Tail)
	case c.s.remote():
		text, err = c.s.api.Output(ctx, f.Name, f.Tail)
	default:
		var fl *xchainctl.Fleet
		if fl, err = c.s.local(); err == nil {
			text, err = fl.CaptureOutput(ctx, f.Name, f.Tail)
		}
	}
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

func readDebugLog(name string, tail int) (string, error) {
	dir := os.Getenv(DebugDirEnv)
	if dir == "" {
		return "", fmt.Errorf("%s is not set", DebugDirEnv)
	}
	p := filepath.Join(dir, name, "debug.log")
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("debug log of %s: %w", name, err)
	}
	return fleet.ReadTail(p, tail)
}

// Start launches a node and prints its registry entry.
func (c *command) Start(ctx context.Context, w io.Writer, f StartFlags) error {
	if c.s.remote() {
		info, err := c.s.api.StartServer(ctx, client.StartRequest{
			Name: f.Name, Kind: f.Kind, Exe: f.Exe, Config: f.Conf,
			WSIP: f.WSIP, WSPort: f.WSPort, HTTPIP: f.HTTPIP, HTTPPort: f.HTTPPort,
			IP: f.IP, RPCPort: f.RPCPort,
		})
		if err != nil {
			return err
		}
		printJSON(w, info)
		return nil
	}
	spec, err := specFromFlags(f)
	if err != nil {
		return err
	}
	fl, err := c.s.local()
	if err != nil {
		return err
	}
	rec, err := fl.Start(ctx, spec)
	if err != nil {
		return err
	}
	printJSON(w, infoFromRecord(rec, xchainctl.Alive.String()))
	return nil
}

func specFromFlags(f StartFlags) (xchainctl.ServerRecord, error) {
	kind, err := xchainctl.ParseKind(f.Kind)
	if err != nil {
		return xchainctl.ServerRecord{}, err
	}
	if kind == xchainctl.KindWitness {
		return xchainctl.NewWitness(f.Name, f.Exe, f.Conf, xchainctl.WitnessEndpoints{IP: f.IP, RPCPort: f.RPCPort})
	}
	return xchainctl.NewChain(f.Name, f.Exe, f.Conf, xchainctl.ChainEndpoints{
		WSIP: f.WSIP, WSPort: f.WSPort, HTTPIP: f.HTTPIP, HTTPPort: f.HTTPPort,
	})
}

// Stop stops one node or all of them. A node that was already gone is reported
// on errOut and is not a failure.
func (c *command) Stop(ctx context.Context, w, errOut io.Writer, f StopFlags) error {
	if _, err := xchainctl.ParseSignal(f.Signal); err != nil {
		return err
	}
	if f.All {
		return c.stopAll(ctx, w, f.Signal)
	}
	already, err := c.stopOne(ctx, f.Name, f.Signal)
	if err != nil {
		return err
	}
	if already {
		_, _ = fmt.Fprintf(errOut, "%s: already stopped\n", f.Name)
	}
	_, _ = fmt.Fprintln(w, f.Name)
	return nil
}

func (c *command) stopOne(ctx context.Context, name, signal string) (alreadyStopped bool, err error) {
	if c.s.remote() {
		resp, err := c.s.api.StopServer(ctx, name, signal)
		return resp.AlreadyStopped, err
	}
	sig, _ := xchainctl.ParseSignal(signal)
	fl, err := c.s.local()
	if err != nil {
		return false, err
	}
	err = fl.Stop(ctx, name, sig)
	if errors.Is(err, xchainctl.ErrAlreadyStopped) {
		return true, nil
	}
	return false, err
}

func (c *command) stopAll(ctx context.Context, w io.Writer, signal string) error {
	if !c.s.remote() {
		sig, _ := xchainctl.ParseSignal(signal)
		fl, err := c.s.local()
		if err != nil {
			return err
		}
		stopped, err := fl.StopAll(ctx, sig)
		for _, n := range stopped {
			_, _ = fmt.Fprintln(w, n)
		}
		return err
	}
	infos, err := c.s.api.ListServers(ctx, "")
	if err != nil {
		return err
	}
	var errs []error
	for _, info := range infos {
		if _, err := c.stopOne(ctx, info.Name, signal); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", info.Name, err))
			continue
		}
		_, _ = fmt.Fprintln(w, info.Name)
	}
	return errors.Join(errs...)
}

// Restart restarts one node or all of them and prints the new pids.
func (c *command) Restart(ctx context.Context, w io.Writer, f RestartFlags) error {
	if f.All {
		return c.restartAll(ctx, w)
	}
	info, err := c.restartOne(ctx, f.Name)
	if err != nil {
		return err
	}
	printRestarted(w, info)
	return nil
}

func (c *command) restartOne(ctx context.Context, name string) (client.ServerInfo, error) {
	if c.s.remote() {
		return c.s.api.RestartServer(ctx, name)
	}
	fl, err := c.s.local()
	if err != nil {
		return client.ServerInfo{}, err
	}
	rec, err := fl.Restart(ctx, name)
	if err != nil {
		return client.ServerInfo{}, err
	}
	return infoFromRecord(rec, xchainctl.Alive.String()), nil
}

func (c *command) restartAll(ctx context.Context, w io.Writer) error {
	if !c.s.remote() {
		fl, err := c.s.local()
		if err != nil {
			return err
		}
		recs, err := fl.RestartAll(ctx)
		for _, rec := range recs {
			printRestarted(w, infoFromRecord(rec, xchainctl.Alive.String()))
		}
		return err
	}
	infos, err := c.s.api.ListServers(ctx, "")
	if err != nil {
		return err
	}
	var errs []error
	for _, info := range infos {
		ni, err := c.s.api.RestartServer(ctx, info.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("restart %s: %w", info.Name, err))
			continue
		}
		printRestarted(w, ni)
	}
	return errors.Join(errs...)
}

func printRestarted(w io.Writer, info client.ServerInfo) {
	_, _ = fmt.Fprintf(w, "%s\t%d\n", info.Name, info.PID)
}

// Request relays an admin RPC and prints the node's JSON response unchanged.
func (c *command) Request(ctx context.Context, w io.Writer, f RequestFlags) error {
	// params are relayed byte for byte
	var params any
	if f.Params != "" {
		if !json.Valid([]byte(f.Params)) {
			return errors.New("invalid PARAMS_JSON")
		}
		params = json.RawMessage(f.Params)
	}

	var raw []byte
	if c.s.remote() {
		req := client.RPCRequest{Method: f.Method}
		if f.Params != "" {
			req.Params = json.RawMessage(f.Params)
		}
		if f.WS {
			req.Transport = "ws"
		}
		out, err := c.s.api.Request(ctx, f.Name, req)
		if err != nil {
			return err
		}
		raw = out
	} else {
		fl, err := c.s.local()
		if err != nil {
			return err
		}
		var resp xchainctl.Response
		if f.WS {
			resp, err = fl.RequestWS(ctx, f.Name, f.Method, params)
		} else {
			resp, err = fl.Request(ctx, f.Name, f.Method, params)
		}
		if err != nil {
			return err
		}
		raw = resp.Raw
	}
	_, err := fmt.Fprintln(w, string(raw))
	return err
}

// Prune drops registry entries of terminated processes and prints their names.
func (c *command) Prune(ctx context.Context, w io.Writer) error {
	var (
		removed []string
		err     error
	)
	if c.s.remote() {
		removed, err = c.s.api.Prune(ctx)
	} else {
		var fl *xchainctl.Fleet
		if fl, err = c.s.local(); err == nil {
			removed, err = fl.Prune(ctx)
		}
	}
	for _, n := range removed {
		_, _ = fmt.Fprintln(w, n)
	}
	return err
}

func infoFromRecord(rec xchainctl.ServerRecord, state string) client.ServerInfo {
	info := client.ServerInfo{
		Name:      rec.Name,
		Kind:      rec.Kind.String(),
		PID:       rec.PID,
		Exe:       rec.Exe,
		Config:    rec.Config,
		State:     state,
		StartedAt: rec.StartedAt,
		Log:       rec.LogPath,
	}
	if rec.Chain != nil {
		info.WSIP, info.WSPort = rec.Chain.WSIP, rec.Chain.WSPort
		info.HTTPIP, info.HTTPPort = rec.Chain.HTTPIP, rec.Chain.HTTPPort
	}
	if rec.Witness != nil {
		info.IP, info.RPCPort = rec.Witness.IP, rec.Witness.RPCPort
	}
	return info
}
