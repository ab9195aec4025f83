package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/loykin/xchainctl/pkg/client"
)

var (
	chainHeader   = []string{"name", "pid", "exe", "config", "ws_ip", "ws_port", "http_ip", "http_port"}
	witnessHeader = []string{"name", "pid", "exe", "config", "ip", "rpc_port"}
)

// renderFleet prints a "Chains:" and a "Witnesses:" section, each a table
// followed by a blank line. kind limits the output to one section.
func renderFleet(w io.Writer, infos []client.ServerInfo, kind string) error {
	var chains, witnesses [][]string
	for _, in := range infos {
		switch in.Kind {
		case "chain":
			chains = append(chains, []string{
				in.Name, strconv.Itoa(in.PID), in.Exe, in.Config,
				in.WSIP, strconv.Itoa(in.WSPort), in.HTTPIP, strconv.Itoa(in.HTTPPort),
			})
		case "witness":
			witnesses = append(witnesses, []string{
				in.Name, strconv.Itoa(in.PID), in.Exe, in.Config,
				in.IP, strconv.Itoa(in.RPCPort),
			})
		}
	}
	if kind == "" || kind == "chain" {
		if err := renderSection(w, "Chains:", chainHeader, chains); err != nil {
			return err
		}
	}
	if kind == "" || kind == "witness" {
		if err := renderSection(w, "Witnesses:", witnessHeader, witnesses); err != nil {
			return err
		}
	}
	return nil
}

func renderSection(w io.Writer, title string, header []string, rows [][]string) error {
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Symbols: tw.NewSymbols(tw.StyleASCII),
			Settings: tw.Settings{
				Separators: tw.Separators{BetweenColumns: tw.On},
				Lines:      tw.Lines{ShowHeaderLine: tw.On},
			},
		})),
		tablewriter.WithHeaderAutoFormat(tw.Off),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
	)
	cols := make([]any, len(header))
	for i, h := range header {
		cols[i] = h
	}
	table.Header(cols...)
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
