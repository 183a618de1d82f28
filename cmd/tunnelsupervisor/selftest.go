package main

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/websoft9/tunnelsupervisor/internal/alerts"
	"github.com/websoft9/tunnelsupervisor/internal/config"
	"github.com/websoft9/tunnelsupervisor/internal/tunnel"
)

// selfTestMessage is sent by --test_smtp and --test_http so the operator can
// confirm an alert actually arrives, not just that the backend accepted it.
const selfTestMessage = "This is a test alert from tunnelsupervisor's self-test CLI."

// The four self-test subcommands exit 1/2/3/4 on failure and 0 on success
// (spec.md §6) — distinct codes so a wrapper script can tell which check
// failed without parsing output.

func runSelfTestSMTP(top *config.TopLevelConfig) int {
	if top.SMTP.Host == "" {
		color.Red("smtp is not configured (no smtp_hostname in %s)", top.Path)
		return 1
	}
	sender, err := alerts.NewSMTPSender(top.TunnelManagerID, top.SMTP.Host, top.SMTP.Port,
		top.SMTP.Login, top.SMTP.Password, top.SMTP.To, top.SMTP.From, top.SMTP.Security)
	if err != nil {
		color.Red("smtp sender misconfigured: %v", err)
		return 1
	}
	if err := sender.SendAlert(top.TunnelManagerID, selfTestMessage); err != nil {
		color.Red("smtp test alert failed: %v", err)
		return 1
	}
	color.Green("smtp test alert sent to %s via %s", top.SMTP.To, top.SMTP.Host)
	return 0
}

func runSelfTestHTTP(top *config.TopLevelConfig) int {
	if top.HTTP.URL == "" {
		color.Red("http alerting is not configured (no http_url in %s)", top.Path)
		return 2
	}
	sender := alerts.NewHTTPSender(top.TunnelManagerID, top.HTTP.URL, top.HTTP.User, top.HTTP.Password)
	if err := sender.SendAlert(top.TunnelManagerID, selfTestMessage); err != nil {
		color.Red("http test alert failed: %v", err)
		return 2
	}
	color.Green("http test alert posted to %s", top.HTTP.URL)
	return 0
}

func runSelfTestConnections(descriptors []*config.Descriptor) int {
	if len(descriptors) == 0 {
		color.Yellow("no tunnels configured, nothing to check")
		return 0
	}
	allOK := true
	for _, d := range descriptors {
		if status := tunnel.CheckConnection(d.LocalHost, d.LocalPort); status == "ok" {
			color.Green("%s: %s:%d reachable", d.Name, d.LocalHost, d.LocalPort)
		} else {
			color.Red("%s: %s:%d unreachable", d.Name, d.LocalHost, d.LocalPort)
			allOK = false
		}
	}
	color.Cyan("checked %s tunnel(s)", humanize.Comma(int64(len(descriptors))))
	if !allOK {
		return 3
	}
	return 0
}

func runSelfTestTunnels(descriptors []*config.Descriptor) int {
	if len(descriptors) == 0 {
		color.Yellow("no tunnels configured, nothing to check")
		return 0
	}
	ctx := context.Background()
	allOK := true
	for _, d := range descriptors {
		client, err := tunnel.DialDescriptor(ctx, d)
		if err != nil {
			color.Red("%s: ssh handshake to %s:%d failed: %v", d.Name, d.ServerHost, d.ServerPort, err)
			allOK = false
			continue
		}
		_ = client.Close()
		color.Green("%s: ssh handshake to %s@%s:%d succeeded", d.Name, d.Username, d.ServerHost, d.ServerPort)
	}
	if !allOK {
		return 4
	}
	return 0
}
