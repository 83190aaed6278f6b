// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service a directory advertises on the LAN.
const ServiceType = "_easel-discovery._tcp"

const mdnsDomain = "local."

// Advertise publishes the directory listening on port until ctx is
// cancelled.
func Advertise(ctx context.Context, instance string, port int, logger *slog.Logger) error {
	server, err := zeroconf.Register(instance, ServiceType, mdnsDomain, port, []string{"proto=line/1"}, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}
	logger.Info("advertising discovery over mDNS", "instance", instance, "service", ServiceType, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// ErrNoDirectory is returned by Browse when nothing answered in time.
var ErrNoDirectory = errors.New("no discovery service advertised on the local network")

// Browse returns the host:port of the first directory advertised on
// the LAN, giving up when ctx ends.
func Browse(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("creating mDNS resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("browsing for %s: %w", ServiceType, err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoDirectory
			}
			if address := entryAddress(entry); address != "" {
				return address, nil
			}
		case <-ctx.Done():
			return "", ErrNoDirectory
		}
	}
}

func entryAddress(entry *zeroconf.ServiceEntry) string {
	port := strconv.Itoa(entry.Port)
	switch {
	case len(entry.AddrIPv4) > 0:
		return net.JoinHostPort(entry.AddrIPv4[0].String(), port)
	case len(entry.AddrIPv6) > 0:
		return net.JoinHostPort(entry.AddrIPv6[0].String(), port)
	}
	return ""
}
