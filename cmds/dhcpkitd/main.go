// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/corinnepritchard/dhcpkit/config"
	"github.com/corinnepritchard/dhcpkit/extensions"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/internal/dynhandlers"
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/server"

	hl_dns "github.com/corinnepritchard/dhcpkit/handlers/dns"
	hl_ignore "github.com/corinnepritchard/dhcpkit/handlers/ignore"
	hl_interfaceid "github.com/corinnepritchard/dhcpkit/handlers/interfaceid"
	hl_leasedb "github.com/corinnepritchard/dhcpkit/handlers/leasedb"
	hl_prefix "github.com/corinnepritchard/dhcpkit/handlers/prefix"
	hl_unicast "github.com/corinnepritchard/dhcpkit/handlers/unicast"
	"github.com/corinnepritchard/dhcpkit/handlers/ratelimit"
)

var (
	flagLogFile     = flag.String("logfile", "", "Name of the log file to append to. Default: stdout/stderr only")
	flagLogNoStdout = flag.Bool("nostdout", false, "Disable logging to stdout/stderr")
	flagLogLevel    = flag.String("loglevel", "info", fmt.Sprintf("Log level. One of %v", logger.Levels()))
	flagConfig      = flag.String("conf", "", "Use this configuration file instead of the default location")
	flagWatch       = flag.Bool("watch", false, "Reload when the configuration file changes")
	flagDynamicDir  = flag.String("dynamic-handlers", "", "Directory to load dynamic handlers from")
	flagRateLimit   = flag.Int("ratelimit", 0, "Per-client requests per second, 0 disables rate limiting")
	flagHandlers    = flag.Bool("handlers", false, "list registered handlers")
)

var desiredHandlers = []*handlers.Factory{
	&hl_dns.ServersFactory,
	&hl_dns.SearchListFactory,
	&hl_ignore.Factory,
	&hl_interfaceid.Factory,
	&hl_leasedb.Factory,
	&hl_prefix.Factory,
	&hl_unicast.Factory,
}

func main() {
	flag.Parse()

	if *flagHandlers {
		for _, f := range desiredHandlers {
			fmt.Println(f.Name)
		}
		os.Exit(0)
	}

	log := logger.GetLogger("main")
	if err := logger.SetLevel(log, *flagLogLevel); err != nil {
		log.Fatal(err)
	}
	log.Infof("Setting log level to '%s'", *flagLogLevel)
	if *flagLogFile != "" {
		log.Infof("Logging to file %s", *flagLogFile)
		logger.WithFile(log, *flagLogFile)
	}
	if *flagLogNoStdout {
		log.Infof("Disabling logging to stdout/stderr")
		logger.WithNoStdOutErr(log)
	}

	conf, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// register handlers
	for _, f := range desiredHandlers {
		if err := handlers.Register(f); err != nil {
			log.Fatalf("Failed to register handler '%s': %v", f.Name, err)
		}
	}

	// handlers named in the config but not built in may exist as
	// shared objects
	if *flagDynamicDir != "" {
		for _, name := range conf.Server6.HandlerNames() {
			if handlers.IsRegistered(name) {
				continue
			}
			if err := dynhandlers.LoadDynamic(*flagDynamicDir, name); err != nil {
				log.Fatalf("Failed to load dynamic handler '%s': %v", name, err)
			}
		}
	}

	// register extensions; these run around the configured tree
	if *flagRateLimit > 0 {
		ext, err := ratelimit.NewExtension(*flagRateLimit, 8192)
		if err != nil {
			log.Fatalf("Failed to set up rate limiting: %v", err)
		}
		extensions.Register("ratelimit", ext)
	}

	// start server
	srv, err := server.Start(conf)
	if err != nil {
		log.Fatal(err)
	}

	if *flagWatch && *flagConfig != "" {
		stop, err := config.Watch(*flagConfig, srv.Reload)
		if err != nil {
			log.Fatalf("Failed to watch configuration file: %v", err)
		}
		defer stop()
	}

	if err := srv.Wait(); err != nil {
		log.Print(err)
	}
}
