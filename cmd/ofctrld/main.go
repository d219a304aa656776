/***
Copyright 2014 Cisco Systems Inc. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// ofctrld is the thin daemon shell around pkg/ofctrl: it owns the
// connection target, the logging setup and the periodic run/put loop
// that the core itself stays deliberately ignorant of. It also runs an
// optional demo producer so the core can be exercised end to end
// without a real flow compiler sitting upstream of it.
package main

import (
	"flag"
	"fmt"
	"log/syslog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"

	"github.com/cabmario/ofctrl-agent/pkg/ofctrl"
)

// cliOpts mirrors netplugin/netd.go's flat flags-into-a-struct shape.
type cliOpts struct {
	bridge  string
	rundir  string
	debug   bool
	syslog  string
	jsonLog bool
	demo    bool
	version bool
}

const versionString = "ofctrld version 0.1.0\n"

func main() {
	var opts cliOpts

	flagSet := flag.NewFlagSet("ofctrld", flag.ExitOnError)
	flagSet.StringVar(&opts.bridge, "bridge", "", "name of the bridge to control, e.g. br-int")
	flagSet.StringVar(&opts.rundir, "rundir", "/var/run/openvswitch", "directory containing the bridge's management socket")
	flagSet.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flagSet.StringVar(&opts.syslog, "syslog", "", "log to syslog at proto://ip:port -- use 'kernel' to log via kernel syslog")
	flagSet.BoolVar(&opts.jsonLog, "json-log", false, "format logs as JSON")
	flagSet.BoolVar(&opts.demo, "demo-producer", false, "run a built-in demo flow producer instead of waiting on a real one")
	flagSet.BoolVar(&opts.version, "version", false, "show version")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse command line. Error: %s", err)
	}

	if opts.version {
		fmt.Print(versionString)
		os.Exit(0)
	}

	configureLogging(opts)

	if opts.bridge == "" {
		log.Fatalf("-bridge is required")
	}
	target := fmt.Sprintf("unix:%s/%s.mgmt", opts.rundir, opts.bridge)

	controller := ofctrl.NewController(ofctrl.GeneveOption{Class: 0x0102, Type: 0x80, Len: 4})
	controller.Init()
	defer controller.Destroy()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// demoCh stays nil (and so never becomes select-ready) unless
	// -demo-producer was passed, which is exactly the "disabled" state
	// we want: runLoop is the only goroutine allowed to touch controller.
	var demoCh chan demoFlow
	if opts.demo {
		demoCh = make(chan demoFlow, 1)
		go runDemoProducer(demoCh)
	}

	log.Infof("ofctrld starting, controlling %s", target)
	runLoop(controller, target, sigCh, demoCh)
}

// configureLogging sets up the standard logrus logger exactly the way
// netplugin/netd.go does: debug level toggled by a flag, a choice
// between the text and JSON formatters, and an optional syslog hook.
// pkg/ofctrl logs through this same standard logger by default (see
// SetLogger), so nothing further needs wiring for the core's own log
// lines to pick this up.
func configureLogging(opts cliOpts) {
	if opts.debug {
		log.SetLevel(log.DebugLevel)
	}

	if opts.jsonLog {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.StampNano})
	}

	if opts.syslog != "" {
		configureSyslog(opts.syslog)
	}
}

func configureSyslog(syslogParam string) {
	var hook log.Hook
	var err error

	if tf, ok := log.StandardLogger().Formatter.(*log.TextFormatter); ok {
		tf.DisableColors = true
	}

	if syslogParam == "kernel" {
		hook, err = logrus_syslog.NewSyslogHook("", "", syslog.LOG_INFO, "ofctrld")
		if err != nil {
			log.Fatalf("could not connect to kernel syslog")
		}
	} else {
		u, perr := url.Parse(syslogParam)
		if perr != nil {
			log.Fatalf("could not parse syslog spec: %v", perr)
		}
		hook, err = logrus_syslog.NewSyslogHook(u.Scheme, u.Host, syslog.LOG_INFO, "ofctrld")
		if err != nil {
			log.Fatalf("could not connect to syslog: %v", err)
		}
	}

	log.AddHook(hook)
}

// runLoop is C0: the periodic driver spec.md describes informally as
// "a periodic driver calls run(...) then calls put(...)". A tick rate
// of one second is plenty for a control channel that reconciles desired
// state rather than forwarding packets itself. It is also the only
// goroutine that ever touches controller, demoCh included: FlowStore is
// documented as unsafe for concurrent use and GroupStore has no locking
// either, so
// runDemoProducer hands over plain data here instead of calling
// controller methods itself.
func runLoop(controller *ofctrl.Controller, target string, sigCh chan os.Signal, demoCh <-chan demoFlow) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("ofctrld shutting down")
			controller.Run("")
			return
		case <-ticker.C:
			controller.Run(target)
			controller.Put()
		case d := <-demoCh:
			controller.Groups().InsertDesired(d.groupID, d.groupSpec)
			controller.SetFlow(d.tableID, d.priority, d.match, d.actions, d.owner)
		}
	}
}

// demoFlow is one update the demo producer hands to runLoop. It carries
// only plain data (an already-encoded action list, not a live
// *ofctrl.Controller reference), so building one never touches state
// runLoop itself owns.
type demoFlow struct {
	groupID   uint32
	groupSpec string
	tableID   uint8
	priority  uint16
	match     ofctrl.Match
	actions   []byte
	owner     uuid.UUID
}

// runDemoProducer stands in for "the enclosing agent" spec.md declares
// out of scope: it periodically computes a flow and a group update and
// hands them to runLoop over updates, so the reconciler has something to
// converge without a real flow compiler sitting upstream of this daemon.
func runDemoProducer(updates chan<- demoFlow) {
	owner := uuid.New()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		actions, err := ofctrl.EncodeActions([]string{"group:0"})
		if err != nil {
			log.WithError(err).Warn("demo producer failed to encode actions")
			continue
		}

		updates <- demoFlow{
			groupID:   0,
			groupSpec: "group_id=0,type=select,bucket=weight:50,output:1,bucket=weight:50,output:2",
			tableID:   0,
			priority:  100,
			match:     ofctrl.Match{{Class: 0x8000, Field: 0, Value: []byte{0, 0, 0, 1}}},
			actions:   actions,
			owner:     owner,
		}
	}
}
