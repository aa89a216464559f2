// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	httplib "net/http"
	"os"
	"os/signal"

	"github.com/GoogleCloudPlatform/esagent/builder"
	"github.com/GoogleCloudPlatform/esagent/config"
	"github.com/GoogleCloudPlatform/esagent/http"
	"github.com/GoogleCloudPlatform/esagent/source"
	"github.com/GoogleCloudPlatform/esagent/stats"
	"github.com/golang/glog"
)

var configPath = flag.String("config", "", "configuration file")
var inputPath = flag.String("input", "-", "newline-delimited JSON input file, or - for stdin")
var localPort = flag.Int("local-port", 0, "local HTTP daemon port")
var noHttp = flag.Bool("no-http", false, "do not start the HTTP daemon")

// main is the entry point to the standalone agent. It builds the delivery pipeline from the config
// file specified using the --config flag, starts the http interface, and indexes the records read
// from --input. The end of the input or SIGINT will initiate a graceful shutdown.
func main() {
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "configuration file must be specified")
		flag.Usage()
		os.Exit(2)
	}

	if *localPort <= 0 && !*noHttp {
		fmt.Fprintln(os.Stderr, "local-port must be > 0 (or use --no-http)")
		flag.Usage()
		os.Exit(2)
	}

	cfg := loadConfig(*configPath)
	input := openInput(*inputPath)
	defer input.Close()

	recorder := stats.NewBasic()
	agent, err := builder.Build(cfg, recorder)
	if err != nil {
		exitf("startup: %+v", err)
	}

	var rest *http.HttpInterface
	if !*noHttp {
		rest = http.NewHttpInterface(agent.Sink, *localPort)
		if err := rest.Start(func(err error) {
			// Process async http errors (which may be an immediate port in use error).
			if err != httplib.ErrServerClosed {
				exitf("http: %+v", err)
			}
		}); err != nil {
			exitf("startup: %+v", err)
		}
		infof("Listening locally on port %v", *localPort)
	} else {
		infof("Not starting HTTP daemon")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		result, err := source.New(input, agent.Mapper, agent.Sink).Run(ctx)
		infof("Read %v records (%v skipped)", result.Records, result.Skipped)
		done <- err
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	select {
	case err := <-done:
		if err != nil {
			glog.Warningf("input: %+v", err)
		}
		if err := agent.Sink.Finish(); err != nil {
			glog.Warningf("end of input: %+v", err)
		}
	case <-c:
		cancel()
	}

	infof("Shutting down...")
	if rest != nil {
		rest.Shutdown()
	}
	if err := agent.Sink.Close(); err != nil {
		glog.Warningf("shutdown: %+v", err)
	}
	snap := recorder.Snapshot()
	infof("Inserted %v documents (%v failed, %v failed requests, %v reconnections)",
		snap.Inserts, snap.FailedDocuments, snap.FailedRequests, snap.Reconnections)
	glog.Flush()
}

// infof prints a message to stdout and also logs it to the INFO log.
func infof(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	glog.Info(msg)
}

// exitf prints a message to stderr, logs it to the FATAL log, and exits.
func exitf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	glog.Exit(msg)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		exitf("invalid configuration file: %+v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitf("invalid configuration file: %+v", err)
	}
	return cfg
}

func openInput(path string) io.ReadCloser {
	if path == "-" {
		return os.Stdin
	}
	f, err := os.Open(path)
	if err != nil {
		exitf("input: %+v", err)
	}
	return f
}
